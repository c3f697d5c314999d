package middleware

import (
	"context"
	"net/http"

	"kb-tracker/pkg/utils"
)

// GameIDKey 对局ID上下文键
const GameIDKey ContextKey = "gameID"

// ValidateGameID 校验路径中的 {gameId}，通过后以标准格式存入上下文
func ValidateGameID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("gameId")
		if raw == "" {
			utils.ErrorResponse(w, http.StatusBadRequest, "缺少对局ID", nil)
			return
		}

		gameID, ok := utils.NormalizeGameID(raw)
		if !ok {
			utils.ErrorResponse(w, http.StatusBadRequest, "无效的对局ID格式", nil)
			return
		}

		ctx := context.WithValue(r.Context(), GameIDKey, gameID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetGameID 从上下文获取对局ID
func GetGameID(r *http.Request) string {
	if v, ok := r.Context().Value(GameIDKey).(string); ok {
		return v
	}
	return ""
}
