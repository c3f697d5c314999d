// Package router 提供 HTTP 路由配置
package router

import (
	"log/slog"
	"net/http"

	"kb-tracker/internal/config"
	"kb-tracker/internal/handler"
	"kb-tracker/internal/middleware"
)

const healthCheckResponse = `{"status":"ok"}`

// Setup 配置所有路由
func Setup(cfg *config.Config, rateLimiter *middleware.RateLimiter, api *handler.API) *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /isalive", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(healthCheckResponse)); err != nil {
			slog.Error("健康检查响应写入失败", "error", err)
		}
	})

	// 帧采集，令牌或管理员认证
	tapAuth := middleware.TapAuth(cfg.TapToken, cfg.AdminUsername, cfg.AdminPassword, rateLimiter)
	mux.Handle("GET /tap", middleware.Logger(tapAuth(api.Tap)))

	admin := middleware.AdminAuth(cfg.AdminUsername, cfg.AdminPassword, rateLimiter)
	protect := func(h http.HandlerFunc) http.Handler {
		return middleware.Logger(admin(h))
	}
	protectGame := func(h http.HandlerFunc) http.Handler {
		return middleware.Logger(admin(middleware.ValidateGameID(h)))
	}

	// 对局记录
	mux.Handle("GET /api/games", protect(api.GetAllGames))
	mux.Handle("DELETE /api/games/batch", protect(api.BatchDeleteGames))
	mux.Handle("GET /api/games/{gameId}", protectGame(api.GetGame))
	mux.Handle("GET /api/games/{gameId}/events", protectGame(api.GetGameEvents))
	mux.Handle("GET /api/games/{gameId}/download", protectGame(api.DownloadGame))
	mux.Handle("DELETE /api/games/{gameId}", protectGame(api.DeleteGame))

	// 统计
	mux.Handle("GET /api/stats", protect(api.GetStats))
	mux.Handle("GET /api/cards/stats", protect(api.GetCardStats))

	// 运行状态
	mux.Handle("GET /api/registry", protect(api.GetRegistry))
	mux.Handle("PUT /api/registry/tracking", protect(api.SetTracking))

	return mux
}
