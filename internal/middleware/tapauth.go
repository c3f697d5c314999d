package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"kb-tracker/pkg/utils"
)

// TapTokenHeader 采集令牌请求头
const TapTokenHeader = "X-Tap-Token"

// TapAuth 采集入口认证
// 携带有效令牌直接放行，未携带令牌时按管理员 Basic 认证处理
// 浏览器里的 WebSocket 无法设置请求头，令牌也可以放在查询参数 token 中
func TapAuth(token, username, password string, limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		admin := AdminAuth(username, password, limiter)(next)

		return RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := tapToken(r)
			if got == "" {
				admin.ServeHTTP(w, r)
				return
			}

			ip := utils.GetClientIP(r)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				locked := limiter.RecordFailure(ip)
				slog.Warn("采集令牌无效", "ip", ip, "locked", locked)
				utils.ErrorResponse(w, http.StatusUnauthorized, "采集令牌无效", nil)
				return
			}

			limiter.Reset(ip)
			next.ServeHTTP(w, r)
		}))
	}
}

func tapToken(r *http.Request) string {
	if v := r.Header.Get(TapTokenHeader); v != "" {
		return v
	}
	return r.URL.Query().Get("token")
}
