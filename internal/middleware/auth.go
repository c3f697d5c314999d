package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"kb-tracker/pkg/utils"
)

// ContextKey 上下文键类型
type ContextKey string

const realm = `Basic realm="kb-tracker"`

// AdminAuth 管理接口的 Basic 认证
// 认证失败计入限流器，连续失败达到上限后该 IP 被锁定
func AdminAuth(username, password string, limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.GetClientIP(r)

			user, pass, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", realm)
				utils.ErrorResponse(w, http.StatusUnauthorized, "需要认证", nil)
				return
			}

			if !credentialsMatch(user, pass, username, password) {
				locked := limiter.RecordFailure(ip)
				slog.Warn("管理员认证失败", "ip", ip, "user", user, "locked", locked)
				w.Header().Set("WWW-Authenticate", realm)
				utils.ErrorResponse(w, http.StatusUnauthorized,
					"用户名或密码错误，剩余尝试次数: "+strconv.Itoa(limiter.Remaining(ip)), nil)
				return
			}

			limiter.Reset(ip)
			next.ServeHTTP(w, r)
		}))
	}
}

func credentialsMatch(user, pass, wantUser, wantPass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(wantPass)) == 1
	return userOK && passOK
}

func formatSeconds(d time.Duration) string {
	return strconv.Itoa(int(d.Round(time.Second) / time.Second))
}
