package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"kb-tracker/pkg/utils"
)

// RateLimiter 按 IP 记录认证失败次数，达到上限后锁定一段时间
type RateLimiter struct {
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	attempts    map[string]*attemptInfo
	maxAttempts int
	lockTime    time.Duration
	now         func() time.Time
}

type attemptInfo struct {
	count    int
	firstAt  time.Time
	lockedAt time.Time
}

// NewRateLimiter 创建限流器并启动后台清理
func NewRateLimiter(maxAttempts int, lockTime time.Duration) *RateLimiter {
	rl := newRateLimiter(maxAttempts, lockTime, time.Now)
	go rl.cleanupLoop()
	return rl
}

func newRateLimiter(maxAttempts int, lockTime time.Duration, now func() time.Time) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	return &RateLimiter{
		ctx:         ctx,
		cancel:      cancel,
		attempts:    make(map[string]*attemptInfo),
		maxAttempts: max(1, maxAttempts),
		lockTime:    lockTime,
		now:         now,
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Cleanup 清理过期记录，返回清理数量
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for ip, info := range rl.attempts {
		expired := info.lockedAt.IsZero() && now.Sub(info.firstAt) > 24*time.Hour
		unlocked := !info.lockedAt.IsZero() && now.Sub(info.lockedAt) >= rl.lockTime
		if expired || unlocked {
			delete(rl.attempts, ip)
			removed++
		}
	}
	return removed
}

// Close 停止后台清理
func (rl *RateLimiter) Close() {
	if rl.cancel != nil {
		rl.cancel()
	}
}

// LockRemaining 返回 IP 剩余锁定时间，未锁定时为 0
func (rl *RateLimiter) LockRemaining(ip string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	info, exists := rl.attempts[ip]
	if !exists || info.lockedAt.IsZero() {
		return 0
	}
	elapsed := rl.now().Sub(info.lockedAt)
	if elapsed >= rl.lockTime {
		return 0
	}
	return rl.lockTime - elapsed
}

// IsLocked 检查 IP 是否被锁定
func (rl *RateLimiter) IsLocked(ip string) bool {
	return rl.LockRemaining(ip) > 0
}

// RecordFailure 记录一次失败，返回本次是否触发锁定
func (rl *RateLimiter) RecordFailure(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	info, exists := rl.attempts[ip]
	if !exists || (!info.lockedAt.IsZero() && now.Sub(info.lockedAt) >= rl.lockTime) {
		info = &attemptInfo{firstAt: now}
		rl.attempts[ip] = info
	}

	info.count++
	if info.count >= rl.maxAttempts && info.lockedAt.IsZero() {
		info.lockedAt = now
		return true
	}
	return false
}

// Reset 认证成功后清除记录
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ip)
}

// Remaining 获取剩余尝试次数
func (rl *RateLimiter) Remaining(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	info, exists := rl.attempts[ip]
	if !exists {
		return rl.maxAttempts
	}
	return max(0, rl.maxAttempts-info.count)
}

// RateLimit 拒绝已锁定 IP 的请求
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.GetClientIP(r)
			if remaining := limiter.LockRemaining(ip); remaining > 0 {
				w.Header().Set("Retry-After", formatSeconds(remaining))
				utils.ErrorResponse(w, http.StatusTooManyRequests,
					"请求过于频繁，请稍后再试 ("+remaining.Round(time.Second).String()+")", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
