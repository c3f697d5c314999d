package handler

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	tapReadTimeout  = 60 * time.Second
	tapPingInterval = 30 * time.Second
	tapWriteTimeout = 10 * time.Second
)

// 请求在升级前已通过 TapAuth 认证，扩展页面的 Origin 不固定，这里不再校验
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TapHandler 接收浏览器扩展转发的原始帧
// 连接只读，每条文本消息是一个原始帧，查询参数 player 作为本地玩家提示
type TapHandler struct {
	Ingestor *Ingestor

	connections atomic.Int64
}

// Connections 当前连接数
func (h *TapHandler) Connections() int64 {
	return h.connections.Load()
}

// ServeHTTP 处理 GET /tap
func (h *TapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hint := r.URL.Query().Get("player")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket升级失败", "error", err)
		return
	}
	defer func(conn *websocket.Conn) { _ = conn.Close() }(conn)

	connID := uuid.NewString()
	log := slog.With("conn", connID)

	conn.SetReadLimit(maxFrameSize)
	if err := conn.SetReadDeadline(time.Now().Add(tapReadTimeout)); err != nil {
		log.Error("设置读取超时失败", "error", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(tapReadTimeout))
	})

	h.connections.Add(1)
	defer h.connections.Add(-1)
	log.Info("采集连接已建立", "player", hint, "ip", r.RemoteAddr)

	// 心跳，控制帧写入与读循环并发，需要单独加锁
	var writeMu sync.Mutex
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(tapPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(tapWriteTimeout))
				writeMu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	games := make(map[string]struct{})
	frames := 0
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("采集连接读取错误", "error", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		// 任何消息都视为存活
		_ = conn.SetReadDeadline(time.Now().Add(tapReadTimeout))

		frames++
		if gameID := h.Ingestor.Ingest(string(message), hint); gameID != "" {
			if _, seen := games[gameID]; !seen {
				games[gameID] = struct{}{}
				log.Info("采集到新对局", "gameId", gameID)
			}
		}
	}

	log.Info("采集连接已关闭", "frames", frames, "games", len(games))
}
