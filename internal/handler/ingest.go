package handler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"kb-tracker/internal/protocol"
)

// maxFrameSize 单个帧的最大长度，对局快照可能较大
const maxFrameSize = 8 << 20

// StateSink 接收解析出的对局快照
type StateSink interface {
	Ingest(gs *protocol.GameState) bool
}

// IngestStats 帧处理计数
type IngestStats struct {
	Frames     int64 `json:"frames"`
	GameStates int64 `json:"gameStates"`
	Ignored    int64 `json:"ignored"`
	Malformed  int64 `json:"malformed"`
	Completed  int64 `json:"completed"`
}

// Ingestor 原始帧 → 帧解析 → 快照提取 → 注册表
// WebSocket 入口和离线回放共用同一个实例
type Ingestor struct {
	sink StateSink
	log  *slog.Logger

	frames     atomic.Int64
	gameStates atomic.Int64
	ignored    atomic.Int64
	malformed  atomic.Int64
	completed  atomic.Int64
}

// NewIngestor 创建帧处理器
func NewIngestor(sink StateSink, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{sink: sink, log: log}
}

// Ingest 处理一个原始帧，hint 在快照未携带本地玩家提示时补上
// 返回帧中对局快照所属的对局ID，非快照帧返回空串
func (in *Ingestor) Ingest(raw, hint string) string {
	in.frames.Add(1)

	frame, ok := protocol.ParseFrame(raw)
	if !ok {
		in.malformed.Add(1)
		in.log.Debug("无法解析的帧", "len", len(raw))
		return ""
	}
	if frame.Type != protocol.FrameEvent || frame.Event != protocol.GameStateEvent {
		in.ignored.Add(1)
		return ""
	}

	gs, ok := protocol.ExtractGameState(frame)
	if !ok {
		in.malformed.Add(1)
		in.log.Debug("对局快照缺少必要字段", "namespace", frame.Namespace)
		return ""
	}
	in.gameStates.Add(1)

	if gs.PlayerHint == "" {
		gs.PlayerHint = hint
	}
	if in.sink.Ingest(gs) {
		in.completed.Add(1)
	}
	return gs.ID
}

// IngestReader 逐行读取帧并处理，返回处理的行数
func (in *Ingestor) IngestReader(ctx context.Context, r io.Reader, hint string) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	lines := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return lines, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines++
		in.Ingest(line, hint)
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("读取帧失败(第 %d 行之后): %w", lines, err)
	}
	return lines, nil
}

// Stats 返回帧处理计数
func (in *Ingestor) Stats() IngestStats {
	return IngestStats{
		Frames:     in.frames.Load(),
		GameStates: in.gameStates.Load(),
		Ignored:    in.ignored.Load(),
		Malformed:  in.malformed.Load(),
		Completed:  in.completed.Load(),
	}
}
