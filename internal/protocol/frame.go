package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GameStateEvent 携带完整对局快照的事件名
const GameStateEvent = "gamestate"

// 传输层与会话层类型
const (
	transportMessage = '4'
	sessionEvent     = '2'
	sessionAck       = '3'
)

// FrameType 帧类型
type FrameType string

const (
	FrameEvent FrameType = "event"
	FrameAck   FrameType = "ack"
	FrameOther FrameType = "other"
)

// Frame 解析后的帧
type Frame struct {
	Type      FrameType
	Namespace string
	AckID     *int
	Event     string
	Data      []json.RawMessage
}

// ParseFrame 解析一条原始文本帧
// 格式: 传输层类型 + 会话层类型 + 可选命名空间 "/name," + 可选确认 ID + JSON 数组
// 无法识别的会话层类型返回 FrameOther，与解析失败区分
func ParseFrame(raw string) (*Frame, bool) {
	if len(raw) < 2 || raw[0] != transportMessage {
		return nil, false
	}

	session := raw[1]
	if session != sessionEvent && session != sessionAck {
		return &Frame{Type: FrameOther}, true
	}

	rest := raw[2:]
	frame := &Frame{}

	// 命名空间
	if strings.HasPrefix(rest, "/") {
		idx := strings.IndexByte(rest, ',')
		if idx < 0 {
			return nil, false
		}
		frame.Namespace = rest[:idx]
		rest = rest[idx+1:]
	}

	// 确认 ID
	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return nil, false
		}
		frame.AckID = &id
		rest = rest[digits:]
	}

	if !strings.HasPrefix(rest, "[") {
		return nil, false
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &items); err != nil {
		return nil, false
	}

	switch session {
	case sessionEvent:
		if len(items) == 0 {
			return nil, false
		}
		var name string
		if err := json.Unmarshal(items[0], &name); err != nil {
			return nil, false
		}
		frame.Type = FrameEvent
		frame.Event = name
		frame.Data = items[1:]
	case sessionAck:
		frame.Type = FrameAck
		frame.Data = items
	}

	return frame, true
}

// ExtractGameState 从事件帧中提取对局快照
// 只接受名为 gamestate 的事件，且首个数据元素必须带有 id、players 和数组形式的 winners
func ExtractGameState(frame *Frame) (*GameState, bool) {
	if frame == nil || frame.Type != FrameEvent || frame.Event != GameStateEvent || len(frame.Data) == 0 {
		return nil, false
	}

	payload := frame.Data[0]
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return nil, false
	}

	if !present(fields["id"]) || !present(fields["players"]) {
		return nil, false
	}
	var winners []json.RawMessage
	if !present(fields["winners"]) || json.Unmarshal(fields["winners"], &winners) != nil {
		return nil, false
	}

	var state GameState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, false
	}
	if state.ID == "" || state.Players == nil {
		return nil, false
	}
	if state.Winners == nil {
		state.Winners = []string{}
	}

	return &state, true
}

// EncodeEvent 按相同格式编码一条事件帧
func EncodeEvent(event string, payload ...any) (string, error) {
	items := make([]any, 0, len(payload)+1)
	items = append(items, event)
	items = append(items, payload...)

	body, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("编码事件帧失败: %w", err)
	}
	return string([]byte{transportMessage, sessionEvent}) + string(body), nil
}

// present 判断字段存在且不为 null
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
