// Package logtext 从对局日志中提取能力发动事件
package logtext

import (
	"encoding/json"
	"strings"

	"kb-tracker/internal/event"
	"kb-tracker/internal/protocol"
)

// DefaultKeywords 表示能力发动的关键词
var DefaultKeywords = []string{"activated", "uses", "used", "ability", "epic action"}

// Extractor 基于关键词的日志提取器，尽力而为，不保证完整
type Extractor struct {
	Keywords []string
}

// New 创建提取器，未传入关键词时使用默认关键词
func New(keywords ...string) *Extractor {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			normalized = append(normalized, k)
		}
	}
	return &Extractor{Keywords: normalized}
}

// Part 日志消息片段中的引用对象
type Part struct {
	Type  string          `json:"type,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	UUID  string          `json:"uuid,omitempty"`
	SetID json.RawMessage `json:"setId,omitempty"`
}

// IsPlayer 是否为玩家引用
func (p Part) IsPlayer() bool {
	return p.Type == "player"
}

// IsCard 是否为卡牌引用
func (p Part) IsCard() bool {
	if p.Type == "card" {
		return true
	}
	return p.Type == "" && (p.UUID != "" || len(p.SetID) > 0)
}

// Alert 结构化提示消息
type Alert struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type alertEnvelope struct {
	Alert *Alert `json:"alert"`
}

// ParseAlert 解析提示类日志，非提示（例如玩家聊天）返回 false
func ParseAlert(entry protocol.LogEntry) (*Alert, bool) {
	var env alertEnvelope
	if err := json.Unmarshal(entry.Message, &env); err != nil || env.Alert == nil {
		return nil, false
	}
	if len(env.Alert.Message) == 0 {
		return nil, false
	}
	return env.Alert, true
}

// Extract 扫描日志并为每条命中的提示生成一个 activated 事件
func (e *Extractor) Extract(entries []protocol.LogEntry, meta event.Meta) []event.CardEvent {
	var events []event.CardEvent

	for _, entry := range entries {
		alert, ok := ParseAlert(entry)
		if !ok {
			continue
		}

		var text strings.Builder
		var players, cards []Part
		collect(alert.Message, &text, &players, &cards)

		if len(players) == 0 || len(cards) == 0 {
			continue
		}
		if !e.matches(text.String()) {
			continue
		}

		player, card := players[0], cards[0]
		events = append(events, event.CardEvent{
			GameID:      meta.GameID,
			RoundNumber: meta.Round,
			PlayerID:    player.ID,
			PlayerName:  player.Name,
			CardID:      card.ID,
			CardName:    card.Name,
			Metric:      event.Activated,
			Count:       1,
		})
	}

	return events
}

func (e *Extractor) matches(text string) bool {
	text = normalize(text)
	for _, k := range e.Keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// collect 递归展开消息片段，收集文本以及玩家、卡牌引用
func collect(raw json.RawMessage, text *strings.Builder, players, cards *[]Part) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return
		}
		for _, item := range items {
			collect(item, text, players, cards)
		}
	case '{':
		var part Part
		if err := json.Unmarshal(raw, &part); err != nil {
			return
		}
		text.WriteString(part.Name)
		text.WriteByte(' ')
		switch {
		case part.IsPlayer():
			*players = append(*players, part)
		case part.IsCard():
			*cards = append(*cards, part)
		}
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			text.WriteString(s)
		}
	default:
		// 数字、布尔值
		text.WriteString(trimmed)
	}
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
