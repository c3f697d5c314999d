// Package event 定义从对局中推断出的卡牌事件
package event

import "slices"

// Metric 事件指标
type Metric string

const (
	Played    Metric = "played"
	Resourced Metric = "resourced"
	Activated Metric = "activated"
	Drawn     Metric = "drawn"
	Discarded Metric = "discarded"
)

// UnknownCardID 无法还原身份的抽牌使用的占位卡牌 ID
const UnknownCardID = "__unknown__"

// Metrics 返回全部指标
func Metrics() []Metric {
	return []Metric{Played, Resourced, Activated, Drawn, Discarded}
}

// Valid 检查指标是否合法
func (m Metric) Valid() bool {
	return slices.Contains(Metrics(), m)
}

// CardEvent 一次推断出的原子事件
// Count 仅在无法识别的抽牌聚合事件中大于 1
type CardEvent struct {
	GameID      string `json:"gameId"`
	RoundNumber int    `json:"roundNumber"`
	PlayerID    string `json:"playerId"`
	PlayerName  string `json:"playerName"`
	CardID      string `json:"cardId"`
	CardName    string `json:"cardName"`
	Metric      Metric `json:"metric"`
	Count       int    `json:"count"`
}

// Meta 事件归属信息，由调用方提供
type Meta struct {
	GameID string
	Round  int
}
