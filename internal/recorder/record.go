package recorder

import (
	"slices"
	"time"

	"kb-tracker/internal/event"
	"kb-tracker/internal/protocol"
)

// PlayerInfo 对局双方信息
type PlayerInfo struct {
	Key      string `json:"key"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	DeckSize int    `json:"deckSize"`
}

// HPSample 回合中基地生命值变化的采样
type HPSample struct {
	YouHP int `json:"youHp"`
	OppHP int `json:"oppHp"`
}

// ZoneCapture 某一时刻单个玩家的区域快照
type ZoneCapture struct {
	Key                string          `json:"key"`
	Name               string          `json:"name"`
	Hand               []protocol.Card `json:"hand"`
	Resources          []protocol.Card `json:"resources"`
	GroundArena        []protocol.Card `json:"groundArena"`
	SpaceArena         []protocol.Card `json:"spaceArena"`
	Discard            []protocol.Card `json:"discard"`
	DeckCount          int             `json:"deckCount"`
	Base               *protocol.Card  `json:"base,omitempty"`
	Leader             *protocol.Card  `json:"leader,omitempty"`
	BaseHP             int             `json:"baseHp"`
	AvailableResources int             `json:"availableResources"`
	HasInitiative      bool            `json:"hasInitiative"`
}

// RoundSnapshot 回合开始时的快照，日志和生命值变化在下一回合开始或对局结束时补入
type RoundSnapshot struct {
	Round      int                 `json:"round"`
	CapturedAt time.Time           `json:"capturedAt"`
	Phase      string              `json:"phase"`
	Players    [2]ZoneCapture      `json:"players"`
	Logs       []protocol.LogEntry `json:"logs"`
	HPChanges  []HPSample          `json:"hpChanges"`
}

// GameRecord 对局最终记录，创建后不可变
// Players 固定为 [本地玩家, 对手]，Winner 为 nil 表示平局
type GameRecord struct {
	GameID          string              `json:"gameId"`
	StartedAt       time.Time           `json:"startedAt"`
	CompletedAt     time.Time           `json:"completedAt"`
	Format          string              `json:"format"`
	IsLimitedFormat bool                `json:"isLimitedFormat"`
	Players         [2]PlayerInfo       `json:"players"`
	Winner          *string             `json:"winner"`
	Rounds          int                 `json:"rounds"`
	CardEvents      []event.CardEvent   `json:"cardEvents"`
	RawLog          []protocol.LogEntry `json:"rawLog"`
	Snapshots       []RoundSnapshot     `json:"snapshots"`
}

// IsDraw 是否平局
func (g *GameRecord) IsDraw() bool {
	return g.Winner == nil
}

// LocalWon 本地玩家是否获胜
func (g *GameRecord) LocalWon() bool {
	return g.Winner != nil && *g.Winner == g.Players[0].Name
}

func captureZones(info PlayerInfo, p *protocol.PlayerState) ZoneCapture {
	zc := ZoneCapture{Key: info.Key, Name: info.Name}
	if p == nil {
		return zc
	}
	pile := func(zone string) []protocol.Card {
		cards, _ := p.Pile(zone)
		return slices.Clone(cards)
	}
	zc.Hand = pile(protocol.ZoneHand)
	zc.Resources = pile(protocol.ZoneResources)
	zc.GroundArena = pile(protocol.ZoneGroundArena)
	zc.SpaceArena = pile(protocol.ZoneSpaceArena)
	zc.Discard = pile(protocol.ZoneDiscard)
	zc.DeckCount = p.NumCardsInDeck
	zc.Base = cloneCard(p.Base)
	zc.Leader = cloneCard(p.Leader)
	zc.BaseHP = p.BaseHP()
	zc.AvailableResources = p.AvailableResources
	zc.HasInitiative = p.HasInitiative
	return zc
}

func cloneCard(c *protocol.Card) *protocol.Card {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
