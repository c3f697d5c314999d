// Package protocol 提供对局实时帧的解析以及游戏状态快照模型
package protocol

import (
	"encoding/json"
	"sort"
)

// 区域名称（cardPiles 中的键）
const (
	ZoneHand        = "hand"
	ZoneResources   = "resources"
	ZoneGroundArena = "groundArena"
	ZoneSpaceArena  = "spaceArena"
	ZoneDiscard     = "discard"
)

// 阶段名称
const (
	PhaseSetup   = "setup"
	PhaseAction  = "action"
	PhaseRegroup = "regroup"
)

// DefaultBaseHP 基地未声明最大生命值时的默认值
const DefaultBaseHP = 30

// SetID 卡牌所属系列与编号
type SetID struct {
	Set    string `json:"set"`
	Number int    `json:"number"`
}

// Card 卡牌摘要
// UUID 标识同一张实体卡，跨快照稳定；ID 标识卡牌种类
type Card struct {
	UUID     string `json:"uuid"`
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	SetID    *SetID `json:"setId,omitempty"`
	Facedown bool   `json:"facedown,omitempty"`
	Damage   int    `json:"damage,omitempty"`
	HP       int    `json:"hp,omitempty"`
}

// User 玩家账号信息
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// PlayerState 单个玩家的状态
type PlayerState struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	User               *User             `json:"user,omitempty"`
	CardPiles          map[string][]Card `json:"cardPiles"`
	NumCardsInDeck     int               `json:"numCardsInDeck"`
	Base               *Card             `json:"base,omitempty"`
	Leader             *Card             `json:"leader,omitempty"`
	AvailableResources int               `json:"availableResources"`
	HasInitiative      bool              `json:"hasInitiative"`
}

// LogEntry 一条对局日志，Message 保持原始 JSON，由日志解析器自行解释
type LogEntry struct {
	Date    string          `json:"date,omitempty"`
	Message json.RawMessage `json:"message"`
}

// GameState 服务端推送的完整对局快照
type GameState struct {
	ID          string                  `json:"id"`
	Players     map[string]*PlayerState `json:"players"`
	Phase       string                  `json:"phase"`
	NewMessages []LogEntry              `json:"newMessages,omitempty"`
	Winners     []string                `json:"winners"`
	GameMode    string                  `json:"gameMode,omitempty"`
	// PlayerHint 本地玩家提示：可能是玩家键、显示名或内部 ID
	PlayerHint string `json:"playerHint,omitempty"`
}

// PlayerKeys 返回排序后的玩家键
func (g *GameState) PlayerKeys() []string {
	keys := make([]string, 0, len(g.Players))
	for k := range g.Players {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DisplayName 返回玩家显示名
func (p *PlayerState) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.User != nil {
		return p.User.Username
	}
	return ""
}

// InternalID 返回玩家内部 ID
func (p *PlayerState) InternalID() string {
	if p.ID != "" {
		return p.ID
	}
	if p.User != nil {
		return p.User.ID
	}
	return ""
}

// Pile 返回指定区域的卡牌，第二个返回值表示该区域数据是否存在
func (p *PlayerState) Pile(zone string) ([]Card, bool) {
	if p.CardPiles == nil {
		return nil, false
	}
	cards, ok := p.CardPiles[zone]
	return cards, ok
}

// HasPiles 检查差分所需的区域数据是否齐全
func (p *PlayerState) HasPiles() bool {
	for _, zone := range []string{ZoneHand, ZoneResources, ZoneGroundArena, ZoneSpaceArena, ZoneDiscard} {
		if _, ok := p.Pile(zone); !ok {
			return false
		}
	}
	return true
}

// CardCount 返回所有区域加牌库的卡牌总数
func (p *PlayerState) CardCount() int {
	total := p.NumCardsInDeck
	for _, cards := range p.CardPiles {
		total += len(cards)
	}
	return total
}

// BaseHP 计算基地剩余生命值 max(0, hp - damage)
func (p *PlayerState) BaseHP() int {
	if p.Base == nil {
		return DefaultBaseHP
	}
	maxHP := p.Base.HP
	if maxHP <= 0 {
		maxHP = DefaultBaseHP
	}
	return max(0, maxHP-p.Base.Damage)
}
