// Package differ 比较相邻两个对局快照，推断出牌、资源、弃牌与抽牌事件
package differ

import (
	"errors"

	"kb-tracker/internal/event"
	"kb-tracker/internal/protocol"
)

// ErrNilSnapshot 快照为空
var ErrNilSnapshot = errors.New("快照为空")

// UnknownCardName 无法还原身份的抽牌使用的显示名
const UnknownCardName = "Unknown"

// Subject 参与差分的玩家
// HandVisible 为 false 时只统计抽牌数量，手牌相关指标无法还原
type Subject struct {
	Key         string
	ID          string
	Name        string
	HandVisible bool
}

// Context 差分上下文，回合号由调用方负责
type Context struct {
	GameID   string
	Round    int
	Subjects []Subject
}

// Unresolved 离开手牌但没有落到任何已知区域的卡牌
type Unresolved struct {
	PlayerKey string
	UUID      string
	CardID    string
}

// Result 差分结果
type Result struct {
	Events     []event.CardEvent
	Unresolved []Unresolved
	// Skipped 缺少区域数据而被跳过的玩家键
	Skipped []string
}

// zoneIndex 按 uuid 索引的区域
type zoneIndex map[string]protocol.Card

func index(piles ...[]protocol.Card) zoneIndex {
	idx := make(zoneIndex)
	for _, pile := range piles {
		for _, c := range pile {
			if c.UUID != "" {
				idx[c.UUID] = c
			}
		}
	}
	return idx
}

func (z zoneIndex) has(uuid string) bool {
	_, ok := z[uuid]
	return ok
}

// appeared 判断 uuid 是否新出现在某区域
func appeared(uuid string, before, after zoneIndex) (protocol.Card, bool) {
	c, ok := after[uuid]
	if !ok || before.has(uuid) {
		return protocol.Card{}, false
	}
	return c, true
}

// Diff 计算 prev 到 next 的事件，纯函数
func Diff(prev, next *protocol.GameState, ctx Context) (Result, error) {
	var result Result
	if prev == nil || next == nil {
		return result, ErrNilSnapshot
	}

	for _, subject := range ctx.Subjects {
		before, after := prev.Players[subject.Key], next.Players[subject.Key]
		if before == nil || after == nil {
			result.Skipped = append(result.Skipped, subject.Key)
			continue
		}

		if subject.HandVisible {
			if !before.HasPiles() || !after.HasPiles() {
				result.Skipped = append(result.Skipped, subject.Key)
				continue
			}
			events, unresolved := diffZones(before, after, ctx, subject)
			result.Events = append(result.Events, events...)
			result.Unresolved = append(result.Unresolved, unresolved...)
		}

		result.Events = append(result.Events, diffDraws(before, after, ctx, subject)...)
	}

	return result, nil
}

// diffZones 推断出牌、资源和弃牌
// 同一 uuid 在一次差分中只会归属一个事件
func diffZones(before, after *protocol.PlayerState, ctx Context, subject Subject) ([]event.CardEvent, []Unresolved) {
	prevHandCards, _ := before.Pile(protocol.ZoneHand)
	nextHandCards, _ := after.Pile(protocol.ZoneHand)
	prevGround, _ := before.Pile(protocol.ZoneGroundArena)
	prevSpace, _ := before.Pile(protocol.ZoneSpaceArena)
	nextGround, _ := after.Pile(protocol.ZoneGroundArena)
	nextSpace, _ := after.Pile(protocol.ZoneSpaceArena)
	prevRes, _ := before.Pile(protocol.ZoneResources)
	nextRes, _ := after.Pile(protocol.ZoneResources)
	prevDiscardCards, _ := before.Pile(protocol.ZoneDiscard)
	nextDiscardCards, _ := after.Pile(protocol.ZoneDiscard)

	nextHand := index(nextHandCards)
	prevArena, nextArena := index(prevGround, prevSpace), index(nextGround, nextSpace)
	prevResources, nextResources := index(prevRes), index(nextRes)
	prevDiscard, nextDiscard := index(prevDiscardCards), index(nextDiscardCards)

	var (
		events     []event.CardEvent
		unresolved []Unresolved
		claimed    = make(map[string]bool)
		leftHand   []protocol.Card
	)

	for _, c := range prevHandCards {
		if c.UUID == "" || nextHand.has(c.UUID) {
			continue
		}
		leftHand = append(leftHand, c)
	}

	// 出牌：先看场上，再看资源区（交给资源统计），最后看弃牌堆（事件牌）
	for _, c := range leftHand {
		if card, ok := appeared(c.UUID, prevArena, nextArena); ok {
			events = append(events, newEvent(ctx, subject, card, event.Played, 1))
			claimed[c.UUID] = true
			continue
		}
		if _, ok := appeared(c.UUID, prevResources, nextResources); ok {
			continue
		}
		if card, ok := appeared(c.UUID, prevDiscard, nextDiscard); ok {
			events = append(events, newEvent(ctx, subject, card, event.Played, 1))
			claimed[c.UUID] = true
			continue
		}
		unresolved = append(unresolved, Unresolved{PlayerKey: subject.Key, UUID: c.UUID, CardID: c.ID})
	}

	// 资源
	for _, c := range leftHand {
		if claimed[c.UUID] {
			continue
		}
		if card, ok := appeared(c.UUID, prevResources, nextResources); ok {
			events = append(events, newEvent(ctx, subject, card, event.Resourced, 1))
			claimed[c.UUID] = true
		}
	}

	// 弃牌：新进入弃牌堆且未被出牌认领
	for _, c := range nextDiscardCards {
		if c.UUID == "" || claimed[c.UUID] || prevDiscard.has(c.UUID) {
			continue
		}
		events = append(events, newEvent(ctx, subject, c, event.Discarded, 1))
		claimed[c.UUID] = true
	}

	return events, unresolved
}

// diffDraws 按牌库减少量计算抽牌，数量总是精确的
// 能识别的新手牌逐张记录，其余合并为一条未知卡牌事件
func diffDraws(before, after *protocol.PlayerState, ctx Context, subject Subject) []event.CardEvent {
	decrease := before.NumCardsInDeck - after.NumCardsInDeck
	if decrease <= 0 {
		return nil
	}

	var known [][]protocol.Card
	for _, pile := range before.CardPiles {
		known = append(known, pile)
	}
	seen := index(known...)

	nextHand, _ := after.Pile(protocol.ZoneHand)
	var events []event.CardEvent
	for _, c := range nextHand {
		if len(events) == decrease {
			break
		}
		if c.UUID == "" || c.Facedown || seen.has(c.UUID) {
			continue
		}
		events = append(events, newEvent(ctx, subject, c, event.Drawn, 1))
	}

	if remainder := decrease - len(events); remainder > 0 {
		unknown := protocol.Card{ID: event.UnknownCardID, Name: UnknownCardName}
		events = append(events, newEvent(ctx, subject, unknown, event.Drawn, remainder))
	}

	return events
}

func newEvent(ctx Context, subject Subject, card protocol.Card, metric event.Metric, count int) event.CardEvent {
	return event.CardEvent{
		GameID:      ctx.GameID,
		RoundNumber: ctx.Round,
		PlayerID:    subject.ID,
		PlayerName:  subject.Name,
		CardID:      card.ID,
		CardName:    card.Name,
		Metric:      metric,
		Count:       count,
	}
}
