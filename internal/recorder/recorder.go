// Package recorder 实现单局对局的记录状态机
package recorder

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"kb-tracker/internal/differ"
	"kb-tracker/internal/event"
	"kb-tracker/internal/logtext"
	"kb-tracker/internal/protocol"
)

// DefaultLimitedDeckSize 较小的起始牌组不超过该值时视为限制赛制
const DefaultLimitedDeckSize = 35

// State 记录器状态
type State int

const (
	AwaitingPlayers State = iota
	Recording
	Finalized
)

func (s State) String() string {
	switch s {
	case AwaitingPlayers:
		return "awaiting_players"
	case Recording:
		return "recording"
	case Finalized:
		return "finalized"
	}
	return "unknown"
}

// CompletionFunc 对局完成回调，记录器不等待其中的异步工作
type CompletionFunc func(GameRecord)

// DiffFunc 差分函数
type DiffFunc func(prev, next *protocol.GameState, ctx differ.Context) (differ.Result, error)

// Options 记录器选项
type Options struct {
	Logger          *slog.Logger
	Extractor       *logtext.Extractor
	Diff            DiffFunc
	Now             func() time.Time
	LimitedDeckSize int
}

// Info 记录器运行概况
type Info struct {
	GameID     string        `json:"gameId"`
	State      string        `json:"state"`
	Round      int           `json:"round"`
	Events     int           `json:"events"`
	Unresolved int           `json:"unresolved"`
	Players    [2]PlayerInfo `json:"players"`
	StartedAt  time.Time     `json:"startedAt"`
}

// Recorder 单局记录器，每个对局 ID 一个实例，完成后不再复用
type Recorder struct {
	mu sync.Mutex

	gameID     string
	state      State
	onComplete CompletionFunc

	log       *slog.Logger
	extractor *logtext.Extractor
	diff      DiffFunc
	now       func() time.Time
	limited   int

	localKey    string
	guessWarned bool
	players     [2]PlayerInfo
	format      string
	isLimited   bool

	round     int
	lastPhase string
	prev      *protocol.GameState
	lastHP    HPSample
	startedAt time.Time

	events     []event.CardEvent
	rawLog     []protocol.LogEntry
	roundLogs  []protocol.LogEntry
	hpChanges  []HPSample
	snapshots  []RoundSnapshot
	unresolved int
}

// New 创建记录器
func New(gameID string, onComplete CompletionFunc, opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Extractor == nil {
		opts.Extractor = logtext.New()
	}
	if opts.Diff == nil {
		opts.Diff = differ.Diff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LimitedDeckSize <= 0 {
		opts.LimitedDeckSize = DefaultLimitedDeckSize
	}

	return &Recorder{
		gameID:     gameID,
		state:      AwaitingPlayers,
		onComplete: onComplete,
		log:        opts.Logger.With("gameId", gameID),
		extractor:  opts.Extractor,
		diff:       opts.Diff,
		now:        opts.Now,
		limited:    opts.LimitedDeckSize,
	}
}

// GameID 返回对局 ID
func (r *Recorder) GameID() string {
	return r.gameID
}

// State 返回当前状态
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Info 返回运行概况
func (r *Recorder) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		GameID:     r.gameID,
		State:      r.state.String(),
		Round:      r.round,
		Events:     len(r.events),
		Unresolved: r.unresolved,
		Players:    r.players,
		StartedAt:  r.startedAt,
	}
}

// Ingest 处理一份快照，返回本次调用后对局是否已经完成
func (r *Recorder) Ingest(gs *protocol.GameState) bool {
	record, done := r.ingest(gs)
	if record != nil {
		r.complete(*record)
	}
	return done
}

func (r *Recorder) ingest(gs *protocol.GameState) (*GameRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Finalized {
		return nil, true
	}
	// 多个对局共用同一输入通道，ID 不匹配直接忽略
	if gs == nil || gs.ID != r.gameID {
		return nil, false
	}
	if r.startedAt.IsZero() {
		r.startedAt = r.now()
	}

	r.resolveLocal(gs)
	r.capturePlayers(gs)
	r.accumulateLogs(gs)

	if r.state == Recording {
		r.trackRound(gs)
		if r.prev != nil {
			r.runDiff(gs)
		}
	}

	r.prev = gs
	r.lastPhase = gs.Phase

	if len(gs.Winners) > 0 && r.state == Recording {
		record := r.finalize(gs)
		return &record, true
	}
	return nil, false
}

// resolveLocal 解析本地玩家，依次匹配玩家键、显示名、内部 ID，首个成功结果生效
func (r *Recorder) resolveLocal(gs *protocol.GameState) {
	if r.localKey != "" {
		return
	}

	hint := gs.PlayerHint
	if hint == "" {
		return
	}

	if p, ok := gs.Players[hint]; ok && p != nil {
		r.localKey = hint
	} else {
		keys := gs.PlayerKeys()
		for _, k := range keys {
			if p := gs.Players[k]; p != nil && p.DisplayName() == hint {
				r.localKey = k
				break
			}
		}
		if r.localKey == "" {
			for _, k := range keys {
				if p := gs.Players[k]; p != nil && p.InternalID() == hint {
					r.localKey = k
					break
				}
			}
		}
	}

	if r.localKey == "" {
		r.log.Debug("本地玩家解析失败，等待下一份快照", "hint", hint, "players", gs.PlayerKeys())
		return
	}
	r.log.Info("本地玩家已解析", "hint", hint, "player", r.localKey)
}

// capturePlayers 记录双方玩家，只执行一次，槽位 0 固定为本地玩家
func (r *Recorder) capturePlayers(gs *protocol.GameState) {
	if r.state != AwaitingPlayers {
		return
	}

	var keys []string
	for _, k := range gs.PlayerKeys() {
		if gs.Players[k] != nil {
			keys = append(keys, k)
		}
	}
	if len(keys) < 2 {
		return
	}

	local := r.localKey
	if local != "" && gs.Players[local] == nil {
		return
	}
	if local == "" {
		// 未提供任何提示时才退回到猜测
		if gs.PlayerHint != "" {
			return
		}
		local = keys[0]
		if !r.guessWarned {
			r.guessWarned = true
			r.log.Warn("缺少本地玩家提示，按玩家键顺序猜测", "player", local)
		}
	}

	var opponent string
	for _, k := range keys {
		if k != local {
			opponent = k
			break
		}
	}

	r.localKey = local
	r.players = [2]PlayerInfo{
		playerInfo(local, gs.Players[local]),
		playerInfo(opponent, gs.Players[opponent]),
	}

	smallest := 0
	for _, p := range r.players {
		if p.DeckSize > 0 && (smallest == 0 || p.DeckSize < smallest) {
			smallest = p.DeckSize
		}
	}
	r.isLimited = smallest > 0 && smallest <= r.limited
	r.format = gs.GameMode
	r.state = Recording

	r.log.Info("对局双方已确定",
		"you", r.players[0].Name,
		"opponent", r.players[1].Name,
		"format", r.format,
		"limited", r.isLimited,
	)
}

func playerInfo(key string, p *protocol.PlayerState) PlayerInfo {
	return PlayerInfo{
		Key:      key,
		ID:       p.InternalID(),
		Name:     p.DisplayName(),
		DeckSize: p.CardCount(),
	}
}

// accumulateLogs 追加日志并立即提取能力发动事件
// 第一回合之前的日志归入第 1 回合
func (r *Recorder) accumulateLogs(gs *protocol.GameState) {
	if len(gs.NewMessages) == 0 {
		return
	}
	r.rawLog = append(r.rawLog, gs.NewMessages...)
	r.roundLogs = append(r.roundLogs, gs.NewMessages...)

	meta := event.Meta{GameID: r.gameID, Round: max(1, r.round)}
	r.events = append(r.events, r.extractor.Extract(gs.NewMessages, meta)...)
}

// trackRound 检测回合边界并采样回合中的基地生命值变化
func (r *Recorder) trackRound(gs *protocol.GameState) {
	if gs.Phase != protocol.PhaseAction {
		return
	}

	// 首个快照已处于行动阶段时（中途接入）直接开启第 1 回合
	if r.lastPhase != protocol.PhaseAction || r.round == 0 {
		r.flushRound()
		r.round = max(1, r.round+1)
		r.snapshots = append(r.snapshots, RoundSnapshot{
			Round:      r.round,
			CapturedAt: r.now(),
			Phase:      gs.Phase,
			Players: [2]ZoneCapture{
				captureZones(r.players[0], gs.Players[r.players[0].Key]),
				captureZones(r.players[1], gs.Players[r.players[1].Key]),
			},
		})
		r.lastHP = r.sampleHP(gs)
		r.log.Debug("新回合开始", "round", r.round)
		return
	}

	hp := r.sampleHP(gs)
	if hp != r.lastHP {
		r.hpChanges = append(r.hpChanges, hp)
		r.lastHP = hp
	}
}

func (r *Recorder) sampleHP(gs *protocol.GameState) HPSample {
	hp := r.lastHP
	if p := gs.Players[r.players[0].Key]; p != nil {
		hp.YouHP = p.BaseHP()
	}
	if p := gs.Players[r.players[1].Key]; p != nil {
		hp.OppHP = p.BaseHP()
	}
	return hp
}

// flushRound 将缓冲的日志和生命值变化补入最近一个回合快照
// 还没有回合快照时保留缓冲，留给第 1 回合
func (r *Recorder) flushRound() {
	if len(r.snapshots) == 0 {
		return
	}
	last := &r.snapshots[len(r.snapshots)-1]
	last.Logs = append(last.Logs, r.roundLogs...)
	last.HPChanges = append(last.HPChanges, r.hpChanges...)
	r.roundLogs = nil
	r.hpChanges = nil
}

// runDiff 对比上一份快照，出错时按零事件处理，不中断记录
func (r *Recorder) runDiff(gs *protocol.GameState) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("快照差分异常", "round", r.round, "error", fmt.Sprint(rec))
		}
	}()

	ctx := differ.Context{
		GameID: r.gameID,
		Round:  max(1, r.round),
		Subjects: []differ.Subject{
			{Key: r.players[0].Key, ID: r.players[0].ID, Name: r.players[0].Name, HandVisible: true},
			{Key: r.players[1].Key, ID: r.players[1].ID, Name: r.players[1].Name},
		},
	}

	res, err := r.diff(r.prev, gs, ctx)
	if err != nil {
		r.log.Error("快照差分失败", "round", r.round, "error", err)
		return
	}

	for _, key := range res.Skipped {
		r.log.Warn("缺少区域数据，跳过该玩家", "player", key, "round", r.round)
	}
	for _, u := range res.Unresolved {
		r.log.Debug("卡牌离开手牌但去向未知", "player", u.PlayerKey, "uuid", u.UUID, "cardId", u.CardID)
	}
	r.unresolved += len(res.Unresolved)
	r.events = append(r.events, res.Events...)
}

// finalize 生成最终记录并进入终态，只会执行一次
func (r *Recorder) finalize(gs *protocol.GameState) GameRecord {
	r.flushRound()

	var winner *string
	if len(gs.Winners) == 1 {
		name := gs.Winners[0]
		winner = &name
	}

	record := GameRecord{
		GameID:          r.gameID,
		StartedAt:       r.startedAt,
		CompletedAt:     r.now(),
		Format:          r.format,
		IsLimitedFormat: r.isLimited,
		Players:         r.players,
		Winner:          winner,
		Rounds:          r.round,
		CardEvents:      slices.Clone(r.events),
		RawLog:          slices.Clone(r.rawLog),
		Snapshots:       slices.Clone(r.snapshots),
	}
	r.state = Finalized

	r.log.Info("对局结束",
		"winners", gs.Winners,
		"rounds", record.Rounds,
		"events", len(record.CardEvents),
	)
	return record
}

// complete 在锁外调用完成回调，回调失败只记录日志
func (r *Recorder) complete(record GameRecord) {
	if r.onComplete == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("完成回调异常", "error", fmt.Sprint(rec))
		}
	}()
	r.onComplete(record)
}
