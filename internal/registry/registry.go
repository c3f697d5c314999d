// Package registry 按对局 ID 管理记录器
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"kb-tracker/internal/protocol"
	"kb-tracker/internal/recorder"
	"kb-tracker/pkg/utils"
)

// Registry 对局注册表
// 只在查找和登记时持有全局锁，快照处理由各记录器自己的锁保护，不同对局互不阻塞
type Registry struct {
	mu       sync.Mutex
	enabled  bool
	active   map[string]*recorder.Recorder
	finished map[string]time.Time

	onComplete recorder.CompletionFunc
	opts       recorder.Options
	log        *slog.Logger
	now        func() time.Time
}

// New 创建注册表
func New(enabled bool, onComplete recorder.CompletionFunc, opts recorder.Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		enabled:    enabled,
		active:     make(map[string]*recorder.Recorder),
		finished:   make(map[string]time.Time),
		onComplete: onComplete,
		opts:       opts,
		log:        log,
		now:        now,
	}
}

// Enabled 是否开启记录
func (r *Registry) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetEnabled 开关记录，关闭时已有记录器保留，但不再接收快照
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()
	r.log.Info("记录开关已切换", "enabled", enabled)
}

// Ingest 将快照路由到对应记录器，返回该对局是否已经完成
func (r *Registry) Ingest(gs *protocol.GameState) bool {
	if gs == nil || gs.ID == "" {
		return false
	}
	// 对局ID统一为查询时使用的标准格式，存储、归档和接口使用同一个键
	id, ok := utils.NormalizeGameID(gs.ID)
	if !ok {
		r.log.Debug("非法的对局ID，忽略快照", "gameId", gs.ID)
		return false
	}
	gs.ID = id

	rec, done := r.lookup(id)
	if done {
		return true
	}
	if rec == nil {
		return false
	}

	if !rec.Ingest(gs) {
		return false
	}
	r.retire(rec)
	return true
}

// lookup 查找或创建记录器，已完成的对局返回 done
func (r *Registry) lookup(gameID string) (*recorder.Recorder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return nil, false
	}
	if _, ok := r.finished[gameID]; ok {
		return nil, true
	}
	if rec, ok := r.active[gameID]; ok {
		return rec, false
	}

	rec := recorder.New(gameID, r.onComplete, r.opts)
	r.active[gameID] = rec
	r.log.Info("开始记录对局", "gameId", gameID, "active", len(r.active))
	return rec, false
}

func (r *Registry) retire(rec *recorder.Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[rec.GameID()] == rec {
		delete(r.active, rec.GameID())
	}
	r.finished[rec.GameID()] = r.now()
	r.log.Info("对局记录器已退役", "gameId", rec.GameID(), "active", len(r.active))
}

// Active 返回正在记录的对局概况，按开始时间排序
func (r *Registry) Active() []recorder.Info {
	r.mu.Lock()
	recs := make([]*recorder.Recorder, 0, len(r.active))
	for _, rec := range r.active {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	infos := make([]recorder.Info, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, rec.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].GameID < infos[j].GameID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// IsFinished 对局是否已完成且仍在墓碑表中
func (r *Registry) IsFinished(gameID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.finished[gameID]
	return ok
}

// PruneFinished 清理早于 olderThan 的已完成对局记号，返回清理数量
func (r *Registry) PruneFinished(olderThan time.Duration) int {
	cutoff := r.now().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for id, at := range r.finished {
		if at.Before(cutoff) {
			delete(r.finished, id)
			pruned++
		}
	}
	return pruned
}
