// Package sink 异步接收已完成的对局记录并交给存储
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kb-tracker/internal/recorder"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// TopicGameCompleted 对局完成主题
const TopicGameCompleted = "games.completed"

const (
	metaKeyGameID = "game_id"
	metaKeyFormat = "format"
)

// Store 对局记录存储
type Store interface {
	SaveGame(ctx context.Context, rec *recorder.GameRecord) error
}

// Archive 对局记录归档
type Archive interface {
	Write(rec *recorder.GameRecord) (string, error)
}

// Options 选项
type Options struct {
	Store          Store
	Archive        Archive
	FormatOverride string
	Logger         *slog.Logger
	// Timeout 单条记录的处理时限
	Timeout time.Duration
	// Buffer 订阅端通道缓冲
	Buffer int64
}

// Sink 基于 watermill GoChannel 的完成事件总线
// 记录器回调只负责发布，存储和归档在订阅协程中完成
type Sink struct {
	bus *gochannel.GoChannel

	store          Store
	archive        Archive
	formatOverride string
	timeout        time.Duration
	log            *slog.Logger

	wg sync.WaitGroup

	// pending 已发布但尚未处理完的记录数
	mu      sync.Mutex
	pending int
	started bool
	closing bool
}

// New 创建总线
func New(opts Options) *Sink {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}

	bus := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: opts.Buffer},
		watermill.NewStdLogger(false, false),
	)

	return &Sink{
		bus:            bus,
		store:          opts.Store,
		archive:        opts.Archive,
		formatOverride: opts.FormatOverride,
		timeout:        opts.Timeout,
		log:            opts.Logger,
	}
}

// Start 订阅完成主题，立即返回
func (s *Sink) Start(ctx context.Context) error {
	messages, err := s.bus.Subscribe(ctx, TopicGameCompleted)
	if err != nil {
		return fmt.Errorf("订阅 %s 失败: %w", TopicGameCompleted, err)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for msg := range messages {
			if err := s.handle(msg); err != nil {
				// 存储失败只记录日志，不重投
				s.log.Error("对局记录处理失败",
					"gameId", msg.Metadata.Get(metaKeyGameID),
					"msg_id", msg.UUID,
					"error", err,
				)
			}
			msg.Ack()
			s.finish()
		}
		s.log.Debug("完成事件订阅已结束", "topic", TopicGameCompleted)
	}()
	return nil
}

// Publish 发布完成的对局记录，可直接作为记录器的完成回调
func (s *Sink) Publish(rec recorder.GameRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		s.log.Error("对局记录序列化失败", "gameId", rec.GameID, "error", err)
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.log.Warn("总线正在关闭，丢弃对局记录", "gameId", rec.GameID)
		return
	}
	// 未订阅时 gochannel 直接丢弃消息，不计入待处理数
	counted := s.started
	if counted {
		s.pending++
	}
	s.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metaKeyGameID, rec.GameID)
	msg.Metadata.Set(metaKeyFormat, rec.Format)

	if err := s.bus.Publish(TopicGameCompleted, msg); err != nil {
		if counted {
			s.finish()
		}
		s.log.Error("对局记录发布失败", "gameId", rec.GameID, "error", err)
		return
	}
	s.log.Debug("对局记录已发布", "gameId", rec.GameID, "msg_id", msg.UUID)
}

// Close 拒绝新的发布，等待已发布的记录处理完后关闭总线
// 等待时间上限为 Options.Timeout，超时仍未处理的记录会丢失
func (s *Sink) Close() error {
	s.mu.Lock()
	s.closing = true
	started := s.started
	s.mu.Unlock()

	if started {
		s.drain(s.timeout)
	}
	err := s.bus.Close()
	s.wg.Wait()
	return err
}

func (s *Sink) finish() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

func (s *Sink) drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		n := s.pending
		s.mu.Unlock()
		if n <= 0 {
			return
		}
		if time.Now().After(deadline) {
			s.log.Warn("关闭时仍有未处理的对局记录", "pending", n)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *Sink) handle(msg *message.Message) error {
	var rec recorder.GameRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return fmt.Errorf("解析对局记录失败: %w", err)
	}
	return s.Deliver(context.Background(), &rec)
}

// Deliver 同步保存并归档一条记录，离线回放不经过总线时直接调用
func (s *Sink) Deliver(ctx context.Context, rec *recorder.GameRecord) error {
	s.applyOverride(rec)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var errs []error
	if s.store != nil {
		if err := s.store.SaveGame(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("保存对局失败: %w", err))
		}
	}
	if s.archive != nil {
		path, err := s.archive.Write(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("归档对局失败: %w", err))
		} else {
			s.log.Debug("对局已归档", "gameId", rec.GameID, "path", path)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.log.Info("对局记录已保存",
		"gameId", rec.GameID,
		"format", rec.Format,
		"rounds", rec.Rounds,
		"events", len(rec.CardEvents),
	)
	return nil
}

func (s *Sink) applyOverride(rec *recorder.GameRecord) {
	if s.formatOverride == "" || s.formatOverride == rec.Format {
		return
	}
	s.log.Debug("应用赛制覆盖", "gameId", rec.GameID, "from", rec.Format, "to", s.formatOverride)
	rec.Format = s.formatOverride
}
