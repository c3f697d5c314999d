// Package scheduler 提供定时任务功能
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// 默认调度表达式
const (
	DefaultCleanupSpec = "0 4 * * *"
	DefaultPruneSpec   = "0 * * * *"
)

// Jobs 定时任务依赖
type Jobs struct {
	// CleanupDatabase 删除超过保留期的对局记录
	CleanupDatabase func(ctx context.Context, retentionDays int) error
	// PruneArchive 删除早于指定时间的归档文件
	PruneArchive func(before time.Time) (int, error)
	// PruneFinished 清理注册表中已结束对局的标记
	PruneFinished func(olderThan time.Duration) int

	RetentionDays int
	// FinishedTTL 已结束对局标记的保留时长，默认 24 小时
	FinishedTTL time.Duration

	CleanupSpec string
	PruneSpec   string
}

// Scheduler 定时任务调度器
type Scheduler struct {
	cron *cron.Cron
	jobs Jobs
	now  func() time.Time
}

// New 创建新的调度器
func New(jobs Jobs) *Scheduler {
	if jobs.FinishedTTL <= 0 {
		jobs.FinishedTTL = 24 * time.Hour
	}
	if jobs.CleanupSpec == "" {
		jobs.CleanupSpec = DefaultCleanupSpec
	}
	if jobs.PruneSpec == "" {
		jobs.PruneSpec = DefaultPruneSpec
	}
	return &Scheduler{
		cron: cron.New(),
		jobs: jobs,
		now:  time.Now,
	}
}

// Start 注册任务并启动调度器
func (s *Scheduler) Start() error {
	// 每天凌晨 4 点执行数据清理
	if _, err := s.cron.AddFunc(s.jobs.CleanupSpec, func() {
		slog.Info("执行定时数据清理任务")
		if err := s.RunCleanupNow(context.Background()); err != nil {
			slog.Error("数据清理任务失败", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("注册数据清理任务失败: %w", err)
	}

	// 每小时清理一次已结束对局的标记
	if _, err := s.cron.AddFunc(s.jobs.PruneSpec, func() {
		s.PruneFinishedNow()
	}); err != nil {
		return fmt.Errorf("注册对局标记清理任务失败: %w", err)
	}

	s.cron.Start()
	slog.Info("定时任务调度器已启动")
	return nil
}

// Stop 停止调度器，等待正在执行的任务结束
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("定时任务调度器已停止")
}

// RunCleanupNow 立即执行清理任务
// 保留天数不大于 0 时永久保留，不做任何清理
func (s *Scheduler) RunCleanupNow(ctx context.Context) error {
	if s.jobs.RetentionDays <= 0 {
		return nil
	}

	if s.jobs.CleanupDatabase != nil {
		if err := s.jobs.CleanupDatabase(ctx, s.jobs.RetentionDays); err != nil {
			return err
		}
	}

	if s.jobs.PruneArchive != nil {
		before := s.now().AddDate(0, 0, -s.jobs.RetentionDays)
		n, err := s.jobs.PruneArchive(before)
		if err != nil {
			return fmt.Errorf("清理归档失败: %w", err)
		}
		if n > 0 {
			slog.Info("已清理过期归档", "count", n)
		}
	}
	return nil
}

// PruneFinishedNow 立即清理已结束对局的标记
func (s *Scheduler) PruneFinishedNow() int {
	if s.jobs.PruneFinished == nil {
		return 0
	}
	n := s.jobs.PruneFinished(s.jobs.FinishedTTL)
	if n > 0 {
		slog.Info("已清理结束对局标记", "count", n)
	}
	return n
}
