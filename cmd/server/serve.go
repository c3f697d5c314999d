package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"kb-tracker/internal/archive"
	"kb-tracker/internal/config"
	"kb-tracker/internal/database"
	"kb-tracker/internal/handler"
	"kb-tracker/internal/middleware"
	"kb-tracker/internal/recorder"
	"kb-tracker/internal/registry"
	"kb-tracker/internal/router"
	"kb-tracker/internal/scheduler"
	"kb-tracker/internal/sink"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务与采集入口",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg := loadConfig(opts)
	logger := setupLogger(cmd.OutOrStdout(), cfg)

	slog.Info(VersionInfo())

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	slog.Info("连接数据库...")
	if err := database.InitDB(ctx, cfg); err != nil {
		return fmt.Errorf("数据库连接失败: %w", err)
	}
	defer database.Close()

	// 运行数据库迁移
	slog.Info("执行数据库迁移...", "dir", cfg.MigrationsDir)
	osFs := afero.NewOsFs()
	if err := database.RunMigrations(ctx, osFs, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	// 完成事件总线：存储与归档
	var arc *archive.Archive
	sinkOpts := sink.Options{
		Store:          database.Store{},
		FormatOverride: cfg.FormatOverride,
		Logger:         logger.With("component", "sink"),
	}
	if cfg.ArchiveDir != "" {
		arc = archive.New(osFs, cfg.ArchiveDir)
		sinkOpts.Archive = arc
	}
	bus := sink.New(sinkOpts)
	// 订阅不跟随信号取消，由 Close 结束
	if err := bus.Start(cmd.Context()); err != nil {
		return err
	}
	// 服务器关闭后再关闭总线，Close 在超时内等待已发布的记录处理完
	defer func() {
		if err := bus.Close(); err != nil {
			slog.Error("关闭完成事件总线失败", "error", err)
		}
	}()

	reg := registry.New(cfg.TrackingEnabled, bus.Publish, recorder.Options{
		Logger: logger.With("component", "recorder"),
	})
	ingestor := handler.NewIngestor(reg, logger.With("component", "ingest"))

	api := &handler.API{
		Store:    database.Store{},
		Tracker:  reg,
		Ingestor: ingestor,
		Tap:      &handler.TapHandler{Ingestor: ingestor},
	}
	if arc != nil {
		api.Archive = arc
	}

	// 创建限流器
	rateLimiter := middleware.NewRateLimiter(cfg.MaxAttempts, cfg.LockDuration())
	defer rateLimiter.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Setup(cfg, rateLimiter, api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 启动定时任务
	sched := scheduler.New(schedulerJobs(cfg, reg, arc))
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("服务器启动", "port", cfg.Port, "tracking", cfg.TrackingEnabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 等待终止信号
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("服务器错误: %w", err)
		}
	}

	slog.Info("正在关闭服务器...")

	// 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("服务器关闭失败", "error", err)
	}
	if active := reg.Active(); len(active) > 0 {
		slog.Warn("仍有未完成的对局，记录将丢弃", "count", len(active))
	}

	slog.Info("服务器已关闭")
	return nil
}

func schedulerJobs(cfg *config.Config, reg *registry.Registry, arc *archive.Archive) scheduler.Jobs {
	jobs := scheduler.Jobs{
		CleanupDatabase: database.RunCleanup,
		PruneFinished:   reg.PruneFinished,
		RetentionDays:   cfg.RetentionDays,
	}
	if arc != nil {
		jobs.PruneArchive = arc.Prune
	}
	return jobs
}
