package database

import (
	"context"
	"log/slog"
	"time"
)

// CleanupExpiredGames 删除完成时间超过 retentionDays 天的对局，卡牌事件级联删除
// retentionDays <= 0 表示永久保留
func CleanupExpiredGames(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	result, err := DB.Exec(ctx, `
		DELETE FROM games
		WHERE completed_at < NOW() - make_interval(days => $1)
	`, retentionDays)
	if err != nil {
		return 0, err
	}

	count := result.RowsAffected()
	if count > 0 {
		slog.Info("清理过期对局", "count", count, "retentionDays", retentionDays)
	}
	return count, nil
}

// RunCleanup 执行所有清理操作
func RunCleanup(ctx context.Context, retentionDays int) error {
	startTime := time.Now()
	slog.Info("开始执行数据清理任务")

	gamesCount, err := CleanupExpiredGames(ctx, retentionDays)
	if err != nil {
		slog.Error("清理过期对局失败", "error", err)
		return err
	}

	slog.Info("数据清理任务完成",
		"games", gamesCount,
		"duration", time.Since(startTime),
	)
	return nil
}
