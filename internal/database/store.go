package database

import (
	"context"

	"kb-tracker/internal/event"
	"kb-tracker/internal/recorder"
)

// Store 以方法形式暴露包级查询，供需要接口的调用方使用
type Store struct{}

func (Store) SaveGame(ctx context.Context, rec *recorder.GameRecord) error {
	return SaveGame(ctx, rec)
}

func (Store) GetGame(ctx context.Context, gameID string) (*GameDetail, error) {
	return GetGame(ctx, gameID)
}

func (Store) ListGames(ctx context.Context, f ListFilter) (*GamePage, error) {
	return ListGames(ctx, f)
}

func (Store) GetGameEvents(ctx context.Context, gameID string) ([]event.CardEvent, error) {
	return GetGameEvents(ctx, gameID)
}

func (Store) DeleteGame(ctx context.Context, gameID string) (bool, error) {
	return DeleteGame(ctx, gameID)
}

func (Store) BatchDeleteGames(ctx context.Context, gameIDs []string) ([]string, error) {
	return BatchDeleteGames(ctx, gameIDs)
}

func (Store) GetAllStats(ctx context.Context) (*Stats, error) {
	return GetAllStats(ctx)
}

func (Store) GetCardStats(ctx context.Context, metric event.Metric, playerName string, limit int) ([]CardStats, error) {
	return GetCardStats(ctx, metric, playerName, limit)
}
