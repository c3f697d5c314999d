// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"encoding/json"

	"kb-tracker/internal/database"
	"kb-tracker/internal/event"
	"kb-tracker/internal/recorder"
)

// GameStore 对局记录查询
type GameStore interface {
	ListGames(ctx context.Context, f database.ListFilter) (*database.GamePage, error)
	GetGame(ctx context.Context, gameID string) (*database.GameDetail, error)
	GetGameEvents(ctx context.Context, gameID string) ([]event.CardEvent, error)
	DeleteGame(ctx context.Context, gameID string) (bool, error)
	BatchDeleteGames(ctx context.Context, gameIDs []string) ([]string, error)
	GetAllStats(ctx context.Context) (*database.Stats, error)
	GetCardStats(ctx context.Context, metric event.Metric, playerName string, limit int) ([]database.CardStats, error)
}

// RecordArchive 对局归档
type RecordArchive interface {
	ReadRaw(gameID string) (json.RawMessage, error)
	Delete(gameID string) error
}

// Tracker 记录器注册表
type Tracker interface {
	Active() []recorder.Info
	Enabled() bool
	SetEnabled(enabled bool)
}

// API 管理接口
type API struct {
	Store    GameStore
	Archive  RecordArchive
	Tracker  Tracker
	Ingestor *Ingestor
	Tap      *TapHandler
}
