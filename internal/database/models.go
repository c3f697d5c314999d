// Package database 提供对局记录的持久化
package database

import (
	"encoding/json"
	"time"

	"kb-tracker/internal/recorder"
)

// 对局结果，以本地玩家视角
const (
	ResultWin  = "win"
	ResultLoss = "loss"
	ResultDraw = "draw"
)

// GameSummary 对局列表项
type GameSummary struct {
	GameID           string    `json:"gameId"`
	StartedAt        time.Time `json:"startedAt"`
	CompletedAt      time.Time `json:"completedAt"`
	Format           string    `json:"format"`
	IsLimitedFormat  bool      `json:"isLimitedFormat"`
	LocalPlayerName  string    `json:"localPlayerName"`
	OpponentName     string    `json:"opponentName"`
	LocalDeckSize    int       `json:"localDeckSize"`
	OpponentDeckSize int       `json:"opponentDeckSize"`
	Winner           *string   `json:"winner"`
	Result           string    `json:"result"`
	Rounds           int       `json:"rounds"`
	EventCount       int       `json:"eventCount"`
}

// GameDetail 对局详情，包含完整记录
type GameDetail struct {
	GameSummary
	Record json.RawMessage `json:"record"`
}

// ListFilter 对局列表筛选条件
type ListFilter struct {
	Format string
	Player string
	Result string
	Limit  int
	Offset int
}

// GamePage 分页结果
type GamePage struct {
	Games  []GameSummary `json:"games"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ResultOf 计算本地玩家视角的对局结果
func ResultOf(rec *recorder.GameRecord) string {
	switch {
	case rec.IsDraw():
		return ResultDraw
	case rec.LocalWon():
		return ResultWin
	default:
		return ResultLoss
	}
}
