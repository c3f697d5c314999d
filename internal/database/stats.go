package database

import (
	"context"

	"kb-tracker/internal/event"

	"github.com/jackc/pgx/v5"
)

// Stats 汇总统计
type Stats struct {
	GameCount    int           `json:"gameCount"`
	Wins         int           `json:"wins"`
	Losses       int           `json:"losses"`
	Draws        int           `json:"draws"`
	WinRate      float64       `json:"winRate"`
	LimitedGames int           `json:"limitedGames"`
	TodayGames   int           `json:"todayGames"`
	EventCount   int           `json:"eventCount"`
	AvgRounds    float64       `json:"avgRounds"`
	ByFormat     []FormatStats `json:"byFormat"`
}

// FormatStats 按赛制统计
type FormatStats struct {
	Format string `json:"format"`
	Games  int    `json:"games"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
	Draws  int    `json:"draws"`
}

// CardStats 单张卡牌在某项指标上的统计
type CardStats struct {
	CardID   string `json:"cardId"`
	CardName string `json:"cardName"`
	Total    int    `json:"total"`
	Games    int    `json:"games"`
}

// GetAllStats 获取所有统计信息
func GetAllStats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := DB.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM games) AS game_count,
			(SELECT COUNT(*) FROM games WHERE result = 'win') AS wins,
			(SELECT COUNT(*) FROM games WHERE result = 'loss') AS losses,
			(SELECT COUNT(*) FROM games WHERE result = 'draw') AS draws,
			(SELECT COUNT(*) FROM games WHERE is_limited = TRUE) AS limited_games,
			(SELECT COUNT(*) FROM games WHERE completed_at >= CURRENT_DATE) AS today_games,
			(SELECT COUNT(*) FROM card_events) AS event_count,
			(SELECT COALESCE(AVG(rounds), 0)::FLOAT8 FROM games) AS avg_rounds
	`).Scan(
		&s.GameCount, &s.Wins, &s.Losses, &s.Draws,
		&s.LimitedGames, &s.TodayGames, &s.EventCount, &s.AvgRounds,
	)
	if err != nil {
		return nil, err
	}
	if decided := s.Wins + s.Losses; decided > 0 {
		s.WinRate = float64(s.Wins) / float64(decided)
	}

	rows, err := DB.Query(ctx, `
		SELECT format,
			COUNT(*),
			COUNT(*) FILTER (WHERE result = 'win'),
			COUNT(*) FILTER (WHERE result = 'loss'),
			COUNT(*) FILTER (WHERE result = 'draw')
		FROM games
		GROUP BY format
		ORDER BY COUNT(*) DESC, format
	`)
	if err != nil {
		return nil, err
	}
	s.ByFormat, err = pgx.CollectRows(rows, pgx.RowToStructByPos[FormatStats])
	if err != nil {
		return nil, err
	}
	if s.ByFormat == nil {
		s.ByFormat = []FormatStats{}
	}
	return &s, nil
}

// GetCardStats 按指标统计卡牌，playerName 为空时统计所有玩家
// 未知卡牌（无法识别的抽牌）不参与排名
func GetCardStats(ctx context.Context, metric event.Metric, playerName string, limit int) ([]CardStats, error) {
	limit = min(max(limit, 1), 500)

	rows, err := DB.Query(ctx, `
		SELECT card_id, MAX(card_name), SUM(count)::INT, COUNT(DISTINCT game_id)::INT
		FROM card_events
		WHERE metric = $1
		AND card_id <> $2
		AND ($3 = '' OR player_name = $3)
		GROUP BY card_id
		ORDER BY SUM(count) DESC, card_id
		LIMIT $4
	`, string(metric), event.UnknownCardID, playerName, limit)
	if err != nil {
		return nil, err
	}

	stats, err := pgx.CollectRows(rows, pgx.RowToStructByPos[CardStats])
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = []CardStats{}
	}
	return stats, nil
}
