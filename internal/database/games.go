package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kb-tracker/internal/event"
	"kb-tracker/internal/recorder"

	"github.com/jackc/pgx/v5"
)

const summaryColumns = `
	g.game_id, g.started_at, g.completed_at, g.format, g.is_limited,
	g.local_player_name, g.opponent_name, g.local_deck_size, g.opponent_deck_size,
	g.winner, g.result, g.rounds,
	(SELECT COUNT(*) FROM card_events e WHERE e.game_id = g.game_id) AS event_count`

// SaveGame 保存对局记录，同一对局重复保存时覆盖
func SaveGame(ctx context.Context, rec *recorder.GameRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化对局记录失败: %w", err)
	}

	local, opponent := rec.Players[0], rec.Players[1]
	return pgx.BeginFunc(ctx, DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO games (
				game_id, started_at, completed_at, format, is_limited,
				local_player_id, local_player_name, local_deck_size,
				opponent_id, opponent_name, opponent_deck_size,
				winner, result, rounds, record
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (game_id) DO UPDATE SET
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at,
				format = EXCLUDED.format,
				is_limited = EXCLUDED.is_limited,
				local_player_id = EXCLUDED.local_player_id,
				local_player_name = EXCLUDED.local_player_name,
				local_deck_size = EXCLUDED.local_deck_size,
				opponent_id = EXCLUDED.opponent_id,
				opponent_name = EXCLUDED.opponent_name,
				opponent_deck_size = EXCLUDED.opponent_deck_size,
				winner = EXCLUDED.winner,
				result = EXCLUDED.result,
				rounds = EXCLUDED.rounds,
				record = EXCLUDED.record
		`,
			rec.GameID, rec.StartedAt, rec.CompletedAt, rec.Format, rec.IsLimitedFormat,
			local.ID, local.Name, local.DeckSize,
			opponent.ID, opponent.Name, opponent.DeckSize,
			rec.Winner, ResultOf(rec), rec.Rounds, data,
		); err != nil {
			return fmt.Errorf("写入对局失败: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM card_events WHERE game_id = $1`, rec.GameID); err != nil {
			return fmt.Errorf("清理旧事件失败: %w", err)
		}

		if len(rec.CardEvents) == 0 {
			return nil
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"card_events"},
			[]string{"game_id", "seq", "round_number", "player_id", "player_name", "card_id", "card_name", "metric", "count"},
			pgx.CopyFromSlice(len(rec.CardEvents), func(i int) ([]any, error) {
				e := rec.CardEvents[i]
				return []any{rec.GameID, i, e.RoundNumber, e.PlayerID, e.PlayerName, e.CardID, e.CardName, string(e.Metric), e.Count}, nil
			}),
		); err != nil {
			return fmt.Errorf("写入卡牌事件失败: %w", err)
		}
		return nil
	})
}

// GetGame 根据ID获取对局详情，不存在时返回 nil
func GetGame(ctx context.Context, gameID string) (*GameDetail, error) {
	var d GameDetail
	err := DB.QueryRow(ctx, `SELECT `+summaryColumns+`, g.record FROM games g WHERE g.game_id = $1`, gameID).Scan(
		&d.GameID, &d.StartedAt, &d.CompletedAt, &d.Format, &d.IsLimitedFormat,
		&d.LocalPlayerName, &d.OpponentName, &d.LocalDeckSize, &d.OpponentDeckSize,
		&d.Winner, &d.Result, &d.Rounds, &d.EventCount, &d.Record,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// buildListQuery 根据筛选条件生成 WHERE 子句和参数
func buildListQuery(f ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Format != "" {
		args = append(args, f.Format)
		conds = append(conds, fmt.Sprintf("g.format = $%d", len(args)))
	}
	if f.Player != "" {
		args = append(args, f.Player)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(g.local_player_name = $%d OR g.opponent_name = $%d)", n, n))
	}
	if f.Result != "" {
		args = append(args, f.Result)
		conds = append(conds, fmt.Sprintf("g.result = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListGames 分页获取对局列表，按完成时间倒序
func ListGames(ctx context.Context, f ListFilter) (*GamePage, error) {
	f.Limit = min(max(f.Limit, 1), 200)
	f.Offset = max(f.Offset, 0)

	where, args := buildListQuery(f)

	page := &GamePage{Games: []GameSummary{}, Limit: f.Limit, Offset: f.Offset}
	if err := DB.QueryRow(ctx, `SELECT COUNT(*) FROM games g`+where, args...).Scan(&page.Total); err != nil {
		return nil, err
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM games g%s ORDER BY g.completed_at DESC LIMIT $%d OFFSET $%d`,
		summaryColumns, where, len(args)-1, len(args))

	rows, err := DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var g GameSummary
		if err := rows.Scan(
			&g.GameID, &g.StartedAt, &g.CompletedAt, &g.Format, &g.IsLimitedFormat,
			&g.LocalPlayerName, &g.OpponentName, &g.LocalDeckSize, &g.OpponentDeckSize,
			&g.Winner, &g.Result, &g.Rounds, &g.EventCount,
		); err != nil {
			return nil, err
		}
		page.Games = append(page.Games, g)
	}

	return page, rows.Err()
}

// GetGameEvents 获取对局的卡牌事件，按发生顺序
func GetGameEvents(ctx context.Context, gameID string) ([]event.CardEvent, error) {
	rows, err := DB.Query(ctx, `
		SELECT game_id, round_number, player_id, player_name, card_id, card_name, metric, count
		FROM card_events
		WHERE game_id = $1
		ORDER BY seq
	`, gameID)
	if err != nil {
		return nil, err
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (event.CardEvent, error) {
		var e event.CardEvent
		var metric string
		err := row.Scan(&e.GameID, &e.RoundNumber, &e.PlayerID, &e.PlayerName, &e.CardID, &e.CardName, &metric, &e.Count)
		e.Metric = event.Metric(metric)
		return e, err
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []event.CardEvent{}
	}
	return events, nil
}

// DeleteGame 删除对局，返回是否存在
func DeleteGame(ctx context.Context, gameID string) (bool, error) {
	tag, err := DB.Exec(ctx, `DELETE FROM games WHERE game_id = $1`, gameID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// BatchDeleteGames 批量删除对局，返回实际删除的ID
func BatchDeleteGames(ctx context.Context, gameIDs []string) ([]string, error) {
	rows, err := DB.Query(ctx, `DELETE FROM games WHERE game_id = ANY($1) RETURNING game_id`, gameIDs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
