package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"kb-tracker/internal/archive"
	"kb-tracker/internal/database"
	"kb-tracker/internal/middleware"
	"kb-tracker/pkg/utils"
)

// GetAllGames 处理 GET /api/games
// 支持 format、player、result、limit、offset 查询参数
func (a *API) GetAllGames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.ListFilter{
		Format: q.Get("format"),
		Player: q.Get("player"),
		Result: q.Get("result"),
		Limit:  utils.QueryInt(r, "limit", 50),
		Offset: utils.QueryInt(r, "offset", 0),
	}
	switch filter.Result {
	case "", database.ResultWin, database.ResultLoss, database.ResultDraw:
	default:
		utils.ErrorResponse(w, http.StatusBadRequest, "无效的 result 参数", nil)
		return
	}

	page, err := a.Store.ListGames(r.Context(), filter)
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "获取对局列表失败", err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, page)
}

// GetGame 处理 GET /api/games/{gameId}
func (a *API) GetGame(w http.ResponseWriter, r *http.Request) {
	gameID := middleware.GetGameID(r)

	game, err := a.Store.GetGame(r.Context(), gameID)
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "数据库错误", err)
		return
	}
	if game == nil {
		utils.ErrorResponse(w, http.StatusNotFound, "对局不存在", nil)
		return
	}
	utils.JSONResponse(w, http.StatusOK, game)
}

// GetGameEvents 处理 GET /api/games/{gameId}/events
func (a *API) GetGameEvents(w http.ResponseWriter, r *http.Request) {
	gameID := middleware.GetGameID(r)

	game, err := a.Store.GetGame(r.Context(), gameID)
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "数据库错误", err)
		return
	}
	if game == nil {
		utils.ErrorResponse(w, http.StatusNotFound, "对局不存在", nil)
		return
	}

	events, err := a.Store.GetGameEvents(r.Context(), gameID)
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "获取卡牌事件失败", err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, events)
}

// DownloadGame 处理 GET /api/games/{gameId}/download
// 打包完整记录和事件列表，优先使用归档，归档缺失时使用数据库中的记录
func (a *API) DownloadGame(w http.ResponseWriter, r *http.Request) {
	gameID := middleware.GetGameID(r)

	game, err := a.Store.GetGame(r.Context(), gameID)
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "数据库错误", err)
		return
	}

	var record json.RawMessage
	if a.Archive != nil {
		record, err = a.Archive.ReadRaw(gameID)
		if err != nil && !errors.Is(err, archive.ErrNotFound) {
			slog.Warn("读取归档失败，改用数据库记录", "gameId", gameID, "error", err)
		}
	}
	if record == nil && game != nil {
		record = game.Record
	}
	if record == nil {
		utils.ErrorResponse(w, http.StatusNotFound, "对局不存在", nil)
		return
	}

	events, err := a.Store.GetGameEvents(r.Context(), gameID)
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "获取卡牌事件失败", err)
		return
	}
	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "序列化卡牌事件失败", err)
		return
	}

	modified := time.Now()
	if game != nil {
		modified = game.CompletedAt
	}
	zipData, err := utils.CreateZip([]utils.FileEntry{
		{Name: "record.json", Data: record, Modified: modified},
		{Name: "events.json", Data: eventsJSON, Modified: modified},
	})
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "创建ZIP文件失败", err)
		return
	}

	utils.FileResponse(w, "application/zip", "game_"+gameID+".zip", zipData)
}

// DeleteGame 处理 DELETE /api/games/{gameId}
func (a *API) DeleteGame(w http.ResponseWriter, r *http.Request) {
	gameID := middleware.GetGameID(r)

	found, err := a.Store.DeleteGame(r.Context(), gameID)
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "删除对局失败", err)
		return
	}
	if !found {
		utils.ErrorResponse(w, http.StatusNotFound, "对局不存在", nil)
		return
	}
	a.deleteArchives(gameID)

	utils.SuccessResponse(w)
}

// BatchDeleteGamesRequest 批量删除对局请求
type BatchDeleteGamesRequest struct {
	GameIDs []string `json:"gameIds"`
}

// BatchDeleteGames 处理 DELETE /api/games/batch
func (a *API) BatchDeleteGames(w http.ResponseWriter, r *http.Request) {
	var req BatchDeleteGamesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, utils.MaxBodySize)).Decode(&req); err != nil {
		utils.ErrorResponse(w, http.StatusBadRequest, "无效的请求格式", err)
		return
	}

	if len(req.GameIDs) == 0 {
		utils.ErrorResponse(w, http.StatusBadRequest, "未选择对局", nil)
		return
	}

	ids := make([]string, 0, len(req.GameIDs))
	for _, raw := range req.GameIDs {
		id, ok := utils.NormalizeGameID(raw)
		if !ok {
			utils.ErrorResponse(w, http.StatusBadRequest, "无效的对局ID格式: "+raw, nil)
			return
		}
		ids = append(ids, id)
	}

	deleted, err := a.Store.BatchDeleteGames(r.Context(), ids)
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "批量删除失败", err)
		return
	}
	a.deleteArchives(deleted...)

	if deleted == nil {
		deleted = []string{}
	}
	utils.JSONResponse(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (a *API) deleteArchives(gameIDs ...string) {
	if a.Archive == nil {
		return
	}
	for _, id := range gameIDs {
		if err := a.Archive.Delete(id); err != nil {
			slog.Warn("删除归档失败", "gameId", id, "error", err)
		}
	}
}
