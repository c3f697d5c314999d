package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"kb-tracker/internal/event"
	"kb-tracker/internal/recorder"
	"kb-tracker/pkg/utils"
)

// GetStats 处理 GET /api/stats
func (a *API) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Store.GetAllStats(r.Context())
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "获取统计信息失败", err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, stats)
}

// GetCardStats 处理 GET /api/cards/stats?metric=played&player=&limit=
func (a *API) GetCardStats(w http.ResponseWriter, r *http.Request) {
	metric := event.Metric(r.URL.Query().Get("metric"))
	if metric == "" {
		metric = event.Played
	}
	if !metric.Valid() {
		names := make([]string, 0, len(event.Metrics()))
		for _, m := range event.Metrics() {
			names = append(names, string(m))
		}
		utils.ErrorResponse(w, http.StatusBadRequest, "无效的 metric 参数，可选: "+strings.Join(names, ", "), nil)
		return
	}

	stats, err := a.Store.GetCardStats(r.Context(), metric, r.URL.Query().Get("player"), utils.QueryInt(r, "limit", 20))
	if err != nil {
		utils.ErrorResponse(w, http.StatusInternalServerError, "获取卡牌统计失败", err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, map[string]any{
		"metric": metric,
		"cards":  stats,
	})
}

// RegistryResponse 运行状态
type RegistryResponse struct {
	TrackingEnabled bool            `json:"trackingEnabled"`
	Active          []recorder.Info `json:"active"`
	Connections     int64           `json:"connections"`
	Frames          IngestStats     `json:"frames"`
}

// GetRegistry 处理 GET /api/registry
func (a *API) GetRegistry(w http.ResponseWriter, r *http.Request) {
	resp := RegistryResponse{
		TrackingEnabled: a.Tracker.Enabled(),
		Active:          a.Tracker.Active(),
	}
	if a.Tap != nil {
		resp.Connections = a.Tap.Connections()
	}
	if a.Ingestor != nil {
		resp.Frames = a.Ingestor.Stats()
	}
	utils.JSONResponse(w, http.StatusOK, resp)
}

// TrackingRequest 记录开关请求
type TrackingRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetTracking 处理 PUT /api/registry/tracking
func (a *API) SetTracking(w http.ResponseWriter, r *http.Request) {
	var req TrackingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, utils.MaxBodySize)).Decode(&req); err != nil || req.Enabled == nil {
		utils.ErrorResponse(w, http.StatusBadRequest, "无效的请求格式", err)
		return
	}
	a.Tracker.SetEnabled(*req.Enabled)
	utils.JSONResponse(w, http.StatusOK, map[string]bool{"trackingEnabled": *req.Enabled})
}
