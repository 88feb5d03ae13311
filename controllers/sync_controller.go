package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hotel-channel-sync/services"
	"hotel-channel-sync/utils"
)

type PushUpdateRequest struct {
	UnitID  uint   `json:"unit_id" binding:"required"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type SyncController struct {
	Dispatcher *services.SyncDispatcher
}

func NewSyncController(d *services.SyncDispatcher) *SyncController {
	return &SyncController{Dispatcher: d}
}

// PushUpdate POST /api/sync/updates
func (sc *SyncController) PushUpdate(c *gin.Context) {
	var req PushUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, err)
		return
	}
	sc.Dispatcher.PushUpdate(services.UpdateRequest{UnitID: req.UnitID, Type: req.Type, Payload: req.Payload})
	utils.JSONSuccess(c, http.StatusAccepted, gin.H{
		"unit_id": req.UnitID,
		"state":   sc.Dispatcher.DebounceState(req.UnitID),
	})
}

// Flush POST /api/sync/flush?limit=N
//
// Open debounce windows are written out first so the flush sees them.
func (sc *SyncController) Flush(c *gin.Context) {
	ctx := c.Request.Context()
	if err := sc.Dispatcher.FlushPendingDebounce(ctx); err != nil {
		respondServiceError(c, err)
		return
	}
	res, err := sc.Dispatcher.FlushQueue(ctx, queryInt(c, "limit", 0))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, res)
}

// ListQueue GET /api/sync/queue?status=&limit=
func (sc *SyncController) ListQueue(c *gin.Context) {
	entries, err := sc.Dispatcher.ListEntries(c.Request.Context(), c.Query("status"), queryInt(c, "limit", 100))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, entries)
}

// RetryEntry POST /api/sync/queue/:id/retry
func (sc *SyncController) RetryEntry(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	entry, err := sc.Dispatcher.RetryEntry(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, entry)
}

// ListDispatches GET /api/sync/dispatches?limit=
func (sc *SyncController) ListDispatches(c *gin.Context) {
	records, err := sc.Dispatcher.RecentDispatches(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, records)
}
