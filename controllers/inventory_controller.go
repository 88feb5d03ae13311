package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hotel-channel-sync/services"
	"hotel-channel-sync/utils"
)

type ReserveLockRequest struct {
	BookingID uint   `json:"booking_id" binding:"required"`
	From      string `json:"from" binding:"required"`
	To        string `json:"to" binding:"required"`
	Source    string `json:"source"`
}

type PlaceBlockRequest struct {
	From   string `json:"from" binding:"required"`
	To     string `json:"to" binding:"required"`
	Reason string `json:"reason"`
}

type InventoryController struct {
	Guard *services.OverbookingGuard
}

func NewInventoryController(guard *services.OverbookingGuard) *InventoryController {
	return &InventoryController{Guard: guard}
}

func parseRange(c *gin.Context, from, to string) (f, t time.Time, ok bool) {
	var err error
	if f, err = services.ParseDate(from); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "error.invalidDate", "from: "+err.Error(), nil)
		return f, t, false
	}
	if t, err = services.ParseDate(to); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "error.invalidDate", "to: "+err.Error(), nil)
		return f, t, false
	}
	return f, t, true
}

// ReserveLock POST /api/units/:id/locks
func (ic *InventoryController) ReserveLock(c *gin.Context) {
	unitID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req ReserveLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, err)
		return
	}
	from, to, ok := parseRange(c, req.From, req.To)
	if !ok {
		return
	}

	res, err := ic.Guard.ReserveSlot(c.Request.Context(), services.ReserveSlotInput{
		UnitID:    unitID,
		From:      from,
		To:        to,
		BookingID: req.BookingID,
		ActorID:   actorID(c),
		Source:    req.Source,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == services.OutcomeCreate {
		status = http.StatusCreated
	}
	utils.JSONSuccess(c, status, res)
}

// ListLocks GET /api/units/:id/locks
func (ic *InventoryController) ListLocks(c *gin.Context) {
	unitID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	locks, err := ic.Guard.ListLocks(c.Request.Context(), unitID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, locks)
}

// PlaceBlock POST /api/units/:id/blocks
func (ic *InventoryController) PlaceBlock(c *gin.Context) {
	unitID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req PlaceBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, err)
		return
	}
	from, to, ok := parseRange(c, req.From, req.To)
	if !ok {
		return
	}
	lock, err := ic.Guard.PlaceBlock(c.Request.Context(), services.BlockInput{
		UnitID:  unitID,
		From:    from,
		To:      to,
		ActorID: actorID(c),
		Reason:  req.Reason,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusCreated, lock)
}

// RemoveBlock DELETE /api/locks/:id
func (ic *InventoryController) RemoveBlock(c *gin.Context) {
	lockID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := ic.Guard.RemoveBlock(c.Request.Context(), lockID, actorID(c)); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReleaseBookingLock DELETE /api/bookings/:id/lock
func (ic *InventoryController) ReleaseBookingLock(c *gin.Context) {
	bookingID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	released, err := ic.Guard.ReleaseSlot(c.Request.Context(), bookingID, actorID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, gin.H{"released": released})
}
