package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hotel-channel-sync/services"
	"hotel-channel-sync/utils"
)

type CreateBookingRequest struct {
	UnitID    uint   `json:"unit_id" binding:"required"`
	CheckIn   string `json:"check_in" binding:"required"`
	CheckOut  string `json:"check_out" binding:"required"`
	Status    string `json:"status"`
	GuestName string `json:"guest_name"`
}

type RescheduleBookingRequest struct {
	UnitID   uint   `json:"unit_id"`
	CheckIn  string `json:"check_in" binding:"required"`
	CheckOut string `json:"check_out" binding:"required"`
}

type BookingController struct {
	BookingSvc *services.BookingService
	Audit      *services.AuditService
}

func NewBookingController(svc *services.BookingService, audit *services.AuditService) *BookingController {
	return &BookingController{BookingSvc: svc, Audit: audit}
}

// CreateBooking POST /api/bookings
func (bc *BookingController) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, err)
		return
	}
	checkIn, checkOut, ok := parseRange(c, req.CheckIn, req.CheckOut)
	if !ok {
		return
	}

	bk, err := bc.BookingSvc.CreateBooking(c.Request.Context(), services.CreateBookingInput{
		UnitID:    req.UnitID,
		CheckIn:   checkIn,
		CheckOut:  checkOut,
		Status:    req.Status,
		GuestName: req.GuestName,
		ActorID:   actorID(c),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusCreated, bk)
}

// RescheduleBooking PATCH /api/bookings/:id/dates
func (bc *BookingController) RescheduleBooking(c *gin.Context) {
	bookingID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req RescheduleBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, err)
		return
	}
	checkIn, checkOut, ok := parseRange(c, req.CheckIn, req.CheckOut)
	if !ok {
		return
	}

	bk, err := bc.BookingSvc.RescheduleBooking(c.Request.Context(), bookingID, services.RescheduleInput{
		UnitID:   req.UnitID,
		CheckIn:  checkIn,
		CheckOut: checkOut,
		ActorID:  actorID(c),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, bk)
}

// CancelBooking POST /api/bookings/:id/cancel
func (bc *BookingController) CancelBooking(c *gin.Context) {
	bookingID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	bk, err := bc.BookingSvc.CancelBooking(c.Request.Context(), bookingID, actorID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, bk)
}

// GetBooking GET /api/bookings/:id
func (bc *BookingController) GetBooking(c *gin.Context) {
	bookingID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	bk, err := bc.BookingSvc.GetBooking(c.Request.Context(), bookingID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, bk)
}

// BookingHistory GET /api/bookings/:id/history
func (bc *BookingController) BookingHistory(c *gin.Context) {
	bookingID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	entries, err := bc.Audit.History(c.Request.Context(), services.AuditEntityBooking, bookingID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, entries)
}

// LockHistory GET /api/locks/:id/history
func (bc *BookingController) LockHistory(c *gin.Context) {
	lockID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	entries, err := bc.Audit.History(c.Request.Context(), services.AuditEntityLock, lockID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, entries)
}
