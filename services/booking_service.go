package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"hotel-channel-sync/models"
)

const AuditEntityBooking = "booking"

// BookingService persists booking rows and arbitrates their dates through
// the guard.
type BookingService struct {
	DB    *gorm.DB
	Guard *OverbookingGuard
	Audit AuditSink

	validate *validator.Validate
}

func NewBookingService(db *gorm.DB, guard *OverbookingGuard, audit AuditSink) *BookingService {
	return &BookingService{DB: db, Guard: guard, Audit: audit, validate: validator.New()}
}

type CreateBookingInput struct {
	UnitID    uint      `json:"unit_id" validate:"gt=0"`
	CheckIn   time.Time `json:"check_in" validate:"required"`
	CheckOut  time.Time `json:"check_out" validate:"required,gtfield=CheckIn"`
	Status    string    `json:"status" validate:"omitempty,oneof=CONFIRMED PENDING"`
	GuestName string    `json:"guest_name" validate:"max=255"`
	ActorID   *uint     `json:"-"`
}

type RescheduleInput struct {
	// zero keeps the current unit
	UnitID   uint      `json:"unit_id"`
	CheckIn  time.Time `json:"check_in" validate:"required"`
	CheckOut time.Time `json:"check_out" validate:"required,gtfield=CheckIn"`
	ActorID  *uint     `json:"-"`
}

func (s *BookingService) check(in any) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return validationError("error.invalidBooking", strings.Join(msgs, "; "))
		}
		return validationError("error.invalidBooking", err.Error())
	}
	return nil
}

func (s *BookingService) requireUnit(ctx context.Context, unitID uint) error {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.Unit{}).Where("id = ?", unitID).Count(&n).Error; err != nil {
		return errors.Wrapf(err, "db error checking unit %d", unitID)
	}
	if n == 0 {
		return notFoundError("error.unitNotFound", fmt.Sprintf("unit %d not found", unitID))
	}
	return nil
}

// CreateBooking inserts the booking and locks its dates in the guard's
// transaction. When the guard refuses, no row is left behind.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	in.CheckIn = CalendarDate(in.CheckIn)
	in.CheckOut = CalendarDate(in.CheckOut)
	in.Status = strings.ToUpper(strings.TrimSpace(in.Status))
	if in.Status == "" {
		in.Status = models.BookingStatusConfirmed
	}
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.requireUnit(ctx, in.UnitID); err != nil {
		return nil, err
	}

	bk := &models.Booking{
		UnitID:    in.UnitID,
		CheckIn:   in.CheckIn,
		CheckOut:  in.CheckOut,
		Status:    in.Status,
		GuestName: strings.TrimSpace(in.GuestName),
	}
	_, err := s.Guard.ReserveSlotFor(ctx, ReserveSlotInput{
		UnitID:  bk.UnitID,
		From:    bk.CheckIn,
		To:      bk.CheckOut,
		ActorID: in.ActorID,
	}, func(tx *gorm.DB) (uint, error) {
		if err := tx.Create(bk).Error; err != nil {
			return 0, errors.Wrap(err, "failed to create booking")
		}
		return bk.ID, nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, in.ActorID, bk.ID, "create", nil, bk)
	return bk, nil
}

// RescheduleBooking moves a booking to new dates, and optionally another
// unit. The lock moves first so a refused change leaves the booking as it was.
func (s *BookingService) RescheduleBooking(ctx context.Context, bookingID uint, in RescheduleInput) (*models.Booking, error) {
	in.CheckIn = CalendarDate(in.CheckIn)
	in.CheckOut = CalendarDate(in.CheckOut)
	if err := s.check(in); err != nil {
		return nil, err
	}

	bk, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !bk.Occupies() {
		return nil, validationError("error.bookingNotActive", fmt.Sprintf("booking %d is %s", bk.ID, bk.Status))
	}
	unitID := bk.UnitID
	if in.UnitID != 0 && in.UnitID != bk.UnitID {
		if err := s.requireUnit(ctx, in.UnitID); err != nil {
			return nil, err
		}
		unitID = in.UnitID
	}

	if _, err := s.Guard.ReserveSlot(ctx, ReserveSlotInput{
		UnitID:    unitID,
		From:      in.CheckIn,
		To:        in.CheckOut,
		BookingID: bk.ID,
		ActorID:   in.ActorID,
	}); err != nil {
		return nil, err
	}

	before := *bk
	err = s.DB.WithContext(ctx).Model(&models.Booking{}).Where("id = ?", bk.ID).Updates(map[string]any{
		"unit_id":   unitID,
		"check_in":  in.CheckIn,
		"check_out": in.CheckOut,
	}).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update booking %d", bk.ID)
	}
	bk.UnitID = unitID
	bk.CheckIn = in.CheckIn
	bk.CheckOut = in.CheckOut

	s.audit(ctx, in.ActorID, bk.ID, "update", &before, bk)
	return bk, nil
}

// CancelBooking marks the booking cancelled and frees its dates. Cancelling
// twice is a no-op.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID uint, actorID *uint) (*models.Booking, error) {
	bk, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if bk.Status == models.BookingStatusCancelled {
		return bk, nil
	}

	before := *bk
	if err := s.DB.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ?", bk.ID).
		Update("status", models.BookingStatusCancelled).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to cancel booking %d", bk.ID)
	}
	bk.Status = models.BookingStatusCancelled

	if _, err := s.Guard.ReleaseSlot(ctx, bk.ID, actorID); err != nil {
		// a cancelled owner no longer blocks, so a stale lock is harmless
		log.Error().Err(err).Uint("booking_id", bk.ID).Msg("failed to release lock of cancelled booking")
	}

	s.audit(ctx, actorID, bk.ID, "cancel", &before, bk)
	return bk, nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID uint) (*models.Booking, error) {
	var bk models.Booking
	if err := s.DB.WithContext(ctx).First(&bk, bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("error.bookingNotFound", fmt.Sprintf("booking %d not found", bookingID))
		}
		return nil, errors.Wrap(err, "failed to retrieve booking")
	}
	return &bk, nil
}

func (s *BookingService) audit(ctx context.Context, actorID *uint, bookingID uint, action string, before, after *models.Booking) {
	if s.Audit == nil {
		return
	}
	var b, a any
	if before != nil {
		b = before
	}
	if after != nil {
		a = after
	}
	if err := s.Audit.LogChange(ctx, actorID, AuditEntityBooking, bookingID, action, b, a); err != nil {
		log.Warn().Err(err).Uint("booking_id", bookingID).Msg("audit write failed")
	}
}
