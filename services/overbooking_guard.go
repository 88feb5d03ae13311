package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hotel-channel-sync/metrics"
	"hotel-channel-sync/models"
)

var tracer = otel.Tracer("hotel-channel-sync/services")

const (
	UpdateLockCreate  = "lock.create"
	UpdateLockUpdate  = "lock.update"
	UpdateLockRelease = "lock.release"

	AuditEntityLock = "unit_lock"
)

type ReserveOutcome string

const (
	OutcomeCreate ReserveOutcome = "create"
	OutcomeUpdate ReserveOutcome = "update"
	OutcomeNoop   ReserveOutcome = "noop"
)

type ReserveSlotInput struct {
	UnitID    uint      `json:"unit_id" validate:"gt=0"`
	From      time.Time `json:"from" validate:"required"`
	To        time.Time `json:"to" validate:"required,gtfield=From"`
	BookingID uint      `json:"booking_id" validate:"gt=0"`
	ActorID   *uint     `json:"actor_id,omitempty"`
	Source    string    `json:"source" validate:"omitempty,oneof=SYSTEM OTA"`
}

type ReserveResult struct {
	Outcome ReserveOutcome  `json:"outcome"`
	Lock    models.UnitLock `json:"lock"`
}

type BlockInput struct {
	UnitID  uint      `json:"unit_id" validate:"gt=0"`
	From    time.Time `json:"from" validate:"required"`
	To      time.Time `json:"to" validate:"required,gtfield=From"`
	ActorID *uint     `json:"actor_id,omitempty"`
	Reason  string    `json:"reason" validate:"max=255"`
}

// OverbookingGuard is the only writer of unit locks. Every check and the
// write that follows it run in a single store transaction.
type OverbookingGuard struct {
	DB       *gorm.DB
	Audit    AuditSink
	Notifier UpdatePusher

	validate *validator.Validate
}

func NewOverbookingGuard(db *gorm.DB, audit AuditSink, notifier UpdatePusher) *OverbookingGuard {
	return &OverbookingGuard{
		DB:       db,
		Audit:    audit,
		Notifier: notifier,
		validate: validator.New(),
	}
}

// OwnerInsert writes the booking that will own a new lock and returns its
// id. It runs inside the guard's transaction.
type OwnerInsert func(tx *gorm.DB) (uint, error)

// ReserveSlot locks [in.From, in.To) on in.UnitID for in.BookingID.
func (g *OverbookingGuard) ReserveSlot(ctx context.Context, in ReserveSlotInput) (ReserveResult, error) {
	return g.reserve(ctx, in, nil)
}

// ReserveSlotFor inserts the owning booking and locks its dates in one
// transaction, after the unit's rows are locked. in.BookingID is ignored;
// a refused reservation rolls the insert back with it.
func (g *OverbookingGuard) ReserveSlotFor(ctx context.Context, in ReserveSlotInput, insert OwnerInsert) (ReserveResult, error) {
	if insert == nil {
		return ReserveResult{}, errors.New("reserve slot: nil owner insert")
	}
	return g.reserve(ctx, in, insert)
}

func (g *OverbookingGuard) reserve(ctx context.Context, in ReserveSlotInput, insert OwnerInsert) (ReserveResult, error) {
	in.From = CalendarDate(in.From)
	in.To = CalendarDate(in.To)
	if in.Source == "" {
		in.Source = models.LockSourceSystem
	}
	var err error
	if insert != nil {
		err = g.check(in, "BookingID")
	} else {
		err = g.check(in)
	}
	if err != nil {
		metrics.GuardOutcomes.WithLabelValues("invalid", in.Source).Inc()
		return ReserveResult{}, err
	}

	ctx, span := tracer.Start(ctx, "guard.ReserveSlot")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("unit.id", int64(in.UnitID)),
		attribute.Int64("booking.id", int64(in.BookingID)),
		attribute.String("lock.source", in.Source),
	)

	var (
		result ReserveResult
		before *models.UnitLock
	)
	err = g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUnitRows(tx, in.UnitID); err != nil {
			return err
		}
		if insert != nil {
			id, err := insert(tx)
			if err != nil {
				return err
			}
			if id == 0 {
				return errors.New("owner insert returned no booking id")
			}
			in.BookingID = id
			span.SetAttributes(attribute.Int64("booking.id", int64(id)))
		}

		var owned []models.UnitLock
		if err := tx.Where("lock_owner_booking_id = ?", in.BookingID).Limit(1).Find(&owned).Error; err != nil {
			return errors.Wrap(err, "load booking lock")
		}
		var existing *models.UnitLock
		if len(owned) > 0 {
			existing = &owned[0]
		}

		var excludeLock uint
		if existing != nil {
			excludeLock = existing.ID
		}
		if err := checkConflicts(tx, in.UnitID, in.From, in.To, in.BookingID, excludeLock); err != nil {
			return err
		}

		switch {
		case existing != nil && existing.SameBounds(in.UnitID, in.From, in.To):
			result = ReserveResult{Outcome: OutcomeNoop, Lock: *existing}
			return nil

		case existing != nil:
			prev := *existing
			before = &prev
			existing.UnitID = in.UnitID
			existing.StartDate = in.From
			existing.EndDate = in.To
			if err := tx.Save(existing).Error; err != nil {
				return errors.Wrap(err, "update lock")
			}
			result = ReserveResult{Outcome: OutcomeUpdate, Lock: *existing}
			return nil

		default:
			bookingID := in.BookingID
			lock := models.UnitLock{
				UnitID:             in.UnitID,
				StartDate:          in.From,
				EndDate:            in.To,
				LockSource:         in.Source,
				LockOwnerBookingID: &bookingID,
				CreatedBy:          in.ActorID,
			}
			if err := tx.Create(&lock).Error; err != nil {
				return errors.Wrap(err, "create lock")
			}
			result = ReserveResult{Outcome: OutcomeCreate, Lock: lock}
			return nil
		}
	})
	if err != nil {
		err = asConflict(err)
		if IsConflict(err) {
			metrics.GuardOutcomes.WithLabelValues("conflict", in.Source).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ReserveResult{}, err
	}

	metrics.GuardOutcomes.WithLabelValues(string(result.Outcome), in.Source).Inc()
	span.SetAttributes(attribute.String("guard.outcome", string(result.Outcome)))

	switch result.Outcome {
	case OutcomeCreate:
		g.afterWrite(ctx, in.ActorID, "create", nil, &result.Lock, UpdateLockCreate)
	case OutcomeUpdate:
		if before != nil && before.UnitID != result.Lock.UnitID {
			// the stay moved to another unit: the old one is free again
			g.notify(before.UnitID, UpdateLockRelease, lockPayload(*before))
		}
		g.afterWrite(ctx, in.ActorID, "update", before, &result.Lock, UpdateLockUpdate)
	}
	return result, nil
}

// ReleaseSlot drops the lock owned by bookingID. It reports false when the
// booking held no lock.
func (g *OverbookingGuard) ReleaseSlot(ctx context.Context, bookingID uint, actorID *uint) (bool, error) {
	if bookingID == 0 {
		return false, validationError("error.invalidBookingId", "booking id must be a positive integer")
	}

	ctx, span := tracer.Start(ctx, "guard.ReleaseSlot")
	defer span.End()

	var released *models.UnitLock
	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owned []models.UnitLock
		if err := tx.Where("lock_owner_booking_id = ?", bookingID).Limit(1).Find(&owned).Error; err != nil {
			return errors.Wrap(err, "load booking lock")
		}
		if len(owned) == 0 {
			return nil
		}
		if err := tx.Delete(&models.UnitLock{}, owned[0].ID).Error; err != nil {
			return errors.Wrap(err, "delete lock")
		}
		released = &owned[0]
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if released == nil {
		return false, nil
	}

	metrics.GuardOutcomes.WithLabelValues("release", released.LockSource).Inc()
	g.afterWrite(ctx, actorID, "delete", released, nil, UpdateLockRelease)
	return true, nil
}

// PlaceBlock closes a unit for a date range without a booking.
func (g *OverbookingGuard) PlaceBlock(ctx context.Context, in BlockInput) (models.UnitLock, error) {
	in.From = CalendarDate(in.From)
	in.To = CalendarDate(in.To)
	if err := g.check(in); err != nil {
		return models.UnitLock{}, err
	}

	ctx, span := tracer.Start(ctx, "guard.PlaceBlock")
	defer span.End()

	var lock models.UnitLock
	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUnitRows(tx, in.UnitID); err != nil {
			return err
		}
		if err := checkConflicts(tx, in.UnitID, in.From, in.To, 0, 0); err != nil {
			return err
		}
		lock = models.UnitLock{
			UnitID:     in.UnitID,
			StartDate:  in.From,
			EndDate:    in.To,
			LockSource: models.LockSourceSystem,
			CreatedBy:  in.ActorID,
			Reason:     strings.TrimSpace(in.Reason),
		}
		return errors.Wrap(tx.Create(&lock).Error, "create block")
	})
	if err != nil {
		err = asConflict(err)
		span.RecordError(err)
		return models.UnitLock{}, err
	}

	metrics.GuardOutcomes.WithLabelValues("block", models.LockSourceSystem).Inc()
	g.afterWrite(ctx, in.ActorID, "create", nil, &lock, UpdateLockCreate)
	return lock, nil
}

// RemoveBlock deletes a manual block. Booking locks are released through
// ReleaseSlot instead.
func (g *OverbookingGuard) RemoveBlock(ctx context.Context, lockID uint, actorID *uint) error {
	var removed models.UnitLock
	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.UnitLock
		if err := tx.Where("id = ?", lockID).Limit(1).Find(&rows).Error; err != nil {
			return errors.Wrap(err, "load lock")
		}
		if len(rows) == 0 {
			return notFoundError("error.lockNotFound", fmt.Sprintf("lock %d not found", lockID))
		}
		if !rows[0].IsBlock() {
			return validationError("error.lockOwnedByBooking", "lock belongs to a booking; cancel or release the booking instead")
		}
		removed = rows[0]
		return errors.Wrap(tx.Delete(&models.UnitLock{}, lockID).Error, "delete block")
	})
	if err != nil {
		return err
	}

	g.afterWrite(ctx, actorID, "delete", &removed, nil, UpdateLockRelease)
	return nil
}

// ListLocks returns a unit's locks ordered by start date.
func (g *OverbookingGuard) ListLocks(ctx context.Context, unitID uint) ([]models.UnitLock, error) {
	var locks []models.UnitLock
	err := g.DB.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Order("start_date ASC").
		Find(&locks).Error
	if err != nil {
		return nil, errors.Wrap(err, "list locks")
	}
	return locks, nil
}

// check validates in, skipping the named fields.
func (g *OverbookingGuard) check(in any, except ...string) error {
	var err error
	if len(except) > 0 {
		err = g.validate.StructExcept(in, except...)
	} else {
		err = g.validate.Struct(in)
	}
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return validationError("error.invalidSlot", strings.Join(msgs, "; "))
		}
		return validationError("error.invalidSlot", err.Error())
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("%s must be a positive integer", fe.Field())
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}

func (g *OverbookingGuard) afterWrite(ctx context.Context, actorID *uint, action string, before, after *models.UnitLock, updateType string) {
	subject := after
	if subject == nil {
		subject = before
	}

	if g.Audit != nil {
		var b, a any
		if before != nil {
			b = before
		}
		if after != nil {
			a = after
		}
		if err := g.Audit.LogChange(ctx, actorID, AuditEntityLock, subject.ID, action, b, a); err != nil {
			log.Warn().Err(err).Uint("lock_id", subject.ID).Msg("audit write failed")
		}
	}
	g.notify(subject.UnitID, updateType, lockPayload(*subject))
}

func (g *OverbookingGuard) notify(unitID uint, updateType string, payload map[string]any) {
	if g.Notifier == nil {
		return
	}
	g.Notifier.PushUpdate(UpdateRequest{UnitID: unitID, Type: updateType, Payload: payload})
}

func lockPayload(l models.UnitLock) map[string]any {
	p := map[string]any{
		"lockId":    l.ID,
		"unitId":    l.UnitID,
		"startDate": l.StartDate.Format(DateLayout),
		"endDate":   l.EndDate.Format(DateLayout),
		"source":    l.LockSource,
	}
	if l.LockOwnerBookingID != nil {
		p["bookingId"] = *l.LockOwnerBookingID
	}
	return p
}

// lockUnitRows takes row locks on the unit's existing locks so that
// concurrent reservations for the same unit queue behind this transaction.
// SQLite ignores the clause; its writer lock already serializes.
func lockUnitRows(tx *gorm.DB, unitID uint) error {
	var held []models.UnitLock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("unit_id = ?", unitID).
		Find(&held).Error
	return errors.Wrap(err, "lock unit rows")
}

// checkConflicts rejects [from, to) on unitID when an active booking, a
// live lock or a legacy block overlaps it. excludeBooking and excludeLock
// skip the caller's own rows; zero excludes nothing.
func checkConflicts(tx *gorm.DB, unitID uint, from, to time.Time, excludeBooking, excludeLock uint) error {
	var n int64
	err := tx.Model(&models.Booking{}).
		Where("unit_id = ? AND id <> ? AND status IN ?", unitID, excludeBooking, models.ActiveBookingStatuses).
		Where("check_in < ? AND check_out > ?", to, from).
		Count(&n).Error
	if err != nil {
		return errors.Wrap(err, "check overlapping bookings")
	}
	if n > 0 {
		return conflictError("error.bookingOverlap", "another booking already occupies the unit for these dates")
	}

	released := tx.Unscoped().Model(&models.Booking{}).
		Select("id").
		Where("status = ? OR deleted_at IS NOT NULL", models.BookingStatusCancelled)
	err = tx.Model(&models.UnitLock{}).
		Where("unit_id = ? AND id <> ?", unitID, excludeLock).
		Where("start_date < ? AND end_date > ?", to, from).
		Where("(lock_owner_booking_id IS NULL OR lock_owner_booking_id NOT IN (?))", released).
		Count(&n).Error
	if err != nil {
		return errors.Wrap(err, "check overlapping locks")
	}
	if n > 0 {
		return conflictError("error.lockOverlap", "the unit is locked for an overlapping period")
	}

	err = tx.Model(&models.UnitBlock{}).
		Where("unit_id = ? AND start_date < ? AND end_date > ?", unitID, to, from).
		Count(&n).Error
	if err != nil {
		return errors.Wrap(err, "check legacy blocks")
	}
	if n > 0 {
		return conflictError("error.legacyBlock", "the unit is blocked for an overlapping period")
	}
	return nil
}

func asConflict(err error) error {
	if err == nil || KindOf(err) != "" {
		return err
	}
	if isWriteContention(err) {
		return newDomainError(KindConflict, "error.concurrentReservation", "a concurrent reservation for this unit won", err)
	}
	return err
}
