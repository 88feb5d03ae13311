package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gorm.io/gorm"

	"hotel-channel-sync/models"
)

func newTestBookingService(t *testing.T) (*BookingService, *AuditService) {
	t.Helper()
	db := newTestDB(t)
	audit := NewAuditService(db)
	guard := NewOverbookingGuard(db, audit, &recordingPusher{})
	mustCreateUnit(t, db, 1)
	mustCreateUnit(t, db, 2)
	return NewBookingService(db, guard, audit), audit
}

func TestCreateBookingConflictLeavesNoRow(t *testing.T) {
	svc, _ := newTestBookingService(t)
	ctx := context.Background()

	first, err := svc.CreateBooking(ctx, CreateBookingInput{UnitID: 1, CheckIn: day("2024-06-01"), CheckOut: day("2024-06-05"), GuestName: "Grace"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != models.BookingStatusConfirmed {
		t.Fatalf("expected CONFIRMED default, got %s", first.Status)
	}
	if n := countLocks(t, svc.DB, "lock_owner_booking_id = ?", first.ID); n != 1 {
		t.Fatalf("booking should hold a lock, got %d", n)
	}

	_, err = svc.CreateBooking(ctx, CreateBookingInput{UnitID: 1, CheckIn: day("2024-06-04"), CheckOut: day("2024-06-06")})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var n int64
	svc.DB.Unscoped().Model(&models.Booking{}).Count(&n)
	if n != 1 {
		t.Fatalf("rejected booking should not be stored, found %d rows", n)
	}

	if _, err := svc.CreateBooking(ctx, CreateBookingInput{UnitID: 99, CheckIn: day("2024-06-01"), CheckOut: day("2024-06-02")}); !IsNotFound(err) {
		t.Fatalf("unknown unit should be not found, got %v", err)
	}
	if _, err := svc.CreateBooking(ctx, CreateBookingInput{UnitID: 1, CheckIn: day("2024-06-01"), CheckOut: day("2024-06-02"), Status: "CANCELLED"}); !IsValidation(err) {
		t.Fatalf("cancelled status on create should be invalid, got %v", err)
	}
}

func TestCreateBookingConcurrentOverlapsOneWinner(t *testing.T) {
	svc, _ := newTestBookingService(t)
	const workers = 6

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			// every request overlaps every other one on 2024-08-05
			from := day("2024-08-01").AddDate(0, 0, offset%4)
			_, err := svc.CreateBooking(context.Background(), CreateBookingInput{UnitID: 2, CheckIn: from, CheckOut: day("2024-08-06")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case !IsConflict(err):
				t.Errorf("worker %d: unexpected error %v", offset, err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one booking to win, got %d", successes)
	}
	var n int64
	svc.DB.Unscoped().Model(&models.Booking{}).Where("unit_id = ?", 2).Count(&n)
	if n != 1 {
		t.Fatalf("losers must leave no rows, found %d bookings", n)
	}
	if l := countLocks(t, svc.DB, "unit_id = ?", 2); l != 1 {
		t.Fatalf("expected one lock, got %d", l)
	}
}

func TestReserveSlotForRollsBackOwnerInsert(t *testing.T) {
	svc, _ := newTestBookingService(t)
	ctx := context.Background()

	boom := errors.New("insert failed")
	_, err := svc.Guard.ReserveSlotFor(ctx, ReserveSlotInput{UnitID: 1, From: day("2024-05-01"), To: day("2024-05-03")}, func(tx *gorm.DB) (uint, error) {
		b := models.Booking{UnitID: 1, CheckIn: day("2024-05-01"), CheckOut: day("2024-05-03"), Status: models.BookingStatusConfirmed}
		if err := tx.Create(&b).Error; err != nil {
			return 0, err
		}
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the insert error, got %v", err)
	}
	var n int64
	svc.DB.Unscoped().Model(&models.Booking{}).Count(&n)
	if n != 0 || countLocks(t, svc.DB, "unit_id = ?", 1) != 0 {
		t.Fatalf("failed reservation must leave nothing behind, found %d bookings", n)
	}
}

func TestRescheduleBooking(t *testing.T) {
	svc, audit := newTestBookingService(t)
	ctx := context.Background()

	a, err := svc.CreateBooking(ctx, CreateBookingInput{UnitID: 1, CheckIn: day("2024-06-01"), CheckOut: day("2024-06-03")})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := svc.CreateBooking(ctx, CreateBookingInput{UnitID: 1, CheckIn: day("2024-06-10"), CheckOut: day("2024-06-12")}); err != nil {
		t.Fatalf("create b: %v", err)
	}

	if _, err := svc.RescheduleBooking(ctx, a.ID, RescheduleInput{CheckIn: day("2024-06-09"), CheckOut: day("2024-06-11")}); !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	unchanged, _ := svc.GetBooking(ctx, a.ID)
	if !unchanged.CheckIn.Equal(day("2024-06-01")) {
		t.Fatalf("refused reschedule must leave the booking, got %v", unchanged.CheckIn)
	}

	moved, err := svc.RescheduleBooking(ctx, a.ID, RescheduleInput{UnitID: 2, CheckIn: day("2024-06-09"), CheckOut: day("2024-06-11")})
	if err != nil {
		t.Fatalf("move to unit 2: %v", err)
	}
	if moved.UnitID != 2 {
		t.Fatalf("expected unit 2, got %d", moved.UnitID)
	}
	var lock models.UnitLock
	if err := svc.DB.Where("lock_owner_booking_id = ?", a.ID).First(&lock).Error; err != nil {
		t.Fatalf("load lock: %v", err)
	}
	if lock.UnitID != 2 || !lock.StartDate.Equal(day("2024-06-09")) {
		t.Fatalf("lock should follow the booking, got %+v", lock)
	}

	history, err := audit.History(ctx, AuditEntityBooking, a.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[1].Action != "update" {
		t.Fatalf("expected create and update audit entries, got %+v", history)
	}
}

func TestCancelBookingFreesDates(t *testing.T) {
	svc, _ := newTestBookingService(t)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, CreateBookingInput{UnitID: 1, CheckIn: day("2024-06-01"), CheckOut: day("2024-06-05")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cancelled, err := svc.CancelBooking(ctx, b.ID, nil)
	if err != nil || cancelled.Status != models.BookingStatusCancelled {
		t.Fatalf("cancel: %+v %v", cancelled, err)
	}
	if _, err := svc.CancelBooking(ctx, b.ID, nil); err != nil {
		t.Fatalf("second cancel should be a no-op: %v", err)
	}
	if n := countLocks(t, svc.DB, "lock_owner_booking_id = ?", b.ID); n != 0 {
		t.Fatalf("lock should be released")
	}
	if _, err := svc.CreateBooking(ctx, CreateBookingInput{UnitID: 1, CheckIn: day("2024-06-02"), CheckOut: day("2024-06-04")}); err != nil {
		t.Fatalf("dates should be free again: %v", err)
	}
	if _, err := svc.RescheduleBooking(ctx, b.ID, RescheduleInput{CheckIn: day("2024-07-01"), CheckOut: day("2024-07-02")}); !IsValidation(err) {
		t.Fatalf("cancelled booking cannot be rescheduled, got %v", err)
	}
	if _, err := svc.CancelBooking(ctx, 777, nil); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
