package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	BookingStatusConfirmed = "CONFIRMED"
	BookingStatusPending   = "PENDING"
	BookingStatusCancelled = "CANCELLED"
)

// ActiveBookingStatuses are the statuses that occupy a unit.
var ActiveBookingStatuses = []string{BookingStatusConfirmed, BookingStatusPending}

type Booking struct {
	ID uint `gorm:"primaryKey" json:"id"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UnitID uint `gorm:"column:unit_id;index:idx_bookings_unit_stay,priority:1" json:"unit_id"`

	// check-in is inclusive, check-out exclusive
	CheckIn  time.Time `gorm:"column:check_in;index:idx_bookings_unit_stay,priority:2" json:"check_in"`
	CheckOut time.Time `gorm:"column:check_out;index:idx_bookings_unit_stay,priority:3" json:"check_out"`

	Status        string  `gorm:"column:status;size:32;index" json:"status"`
	OriginChannel *string `gorm:"column:origin_channel;size:64;uniqueIndex:idx_bookings_origin_ref,priority:1" json:"origin_channel,omitempty"`
	ExternalRef   *string `gorm:"column:external_ref;size:128;uniqueIndex:idx_bookings_origin_ref,priority:2" json:"external_ref,omitempty"`
	GuestName     string  `gorm:"column:guest_name;size:255" json:"guest_name,omitempty"`
}

// Occupies reports whether the booking blocks its unit.
func (b Booking) Occupies() bool {
	return b.Status == BookingStatusConfirmed || b.Status == BookingStatusPending
}
