package models

import "time"

const (
	LockSourceSystem = "SYSTEM"
	LockSourceOTA    = "OTA"
)

// UnitLock is the authoritative occupancy of a unit over [StartDate, EndDate).
// A nil LockOwnerBookingID marks a manual block.
type UnitLock struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UnitID             uint      `gorm:"column:unit_id;not null;index:idx_unit_locks_range,priority:1" json:"unit_id"`
	StartDate          time.Time `gorm:"column:start_date;not null;index:idx_unit_locks_range,priority:2" json:"start_date"`
	EndDate            time.Time `gorm:"column:end_date;not null;index:idx_unit_locks_range,priority:3" json:"end_date"`
	LockSource         string    `gorm:"column:lock_source;size:16;not null;default:SYSTEM" json:"lock_source"`
	LockOwnerBookingID *uint     `gorm:"column:lock_owner_booking_id;uniqueIndex" json:"lock_owner_booking_id,omitempty"`
	CreatedBy          *uint     `gorm:"column:created_by" json:"created_by,omitempty"`
	Reason             string    `gorm:"column:reason;size:255" json:"reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (UnitLock) TableName() string {
	return "unit_locks"
}

// IsBlock reports whether the lock is a manual block with no owning booking.
func (l UnitLock) IsBlock() bool {
	return l.LockOwnerBookingID == nil
}

// SameBounds reports whether the lock already covers exactly the given stay.
func (l UnitLock) SameBounds(unitID uint, from, to time.Time) bool {
	return l.UnitID == unitID && l.StartDate.Equal(from) && l.EndDate.Equal(to)
}
