package models

import "time"

// UnitBlock is the deprecated block table. It is still consulted for
// overlaps but nothing writes to it any more.
type UnitBlock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UnitID    uint      `gorm:"column:unit_id;index" json:"unit_id"`
	StartDate time.Time `gorm:"column:start_date" json:"start_date"`
	EndDate   time.Time `gorm:"column:end_date" json:"end_date"`
	Reason    string    `gorm:"column:reason;type:text" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func (UnitBlock) TableName() string {
	return "unit_blocks"
}
