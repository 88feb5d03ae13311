package models

import (
	"gorm.io/gorm"
)

// Unit is a bookable accommodation (room or apartment).
type Unit struct {
	gorm.Model

	Code         string `json:"code" gorm:"column:code;uniqueIndex;type:varchar(50)"`
	Name         string `json:"name" gorm:"column:name;type:varchar(255)"`
	Type         string `json:"type" gorm:"column:type;type:varchar(64)"`
	Floor        string `json:"floor" gorm:"type:varchar(10)"`
	MaxOccupancy int    `json:"maxOccupancy" gorm:"column:max_occupancy"`
	Active       bool   `json:"active" gorm:"column:active;default:true"`
}
