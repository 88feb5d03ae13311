package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditLog struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ActorID    *uint          `gorm:"column:actor_id;index" json:"actor_id"`
	EntityType string         `gorm:"column:entity_type;size:64;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityID   uint           `gorm:"column:entity_id;index:idx_audit_entity,priority:2" json:"entity_id"`
	Action     string         `gorm:"column:action;size:32;index" json:"action"`
	Before     datatypes.JSON `gorm:"column:before" json:"before,omitempty"`
	After      datatypes.JSON `gorm:"column:after" json:"after,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
