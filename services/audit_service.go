package services

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hotel-channel-sync/models"
)

// AuditSink records who changed what.
type AuditSink interface {
	LogChange(ctx context.Context, actorID *uint, entityType string, entityID uint, action string, before, after any) error
}

type AuditService struct {
	DB *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{DB: db}
}

func (s *AuditService) LogChange(ctx context.Context, actorID *uint, entityType string, entityID uint, action string, before, after any) error {
	entry := models.AuditLog{
		ActorID:    actorID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Before:     toJSON(before),
		After:      toJSON(after),
	}
	if err := s.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		return errors.Wrap(err, "write audit log")
	}
	return nil
}

// History returns the audit trail of one entity, oldest first.
func (s *AuditService) History(ctx context.Context, entityType string, entityID uint) ([]models.AuditLog, error) {
	var out []models.AuditLog
	err := s.DB.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "load audit history")
	}
	return out, nil
}

func toJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
