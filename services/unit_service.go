package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"hotel-channel-sync/models"
)

// UnitService manages the sellable units channels are mapped to.
type UnitService struct {
	DB *gorm.DB
}

func NewUnitService(db *gorm.DB) *UnitService {
	return &UnitService{DB: db}
}

func (s *UnitService) CreateUnit(ctx context.Context, unit models.Unit) (*models.Unit, error) {
	unit.Code = strings.TrimSpace(unit.Code)
	if unit.Code == "" {
		return nil, validationError("error.invalidUnit", "unit code is required")
	}
	if err := s.DB.WithContext(ctx).Create(&unit).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, conflictError("error.duplicateUnitCode", fmt.Sprintf("unit code '%s' already exists", unit.Code))
		}
		return nil, errors.Wrap(err, "create unit")
	}
	return &unit, nil
}

func (s *UnitService) ListUnits(ctx context.Context) ([]models.Unit, error) {
	var units []models.Unit
	if err := s.DB.WithContext(ctx).Order("code ASC").Find(&units).Error; err != nil {
		return nil, errors.Wrap(err, "list units")
	}
	return units, nil
}

func (s *UnitService) GetUnit(ctx context.Context, id uint) (*models.Unit, error) {
	var unit models.Unit
	if err := s.DB.WithContext(ctx).First(&unit, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("error.unitNotFound", fmt.Sprintf("unit %d not found", id))
		}
		return nil, errors.Wrap(err, "load unit")
	}
	return &unit, nil
}

// UpdateUnit applies a partial update. Identity and timestamp columns are
// never taken from the input.
func (s *UnitService) UpdateUnit(ctx context.Context, id uint, updates map[string]any) (*models.Unit, error) {
	allowed := map[string]string{
		"name":         "name",
		"type":         "type",
		"floor":        "floor",
		"maxOccupancy": "max_occupancy",
		"active":       "active",
	}
	cols := map[string]any{}
	for k, v := range updates {
		if col, ok := allowed[k]; ok {
			cols[col] = v
		}
	}
	if _, err := s.GetUnit(ctx, id); err != nil {
		return nil, err
	}
	if len(cols) > 0 {
		if err := s.DB.WithContext(ctx).Model(&models.Unit{}).Where("id = ?", id).Updates(cols).Error; err != nil {
			return nil, errors.Wrapf(err, "update unit %d", id)
		}
	}
	return s.GetUnit(ctx, id)
}
