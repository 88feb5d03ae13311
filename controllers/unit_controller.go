package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hotel-channel-sync/models"
	"hotel-channel-sync/services"
	"hotel-channel-sync/utils"
)

type UnitController struct {
	Units *services.UnitService
}

func NewUnitController(units *services.UnitService) *UnitController {
	return &UnitController{Units: units}
}

// ListUnits GET /api/units
func (uc *UnitController) ListUnits(c *gin.Context) {
	units, err := uc.Units.ListUnits(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, units)
}

// CreateUnit POST /api/units
func (uc *UnitController) CreateUnit(c *gin.Context) {
	var unit models.Unit
	if err := c.ShouldBindJSON(&unit); err != nil {
		respondInvalidPayload(c, err)
		return
	}
	unit.ID = 0
	created, err := uc.Units.CreateUnit(c.Request.Context(), unit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusCreated, created)
}

// GetUnit GET /api/units/:id
func (uc *UnitController) GetUnit(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	unit, err := uc.Units.GetUnit(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, unit)
}

// UpdateUnit PATCH /api/units/:id
func (uc *UnitController) UpdateUnit(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var updateData map[string]any
	if err := c.ShouldBindJSON(&updateData); err != nil {
		respondInvalidPayload(c, err)
		return
	}
	unit, err := uc.Units.UpdateUnit(c.Request.Context(), id, updateData)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, unit)
}
