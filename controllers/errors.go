package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"hotel-channel-sync/services"
	"hotel-channel-sync/utils"
)

func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindConflict:
		return http.StatusConflict
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// respondServiceError maps a service error to the error envelope. Wrapped
// causes are logged, never sent: they carry store and driver text.
func respondServiceError(c *gin.Context, err error) {
	var de *services.DomainError
	if errors.As(err, &de) {
		if de.Err != nil {
			log.Debug().Err(de.Err).Str("code", de.Code).Str("path", c.FullPath()).Msg("request refused")
		}
		utils.JSONError(c, statusForKind(de.Kind), de.Code, de.Message, nil)
		return
	}
	log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	utils.JSONError(c, http.StatusInternalServerError, "error.internal", "internal error", nil)
}

func respondInvalidPayload(c *gin.Context, err error) {
	utils.JSONError(c, http.StatusBadRequest, "error.invalidPayload", "invalid or incomplete payload", err.Error())
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id == 0 {
		utils.JSONError(c, http.StatusBadRequest, "error.invalidId", name+" must be a positive integer", nil)
		return 0, false
	}
	return uint(id), true
}

// actorID reads the acting staff member from X-Actor-Id, if any.
func actorID(c *gin.Context) *uint {
	raw := strings.TrimSpace(c.GetHeader("X-Actor-Id"))
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return nil
	}
	v := uint(id)
	return &v
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
