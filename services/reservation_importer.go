package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"hotel-channel-sync/channels"
	"hotel-channel-sync/models"
)

// ReservationImporter is the default normalizer. It accepts payloads that
// are already in the common shape:
//
//	{"reservation": {...}} or {"reservations": [{...}, ...]}
//
// with externalId, unitId, checkin, checkout, status and guestName fields.
type ReservationImporter struct {
	DB *gorm.DB
}

func NewReservationImporter(db *gorm.DB) *ReservationImporter {
	return &ReservationImporter{DB: db}
}

type importedRecord struct {
	ExternalID string
	UnitID     uint
	CheckIn    time.Time
	CheckOut   time.Time
	Status     string
	GuestName  string
}

// getStringFromMap returns the first key present in m as a trimmed string.
func getStringFromMap(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s, ok2 := v.(string); ok2 {
				return strings.TrimSpace(s)
			}
			return strings.TrimSpace(fmt.Sprintf("%v", v))
		}
	}
	return ""
}

func getUintFromMap(m map[string]any, keys ...string) uint {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			if v > 0 && v == float64(uint(v)) {
				return uint(v)
			}
		case int:
			if v > 0 {
				return uint(v)
			}
		case uint:
			return v
		case json.Number:
			if n, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
				return uint(n)
			}
		case string:
			if n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
				return uint(n)
			}
		}
	}
	return 0
}

func reservationsOf(payload map[string]any) []map[string]any {
	var out []map[string]any
	if one, ok := payload["reservation"].(map[string]any); ok {
		out = append(out, one)
	}
	if many, ok := payload["reservations"].([]any); ok {
		for _, item := range many {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func parseRecord(m map[string]any) (importedRecord, error) {
	rec := importedRecord{
		ExternalID: getStringFromMap(m, "externalId", "external_id", "id"),
		UnitID:     getUintFromMap(m, "unitId", "unit_id"),
		Status:     strings.ToUpper(getStringFromMap(m, "status")),
		GuestName:  getStringFromMap(m, "guestName", "guest_name"),
	}
	if rec.UnitID == 0 {
		return rec, errors.New("missing unitId")
	}
	var err error
	if rec.CheckIn, err = ParseDate(getStringFromMap(m, "checkin", "checkIn", "check_in")); err != nil {
		return rec, errors.Wrap(err, "checkin")
	}
	if rec.CheckOut, err = ParseDate(getStringFromMap(m, "checkout", "checkOut", "check_out")); err != nil {
		return rec, errors.Wrap(err, "checkout")
	}
	if !rec.CheckOut.After(rec.CheckIn) {
		return rec, errors.New("checkout must be after checkin")
	}
	return rec, nil
}

func importStatus(recordStatus string, integration *models.ChannelIntegration) string {
	switch recordStatus {
	case models.BookingStatusConfirmed, models.BookingStatusPending:
		return recordStatus
	}
	if integration != nil {
		switch s := strings.ToUpper(strings.TrimSpace(integration.Settings.Data().DefaultImportStatus)); s {
		case models.BookingStatusConfirmed, models.BookingStatusPending:
			return s
		}
	}
	return models.BookingStatusConfirmed
}

// ImportFromWebhook stores the reservations of one delivery. Records that
// cannot be read are skipped; redelivered records are recognized by their
// external id and not inserted twice.
func (r *ReservationImporter) ImportFromWebhook(ctx context.Context, req channels.ImportRequest) (channels.ImportResult, error) {
	result := channels.ImportResult{Inserted: []channels.ImportedReservation{}}
	origin := string(req.ChannelKey)

	for _, raw := range reservationsOf(req.Payload) {
		rec, err := parseRecord(raw)
		if err != nil {
			log.Warn().Err(err).Str("source", req.SourceLabel).Msg("skipping unreadable reservation")
			result.Skipped++
			continue
		}

		var existing *models.Booking
		if rec.ExternalID != "" {
			var found []models.Booking
			if err := r.DB.WithContext(ctx).
				Where("origin_channel = ? AND external_ref = ?", origin, rec.ExternalID).
				Limit(1).Find(&found).Error; err != nil {
				return result, errors.Wrap(err, "look up imported booking")
			}
			if len(found) > 0 {
				existing = &found[0]
			}
		}

		if rec.Status == models.BookingStatusCancelled {
			if existing == nil || existing.Status == models.BookingStatusCancelled {
				result.Skipped++
				continue
			}
			if err := r.DB.WithContext(ctx).Model(&models.Booking{}).
				Where("id = ?", existing.ID).
				Update("status", models.BookingStatusCancelled).Error; err != nil {
				return result, errors.Wrapf(err, "cancel booking %d", existing.ID)
			}
			result.Cancelled = append(result.Cancelled, existing.ID)
			continue
		}

		if existing != nil {
			result.Skipped++
			continue
		}

		booking := models.Booking{
			UnitID:        rec.UnitID,
			CheckIn:       rec.CheckIn,
			CheckOut:      rec.CheckOut,
			Status:        importStatus(rec.Status, req.Integration),
			OriginChannel: &origin,
			GuestName:     rec.GuestName,
		}
		if rec.ExternalID != "" {
			ref := rec.ExternalID
			booking.ExternalRef = &ref
		}
		if err := r.DB.WithContext(ctx).Create(&booking).Error; err != nil {
			// a concurrent delivery of the same record got there first
			if isUniqueViolation(err) {
				result.Skipped++
				continue
			}
			return result, errors.Wrap(err, "insert imported booking")
		}

		result.Inserted = append(result.Inserted, channels.ImportedReservation{
			Unit: booking.UnitID,
			Record: channels.ReservationRecord{
				UnitID:   booking.UnitID,
				CheckIn:  booking.CheckIn,
				CheckOut: booking.CheckOut,
			},
			BookingID: booking.ID,
		})
	}

	log.Info().
		Str("source", req.SourceLabel).
		Int("inserted", len(result.Inserted)).
		Int("cancelled", len(result.Cancelled)).
		Int("skipped", result.Skipped).
		Msg("reservations imported")
	return result, nil
}
