// Package channels holds the adapters for the external sales channels the
// property is distributed on. Every channel implements the same Adapter
// contract and is reachable only through the closed Registry.
package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"hotel-channel-sync/models"
)

// Key identifies a channel kind.
type Key string

const (
	Airbnb     Key = "airbnb"
	BookingCom Key = "booking_com"
	Vrbo       Key = "vrbo"
	ICal       Key = "ical"
	ChannelBus Key = "channel_bus"
)

// Keys lists every supported channel in registry order.
var Keys = []Key{Airbnb, BookingCom, Vrbo, ICal, ChannelBus}

var (
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrPushUnsupported = errors.New("channel does not accept pushed updates")
	ErrNotConfigured   = errors.New("channel endpoint not configured")
)

// ParseKey normalizes a raw channel key and rejects anything outside the
// supported set.
func ParseKey(raw string) (Key, error) {
	k := Key(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case Airbnb, BookingCom, Vrbo, ICal, ChannelBus:
		return k, nil
	}
	return "", errors.Wrapf(ErrUnknownChannel, "%q", raw)
}

// SignedUpdate is one outbound notification addressed to a channel.
type SignedUpdate struct {
	DeliveryID   string
	Channel      Key
	UnitID       uint
	Type         string
	Payload      any
	DispatchedAt time.Time
	Signature    string
}

// Body returns the fields covered by the signature.
func (u SignedUpdate) Body() map[string]any {
	return map[string]any{
		"channel":      string(u.Channel),
		"unitId":       u.UnitID,
		"type":         u.Type,
		"payload":      u.Payload,
		"dispatchedAt": u.DispatchedAt.UTC().Format(time.RFC3339Nano),
	}
}

type ReservationRecord struct {
	UnitID   uint      `json:"unitId"`
	CheckIn  time.Time `json:"checkin"`
	CheckOut time.Time `json:"checkout"`
}

// ImportedReservation is a booking the normalizer inserted for a delivery.
type ImportedReservation struct {
	Unit      uint              `json:"unit"`
	Record    ReservationRecord `json:"record"`
	BookingID uint              `json:"booking_id"`
}

type ImportResult struct {
	Inserted []ImportedReservation `json:"inserted"`
	// booking ids the channel reported as cancelled
	Cancelled []uint `json:"cancelled,omitempty"`
	Skipped   int    `json:"skipped"`
}

type ImportRequest struct {
	ChannelKey  Key
	Payload     map[string]any
	SourceLabel string
	Integration *models.ChannelIntegration
}

// Normalizer turns a channel payload into stored bookings.
type Normalizer interface {
	ImportFromWebhook(ctx context.Context, req ImportRequest) (ImportResult, error)
}

type IngestInput struct {
	Integration *models.ChannelIntegration
	Payload     map[string]any
}

type ConnectionStatus struct {
	OK        bool      `json:"ok"`
	Detail    string    `json:"detail"`
	CheckedAt time.Time `json:"checked_at"`
}

type Adapter interface {
	Key() Key
	SupportsAutoSync() bool
	Ingest(ctx context.Context, in IngestInput) (ImportResult, error)
	PushUpdate(ctx context.Context, integration *models.ChannelIntegration, update SignedUpdate) error
	TestConnection(ctx context.Context, integration *models.ChannelIntegration) (ConnectionStatus, error)
}

func sourceLabel(key Key, kind string) string {
	return fmt.Sprintf("%s-%s", key, kind)
}

func settingsOf(integration *models.ChannelIntegration) models.IntegrationSettings {
	if integration == nil {
		return models.IntegrationSettings{}
	}
	return integration.Settings.Data()
}
