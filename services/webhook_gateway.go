package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hotel-channel-sync/channels"
	"hotel-channel-sync/metrics"
	"hotel-channel-sync/models"
)

// signatureHeaders are checked in this order; the first present wins.
var signatureHeaders = []string{"X-Ota-Signature", "X-Channel-Signature", "X-Webhook-Signature"}

const payloadSignatureField = "signature"

type IngestRequest struct {
	ChannelKey string
	Payload    map[string]any
	Headers    http.Header
	RawBody    []byte
}

// UnlockedReservation is an imported booking the guard refused to lock.
// It stays stored and is left for manual reconciliation.
type UnlockedReservation struct {
	BookingID uint      `json:"booking_id"`
	UnitID    uint      `json:"unit_id"`
	CheckIn   time.Time `json:"check_in"`
	CheckOut  time.Time `json:"check_out"`
	Reason    string    `json:"reason"`
}

type IngestResult struct {
	Channel   string                         `json:"channel"`
	Inserted  []channels.ImportedReservation `json:"inserted"`
	Locked    []ReserveResult                `json:"locked"`
	Unlocked  []UnlockedReservation          `json:"unlocked"`
	Cancelled []uint                         `json:"cancelled,omitempty"`
	Skipped   int                            `json:"skipped"`
}

// WebhookGateway authenticates inbound channel deliveries and reconciles the
// reservations they carry with the guard.
type WebhookGateway struct {
	Registry     *channels.Registry
	Integrations *IntegrationService
	Guard        *OverbookingGuard
}

func NewWebhookGateway(registry *channels.Registry, integrations *IntegrationService, guard *OverbookingGuard) *WebhookGateway {
	return &WebhookGateway{Registry: registry, Integrations: integrations, Guard: guard}
}

func (w *WebhookGateway) resolve(ctx context.Context, rawKey string) (channels.Adapter, *models.ChannelIntegration, error) {
	key, err := channels.ParseKey(rawKey)
	if err != nil {
		return nil, nil, newDomainError(KindValidation, "error.unknownChannel", fmt.Sprintf("unknown channel %q", rawKey), err)
	}
	adapter, err := w.Registry.Lookup(key)
	if err != nil {
		return nil, nil, newDomainError(KindValidation, "error.unknownChannel", fmt.Sprintf("unknown channel %q", rawKey), err)
	}
	integration, err := w.Integrations.GetIntegration(ctx, string(key))
	if err != nil {
		return nil, nil, err
	}
	return adapter, integration, nil
}

func (w *WebhookGateway) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	ctx, span := tracer.Start(ctx, "WebhookGateway.Ingest", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(attribute.String("channel", req.ChannelKey))

	result, err := w.ingest(ctx, req)
	outcome := "ok"
	switch {
	case err == nil:
	case IsUnauthorized(err):
		outcome = "unauthorized"
	case IsValidation(err):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	label := result.Channel
	if label == "" {
		label = "unknown"
	}
	metrics.WebhookDeliveries.WithLabelValues(label, outcome).Inc()
	return result, err
}

func (w *WebhookGateway) ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	adapter, integration, err := w.resolve(ctx, req.ChannelKey)
	if err != nil {
		return IngestResult{}, err
	}
	key := adapter.Key()
	result := IngestResult{Channel: string(key)}

	if integration != nil && !integration.Active {
		return result, validationError("error.channelInactive", fmt.Sprintf("channel %s is not active", key))
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	if integration != nil {
		if secret := integration.SigningSecret(); secret != "" {
			if err := verifyDelivery(secret, req); err != nil {
				log.Warn().Str("channel", string(key)).Err(err).Msg("webhook rejected")
				return result, err
			}
		}
	}

	imported, err := adapter.Ingest(ctx, channels.IngestInput{Integration: integration, Payload: req.Payload})
	if err != nil {
		if integration != nil {
			_ = w.Integrations.RecordSyncResult(ctx, integration.Key, err, nil)
		}
		return result, errors.Wrapf(err, "ingest %s delivery", key)
	}
	result.Inserted = imported.Inserted
	result.Cancelled = imported.Cancelled
	result.Skipped = imported.Skipped

	for _, res := range imported.Inserted {
		reserved, err := w.Guard.ReserveSlot(ctx, ReserveSlotInput{
			UnitID:    res.Record.UnitID,
			From:      res.Record.CheckIn,
			To:        res.Record.CheckOut,
			BookingID: res.BookingID,
			Source:    models.LockSourceOTA,
		})
		if err != nil {
			metrics.UnlockedImports.WithLabelValues(string(key)).Inc()
			log.Error().Err(err).
				Str("channel", string(key)).
				Uint("booking_id", res.BookingID).
				Uint("unit_id", res.Record.UnitID).
				Msg("imported reservation could not be locked")
			result.Unlocked = append(result.Unlocked, UnlockedReservation{
				BookingID: res.BookingID,
				UnitID:    res.Record.UnitID,
				CheckIn:   res.Record.CheckIn,
				CheckOut:  res.Record.CheckOut,
				Reason:    err.Error(),
			})
			continue
		}
		result.Locked = append(result.Locked, reserved)
	}

	for _, bookingID := range imported.Cancelled {
		if _, err := w.Guard.ReleaseSlot(ctx, bookingID, nil); err != nil {
			log.Error().Err(err).Str("channel", string(key)).Uint("booking_id", bookingID).Msg("failed to release cancelled reservation")
		}
	}

	if integration != nil {
		summary := map[string]any{
			"inserted":  len(result.Inserted),
			"locked":    len(result.Locked),
			"unlocked":  len(result.Unlocked),
			"cancelled": len(result.Cancelled),
			"skipped":   result.Skipped,
		}
		if err := w.Integrations.RecordSyncResult(ctx, integration.Key, nil, summary); err != nil {
			log.Error().Err(err).Str("channel", string(key)).Msg("failed to record sync result")
		}
	}
	return result, nil
}

// verifyDelivery accepts a signature over the raw body, or over the
// canonical payload with its signature field removed.
func verifyDelivery(secret string, req IngestRequest) error {
	received := ""
	for _, h := range signatureHeaders {
		if v := strings.TrimSpace(req.Headers.Get(h)); v != "" {
			received = v
			break
		}
	}
	if received == "" {
		if v, ok := req.Payload[payloadSignatureField].(string); ok {
			received = strings.TrimSpace(v)
		}
	}
	if received == "" {
		return newDomainError(KindUnauthorized, "error.signatureMissing", "webhook signature missing", nil)
	}

	if len(req.RawBody) > 0 && channels.Verify(secret, req.RawBody, received) {
		return nil
	}
	stripped := make(map[string]any, len(req.Payload))
	for k, v := range req.Payload {
		if k != payloadSignatureField {
			stripped[k] = v
		}
	}
	canonical, err := channels.CanonicalJSON(stripped)
	if err == nil && channels.Verify(secret, canonical, received) {
		return nil
	}
	return newDomainError(KindUnauthorized, "error.signatureInvalid", "webhook signature mismatch", nil)
}

// TestConnection probes the channel without touching local state.
func (w *WebhookGateway) TestConnection(ctx context.Context, channelKey string) (channels.ConnectionStatus, error) {
	adapter, integration, err := w.resolve(ctx, channelKey)
	if err != nil {
		return channels.ConnectionStatus{}, err
	}
	return adapter.TestConnection(ctx, integration)
}
