package channels

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"hotel-channel-sync/models"
)

const (
	HeaderSignature  = "X-Channel-Signature"
	HeaderDeliveryID = "X-Delivery-Id"

	probeTimeout = 5 * time.Second
)

// OTAAdapter talks to an online travel agency over HTTP: webhook
// deliveries come in, signed availability updates go out as JSON.
type OTAAdapter struct {
	key        Key
	normalizer Normalizer
	client     *http.Client
}

func NewOTAAdapter(key Key, normalizer Normalizer, client *http.Client) *OTAAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &OTAAdapter{key: key, normalizer: normalizer, client: client}
}

func (a *OTAAdapter) Key() Key { return a.key }

func (a *OTAAdapter) SupportsAutoSync() bool { return true }

func (a *OTAAdapter) Ingest(ctx context.Context, in IngestInput) (ImportResult, error) {
	// channels send pings when a webhook url is registered
	if ev, _ := in.Payload["event"].(string); strings.EqualFold(ev, "ping") {
		return ImportResult{}, nil
	}
	if a.normalizer == nil {
		return ImportResult{}, errors.New("no normalizer configured")
	}
	return a.normalizer.ImportFromWebhook(ctx, ImportRequest{
		ChannelKey:  a.key,
		Payload:     in.Payload,
		SourceLabel: sourceLabel(a.key, "webhook"),
		Integration: in.Integration,
	})
}

func (a *OTAAdapter) PushUpdate(ctx context.Context, integration *models.ChannelIntegration, update SignedUpdate) error {
	settings := settingsOf(integration)
	endpoint := strings.TrimSpace(settings.AutoSync.URL)
	if endpoint == "" {
		return errors.Wrapf(ErrNotConfigured, "%s auto-sync url", a.key)
	}
	switch strings.ToLower(settings.AutoSync.Format) {
	case "", "json":
	default:
		return errors.Errorf("%s: unsupported auto-sync format %q", a.key, settings.AutoSync.Format)
	}

	body, err := CanonicalJSON(update.Body())
	if err != nil {
		return errors.Wrap(err, "serialize update")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDeliveryID, update.DeliveryID)
	if update.Signature != "" {
		req.Header.Set(HeaderSignature, update.Signature)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "push to %s", a.key)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("%s rejected update: status %d: %s", a.key, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func (a *OTAAdapter) TestConnection(ctx context.Context, integration *models.ChannelIntegration) (ConnectionStatus, error) {
	endpoint := strings.TrimSpace(settingsOf(integration).AutoSync.URL)
	if endpoint == "" {
		return ConnectionStatus{OK: false, Detail: "auto-sync url not configured", CheckedAt: time.Now().UTC()}, nil
	}
	return probeURL(ctx, a.client, endpoint)
}

// probeURL issues a HEAD request; anything below 500 means the endpoint is
// reachable.
func probeURL(ctx context.Context, client *http.Client, endpoint string) (ConnectionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return ConnectionStatus{}, errors.Wrap(err, "build probe")
	}
	resp, err := client.Do(req)
	now := time.Now().UTC()
	if err != nil {
		return ConnectionStatus{OK: false, Detail: err.Error(), CheckedAt: now}, nil
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return ConnectionStatus{OK: false, Detail: fmt.Sprintf("status %d", resp.StatusCode), CheckedAt: now}, nil
	}
	return ConnectionStatus{OK: true, Detail: fmt.Sprintf("status %d", resp.StatusCode), CheckedAt: now}, nil
}
