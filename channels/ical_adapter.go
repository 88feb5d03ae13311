package channels

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"hotel-channel-sync/models"
)

// ICalAdapter covers calendar-feed channels. Their reservations arrive as
// imported feeds; availability is published by the feed itself, so there
// is nothing to push.
type ICalAdapter struct {
	normalizer Normalizer
	client     *http.Client
}

func NewICalAdapter(normalizer Normalizer, client *http.Client) *ICalAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &ICalAdapter{normalizer: normalizer, client: client}
}

func (a *ICalAdapter) Key() Key { return ICal }

func (a *ICalAdapter) SupportsAutoSync() bool { return false }

func (a *ICalAdapter) Ingest(ctx context.Context, in IngestInput) (ImportResult, error) {
	if a.normalizer == nil {
		return ImportResult{}, errors.New("no normalizer configured")
	}
	return a.normalizer.ImportFromWebhook(ctx, ImportRequest{
		ChannelKey:  ICal,
		Payload:     in.Payload,
		SourceLabel: sourceLabel(ICal, "import"),
		Integration: in.Integration,
	})
}

func (a *ICalAdapter) PushUpdate(context.Context, *models.ChannelIntegration, SignedUpdate) error {
	return ErrPushUnsupported
}

func (a *ICalAdapter) TestConnection(ctx context.Context, integration *models.ChannelIntegration) (ConnectionStatus, error) {
	feed := strings.TrimSpace(settingsOf(integration).FeedURL)
	if feed == "" {
		return ConnectionStatus{OK: false, Detail: "feed url not configured", CheckedAt: time.Now().UTC()}, nil
	}
	return probeURL(ctx, a.client, feed)
}
