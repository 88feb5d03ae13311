package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GuardOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_guard_outcomes_total",
		Help: "Slot reservations by outcome (create, update, noop, release, conflict, invalid).",
	}, []string{"outcome", "source"})

	DebounceBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "channel_sync_batches_total",
		Help: "Debounced batches written to the sync queue.",
	})

	QueueEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_sync_queue_entries_total",
		Help: "Sync queue entries by flush outcome.",
	}, []string{"status"})

	ChannelPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_push_total",
		Help: "Outbound pushes per channel and result.",
	}, []string{"channel", "result"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_webhook_deliveries_total",
		Help: "Inbound webhook deliveries per channel and result.",
	}, []string{"channel", "result"})

	UnlockedImports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_unlocked_imports_total",
		Help: "Imported reservations left without a lock after a guard failure.",
	}, []string{"channel"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})
)
