package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hotel-channel-sync/channels"
	"hotel-channel-sync/metrics"
	"hotel-channel-sync/models"
)

const (
	DefaultDebounceWindow = time.Second
	DefaultFlushInterval  = 5 * time.Second
	DefaultFlushLimit     = 50
	// a processing entry older than this was abandoned by a crashed flusher
	DefaultProcessingLease = 5 * time.Minute

	defaultUpdateType = "update"
)

// UpdateRequest is an inventory change some channel may need to hear about.
type UpdateRequest struct {
	UnitID  uint   `json:"unitId"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// UpdatePusher accepts updates without blocking on channel I/O.
type UpdatePusher interface {
	PushUpdate(req UpdateRequest)
}

type SyncDispatcherConfig struct {
	DebounceWindow time.Duration
	FlushInterval  time.Duration
	FlushLimit     int
	// ProcessingLease bounds how long an entry may stay claimed.
	ProcessingLease time.Duration
}

type FlushResult struct {
	Processed int   `json:"processed"`
	Failed    int   `json:"failed"`
	Remaining int64 `json:"remaining"`
}

// SyncDispatcher turns inventory changes into queued, signed pushes to every
// subscribed channel.
type SyncDispatcher struct {
	DB           *gorm.DB
	Registry     *channels.Registry
	Integrations *IntegrationService
	DispatchLog  DispatchLog

	cfg      SyncDispatcherConfig
	debounce *debounceRegistry
}

func NewSyncDispatcher(db *gorm.DB, registry *channels.Registry, integrations *IntegrationService, dispatchLog DispatchLog, cfg SyncDispatcherConfig) *SyncDispatcher {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.FlushLimit <= 0 {
		cfg.FlushLimit = DefaultFlushLimit
	}
	if cfg.ProcessingLease <= 0 {
		cfg.ProcessingLease = DefaultProcessingLease
	}
	if dispatchLog == nil {
		dispatchLog = NewMemoryDispatchLog(0)
	}
	d := &SyncDispatcher{
		DB:           db,
		Registry:     registry,
		Integrations: integrations,
		DispatchLog:  dispatchLog,
		cfg:          cfg,
	}
	d.debounce = newDebounceRegistry(cfg.DebounceWindow, d.enqueue)
	return d
}

// PushUpdate records the update in the unit's debounce window. Updates
// without a unit are dropped.
func (d *SyncDispatcher) PushUpdate(req UpdateRequest) {
	if req.UnitID == 0 {
		return
	}
	if req.Type == "" {
		req.Type = defaultUpdateType
	}
	d.debounce.add(req.UnitID, models.SyncRecord{
		Type:       req.Type,
		Payload:    req.Payload,
		ReceivedAt: time.Now().UTC(),
	})
}

// FlushPendingDebounce writes every open batch to the queue now.
func (d *SyncDispatcher) FlushPendingDebounce(ctx context.Context) error {
	return d.debounce.flushAll(ctx)
}

func (d *SyncDispatcher) DebounceState(unitID uint) BatchState {
	return d.debounce.state(unitID)
}

func (d *SyncDispatcher) enqueue(ctx context.Context, unitID uint, records []models.SyncRecord) error {
	if len(records) == 0 {
		return nil
	}
	entryType := records[0].Type
	if len(records) > 1 {
		entryType = models.SyncTypeBatch
	}
	entry := models.SyncQueueEntry{
		UnitID:  unitID,
		Type:    entryType,
		Payload: datatypes.NewJSONType(models.SyncPayload{Records: records}),
		Status:  models.SyncStatusPending,
	}
	if err := d.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		return errors.Wrapf(err, "enqueue sync entry for unit %d", unitID)
	}
	metrics.DebounceBatches.Inc()
	log.Debug().Uint("unit_id", unitID).Str("type", entryType).Int("records", len(records)).Msg("sync entry queued")
	return nil
}

type pushTarget struct {
	key         channels.Key
	adapter     channels.Adapter
	integration models.ChannelIntegration
}

func (d *SyncDispatcher) targets(ctx context.Context) ([]pushTarget, error) {
	list, err := d.Integrations.ListIntegrations(ctx)
	if err != nil {
		return nil, err
	}
	var out []pushTarget
	for _, integ := range list {
		if !integ.Active || integ.Settings.Data().AutoSyncDisabled() {
			continue
		}
		key, err := channels.ParseKey(integ.Key)
		if err != nil {
			log.Warn().Str("channel", integ.Key).Msg("integration has no adapter")
			continue
		}
		adapter, err := d.Registry.Lookup(key)
		if err != nil || !adapter.SupportsAutoSync() {
			continue
		}
		out = append(out, pushTarget{key: key, adapter: adapter, integration: integ})
	}
	return out, nil
}

// FlushQueue pushes up to limit pending entries, oldest first.
func (d *SyncDispatcher) FlushQueue(ctx context.Context, limit int) (FlushResult, error) {
	ctx, span := tracer.Start(ctx, "SyncDispatcher.FlushQueue")
	defer span.End()

	if limit <= 0 {
		limit = d.cfg.FlushLimit
	}
	var result FlushResult

	if _, err := d.reclaimStale(ctx); err != nil {
		span.RecordError(err)
		return result, err
	}

	var entries []models.SyncQueueEntry
	err := d.DB.WithContext(ctx).
		Where("status = ?", models.SyncStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		span.RecordError(err)
		return result, errors.Wrap(err, "load pending sync entries")
	}

	var targets []pushTarget
	if len(entries) > 0 {
		if targets, err = d.targets(ctx); err != nil {
			span.RecordError(err)
			return result, err
		}
	}

	for i := range entries {
		claimed, err := d.claim(ctx, entries[i].ID)
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}
		if d.dispatch(ctx, &entries[i], targets) {
			result.Processed++
		} else {
			result.Failed++
		}
	}

	if err := d.DB.WithContext(ctx).Model(&models.SyncQueueEntry{}).
		Where("status = ?", models.SyncStatusPending).
		Count(&result.Remaining).Error; err != nil {
		return result, errors.Wrap(err, "count pending sync entries")
	}
	span.SetAttributes(
		attribute.Int("sync.processed", result.Processed),
		attribute.Int("sync.failed", result.Failed),
		attribute.Int64("sync.remaining", result.Remaining),
	)
	if result.Failed > 0 {
		span.SetStatus(codes.Error, "some entries failed")
	}
	return result, nil
}

// claim moves an entry from pending to processing. Another worker that got
// there first wins.
func (d *SyncDispatcher) claim(ctx context.Context, id uint) (bool, error) {
	res := d.DB.WithContext(ctx).Model(&models.SyncQueueEntry{}).
		Where("id = ? AND status = ?", id, models.SyncStatusPending).
		Update("status", models.SyncStatusProcessing)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "claim sync entry %d", id)
	}
	return res.RowsAffected == 1, nil
}

// reclaimStale returns claimed entries whose lease expired to pending, so a
// flusher that died mid-push does not strand them.
func (d *SyncDispatcher) reclaimStale(ctx context.Context) (int64, error) {
	res := d.DB.WithContext(ctx).Model(&models.SyncQueueEntry{}).
		Where("status = ? AND updated_at < ?", models.SyncStatusProcessing, d.leaseCutoff()).
		Update("status", models.SyncStatusPending)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "reclaim stale sync entries")
	}
	if res.RowsAffected > 0 {
		log.Warn().Int64("entries", res.RowsAffected).Dur("lease", d.cfg.ProcessingLease).Msg("reclaimed stale processing entries")
		metrics.QueueEntries.WithLabelValues("reclaimed").Add(float64(res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (d *SyncDispatcher) leaseCutoff() time.Time {
	return time.Now().UTC().Add(-d.cfg.ProcessingLease)
}

func (d *SyncDispatcher) dispatch(ctx context.Context, entry *models.SyncQueueEntry, targets []pushTarget) bool {
	meta := map[string]models.ChannelDispatch{}
	for k, v := range entry.Dispatch.Data() {
		meta[k] = v
	}
	payload := entry.Payload.Data()

	var failures []string
	for _, t := range targets {
		update := channels.SignedUpdate{
			DeliveryID:   uuid.NewString(),
			Channel:      t.key,
			UnitID:       entry.UnitID,
			Type:         entry.Type,
			Payload:      payload,
			DispatchedAt: time.Now().UTC(),
		}
		pushErr := d.pushOne(ctx, t, &update)

		rec := models.ChannelDispatch{
			Signature:    update.Signature,
			DispatchedAt: update.DispatchedAt,
			DeliveryID:   update.DeliveryID,
		}
		if pushErr != nil {
			rec.Error = pushErr.Error()
			failures = append(failures, fmt.Sprintf("%s: %v", t.key, pushErr))
			metrics.ChannelPushes.WithLabelValues(string(t.key), "error").Inc()
			log.Warn().Err(pushErr).Str("channel", string(t.key)).Uint("entry_id", entry.ID).Msg("channel push failed")
		} else {
			metrics.ChannelPushes.WithLabelValues(string(t.key), "ok").Inc()
			if err := d.DispatchLog.Append(ctx, DispatchRecord{
				ID:           update.DeliveryID,
				Channel:      string(t.key),
				EntryID:      entry.ID,
				UnitID:       entry.UnitID,
				Type:         entry.Type,
				Signature:    update.Signature,
				DispatchedAt: update.DispatchedAt,
			}); err != nil {
				log.Error().Err(err).Str("channel", string(t.key)).Msg("failed to append dispatch log")
			}
		}
		meta[string(t.key)] = rec

		summary := map[string]any{"entryId": entry.ID, "unitId": entry.UnitID, "type": entry.Type}
		if err := d.Integrations.RecordSyncResult(ctx, t.integration.Key, pushErr, summary); err != nil {
			log.Error().Err(err).Str("channel", string(t.key)).Msg("failed to record sync result")
		}
	}

	status := models.SyncStatusProcessed
	lastError := ""
	if len(failures) > 0 {
		status = models.SyncStatusFailed
		lastError = strings.Join(failures, "; ")
	}
	err := d.DB.WithContext(ctx).Model(&models.SyncQueueEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"status":     status,
			"last_error": lastError,
			"dispatch":   datatypes.NewJSONType(meta),
		}).Error
	if err != nil {
		log.Error().Err(err).Uint("entry_id", entry.ID).Msg("failed to store sync entry outcome")
	}
	entry.Status = status
	entry.LastError = lastError
	entry.Dispatch = datatypes.NewJSONType(meta)
	metrics.QueueEntries.WithLabelValues(status).Inc()
	return len(failures) == 0
}

// pushOne signs and sends one update. A panicking adapter counts as a
// failed push for that channel only.
func (d *SyncDispatcher) pushOne(ctx context.Context, t pushTarget, update *channels.SignedUpdate) (err error) {
	ctx, span := tracer.Start(ctx, "channel.PushUpdate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("channel", string(t.key)), attribute.String("delivery.id", update.DeliveryID)))
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("adapter panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	sig, err := channels.SignValue(t.integration.SigningSecret(), update.Body())
	if err != nil {
		return errors.Wrap(err, "sign update")
	}
	update.Signature = sig
	return t.adapter.PushUpdate(ctx, &t.integration, *update)
}

// RetryEntry puts a failed entry, or one whose processing lease expired,
// back on the queue.
func (d *SyncDispatcher) RetryEntry(ctx context.Context, id uint) (models.SyncQueueEntry, error) {
	var entry models.SyncQueueEntry
	if err := d.DB.WithContext(ctx).First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entry, notFoundError("error.syncEntryNotFound", fmt.Sprintf("sync entry %d not found", id))
		}
		return entry, errors.Wrapf(err, "load sync entry %d", id)
	}
	q := d.DB.WithContext(ctx).Model(&models.SyncQueueEntry{})
	switch {
	case entry.Status == models.SyncStatusFailed:
		q = q.Where("id = ? AND status = ?", id, models.SyncStatusFailed)
	case entry.Status == models.SyncStatusProcessing && entry.UpdatedAt.Before(d.leaseCutoff()):
		q = q.Where("id = ? AND status = ? AND updated_at < ?", id, models.SyncStatusProcessing, d.leaseCutoff())
	default:
		return entry, validationError("error.syncEntryNotFailed", fmt.Sprintf("sync entry %d is %s, only failed or stale entries can be retried", id, entry.Status))
	}
	res := q.Update("status", models.SyncStatusPending)
	if res.Error != nil {
		return entry, errors.Wrapf(res.Error, "requeue sync entry %d", id)
	}
	if res.RowsAffected == 0 {
		return entry, conflictError("error.syncEntryChanged", fmt.Sprintf("sync entry %d changed while retrying", id))
	}
	entry.Status = models.SyncStatusPending
	return entry, nil
}

// ListEntries returns queue entries newest first, optionally by status.
func (d *SyncDispatcher) ListEntries(ctx context.Context, status string, limit int) ([]models.SyncQueueEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := d.DB.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		switch status {
		case models.SyncStatusPending, models.SyncStatusProcessing, models.SyncStatusProcessed, models.SyncStatusFailed:
		default:
			return nil, validationError("error.invalidStatus", fmt.Sprintf("unknown queue status %q", status))
		}
		q = q.Where("status = ?", status)
	}
	var entries []models.SyncQueueEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "list sync entries")
	}
	return entries, nil
}

// RecentDispatches reads the newest dispatch log records.
func (d *SyncDispatcher) RecentDispatches(ctx context.Context, limit int) ([]DispatchRecord, error) {
	return d.DispatchLog.Recent(ctx, limit)
}

// Run flushes the queue on a fixed interval until ctx ends, then writes out
// any batch still inside its debounce window.
func (d *SyncDispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", d.cfg.FlushInterval).Int("limit", d.cfg.FlushLimit).Msg("sync flush loop started")
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := d.FlushPendingDebounce(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to flush pending batches on shutdown")
				return err
			}
			log.Info().Msg("sync flush loop stopped")
			return nil
		case <-ticker.C:
			res, err := d.FlushQueue(ctx, d.cfg.FlushLimit)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("sync flush failed")
				}
				continue
			}
			if res.Processed+res.Failed > 0 {
				log.Info().Int("processed", res.Processed).Int("failed", res.Failed).Int64("remaining", res.Remaining).Msg("sync queue flushed")
			}
		}
	}
}
