package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"

	"hotel-channel-sync/channels"
	"hotel-channel-sync/models"
)

type fakeAdapter struct {
	key      channels.Key
	autoSync bool
	pushErr  error
	panicMsg string
	ingest   func(ctx context.Context, in channels.IngestInput) (channels.ImportResult, error)

	mu     sync.Mutex
	pushes []channels.SignedUpdate
}

func (f *fakeAdapter) Key() channels.Key      { return f.key }
func (f *fakeAdapter) SupportsAutoSync() bool { return f.autoSync }

func (f *fakeAdapter) Ingest(ctx context.Context, in channels.IngestInput) (channels.ImportResult, error) {
	if f.ingest == nil {
		return channels.ImportResult{}, nil
	}
	return f.ingest(ctx, in)
}

func (f *fakeAdapter) PushUpdate(_ context.Context, _ *models.ChannelIntegration, u channels.SignedUpdate) error {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, u)
	return f.pushErr
}

func (f *fakeAdapter) TestConnection(context.Context, *models.ChannelIntegration) (channels.ConnectionStatus, error) {
	return channels.ConnectionStatus{OK: true, Detail: "fake"}, nil
}

func (f *fakeAdapter) received() []channels.SignedUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channels.SignedUpdate(nil), f.pushes...)
}

func boolPtr(b bool) *bool { return &b }

func seedIntegration(t *testing.T, svc *IntegrationService, key string, active bool, secret string, settings models.IntegrationSettings) {
	t.Helper()
	_, err := svc.Upsert(context.Background(), models.ChannelIntegration{
		Key:           key,
		DisplayName:   key,
		Active:        active,
		WebhookSecret: secret,
		Settings:      datatypes.NewJSONType(settings),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

type dispatcherFixture struct {
	dispatcher *SyncDispatcher
	log        *MemoryDispatchLog
	registry   *channels.Registry
}

func newDispatcherFixture(t *testing.T, window time.Duration, adapters ...channels.Adapter) dispatcherFixture {
	t.Helper()
	db := newTestDB(t)
	registry := channels.NewRegistry(nil, nil)
	for _, a := range adapters {
		if err := registry.Replace(a); err != nil {
			t.Fatalf("replace adapter: %v", err)
		}
	}
	dlog := NewMemoryDispatchLog(100)
	d := NewSyncDispatcher(db, registry, NewIntegrationService(db), dlog, SyncDispatcherConfig{DebounceWindow: window})
	return dispatcherFixture{dispatcher: d, log: dlog, registry: registry}
}

func pendingEntries(t *testing.T, d *SyncDispatcher) []models.SyncQueueEntry {
	t.Helper()
	entries, err := d.ListEntries(context.Background(), models.SyncStatusPending, 100)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	return entries
}

func TestPushUpdateCoalescesPerUnit(t *testing.T) {
	f := newDispatcherFixture(t, time.Hour)
	d := f.dispatcher

	for i := 0; i < 5; i++ {
		d.PushUpdate(UpdateRequest{UnitID: 1, Type: UpdateLockCreate, Payload: map[string]any{"n": i}})
	}
	d.PushUpdate(UpdateRequest{UnitID: 2, Type: UpdateLockRelease})
	d.PushUpdate(UpdateRequest{UnitID: 0, Type: UpdateLockCreate})

	if s := d.DebounceState(1); s != BatchAccumulating {
		t.Fatalf("expected unit 1 accumulating, got %s", s)
	}
	if s := d.DebounceState(3); s != BatchIdle {
		t.Fatalf("expected unit 3 idle, got %s", s)
	}
	if n := len(pendingEntries(t, d)); n != 0 {
		t.Fatalf("nothing should be queued inside the window, got %d", n)
	}

	if err := d.FlushPendingDebounce(context.Background()); err != nil {
		t.Fatalf("flush debounce: %v", err)
	}
	entries := pendingEntries(t, d)
	if len(entries) != 2 {
		t.Fatalf("expected one entry per unit, got %d", len(entries))
	}
	byUnit := map[uint]models.SyncQueueEntry{}
	for _, e := range entries {
		byUnit[e.UnitID] = e
	}
	if e := byUnit[1]; e.Type != models.SyncTypeBatch || len(e.Payload.Data().Records) != 5 {
		t.Fatalf("unit 1: expected batch of 5, got %s with %d records", e.Type, len(e.Payload.Data().Records))
	}
	if e := byUnit[2]; e.Type != UpdateLockRelease || len(e.Payload.Data().Records) != 1 {
		t.Fatalf("unit 2: expected single %s record, got %s with %d", UpdateLockRelease, e.Type, len(e.Payload.Data().Records))
	}
	if s := d.DebounceState(1); s != BatchIdle {
		t.Fatalf("expected unit 1 idle after flush, got %s", s)
	}
}

func TestPushUpdateDefaultsType(t *testing.T) {
	f := newDispatcherFixture(t, time.Hour)
	f.dispatcher.PushUpdate(UpdateRequest{UnitID: 4})
	if err := f.dispatcher.FlushPendingDebounce(context.Background()); err != nil {
		t.Fatalf("flush debounce: %v", err)
	}
	entries := pendingEntries(t, f.dispatcher)
	if len(entries) != 1 || entries[0].Type != "update" {
		t.Fatalf("expected one update entry, got %+v", entries)
	}
}

func TestDebounceWindowExpiryQueuesBatch(t *testing.T) {
	f := newDispatcherFixture(t, 30*time.Millisecond)
	d := f.dispatcher

	d.PushUpdate(UpdateRequest{UnitID: 8, Type: UpdateLockCreate})
	d.PushUpdate(UpdateRequest{UnitID: 8, Type: UpdateLockUpdate})

	deadline := time.Now().Add(3 * time.Second)
	for {
		entries := pendingEntries(t, d)
		if len(entries) == 1 {
			if entries[0].Type != models.SyncTypeBatch {
				t.Fatalf("expected batch, got %s", entries[0].Type)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("debounce window never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// a new update after the flush opens a fresh window
	d.PushUpdate(UpdateRequest{UnitID: 8, Type: UpdateLockRelease})
	if s := d.DebounceState(8); s != BatchAccumulating {
		t.Fatalf("expected a new accumulating batch, got %s", s)
	}
	if err := d.FlushPendingDebounce(context.Background()); err != nil {
		t.Fatalf("flush debounce: %v", err)
	}
	if n := len(pendingEntries(t, d)); n != 2 {
		t.Fatalf("expected two entries, got %d", n)
	}
}

func queueOneEntry(t *testing.T, d *SyncDispatcher, unitID uint) {
	t.Helper()
	d.PushUpdate(UpdateRequest{UnitID: unitID, Type: UpdateLockCreate, Payload: map[string]any{"unitId": unitID}})
	if err := d.FlushPendingDebounce(context.Background()); err != nil {
		t.Fatalf("flush debounce: %v", err)
	}
}

func TestFlushQueueIsolatesChannelFailures(t *testing.T) {
	failing := &fakeAdapter{key: channels.Airbnb, autoSync: true, pushErr: errors.New("airbnb is down")}
	healthy := &fakeAdapter{key: channels.BookingCom, autoSync: true}
	inactive := &fakeAdapter{key: channels.Vrbo, autoSync: true}
	pullOnly := &fakeAdapter{key: channels.ICal, autoSync: false}
	disabled := &fakeAdapter{key: channels.ChannelBus, autoSync: true}
	f := newDispatcherFixture(t, time.Hour, failing, healthy, inactive, pullOnly, disabled)
	d := f.dispatcher
	ctx := context.Background()

	seedIntegration(t, d.Integrations, "airbnb", true, "", models.IntegrationSettings{})
	seedIntegration(t, d.Integrations, "booking_com", true, "s3cret", models.IntegrationSettings{})
	seedIntegration(t, d.Integrations, "vrbo", false, "", models.IntegrationSettings{})
	seedIntegration(t, d.Integrations, "ical", true, "", models.IntegrationSettings{})
	seedIntegration(t, d.Integrations, "channel_bus", true, "", models.IntegrationSettings{AutoSync: models.AutoSyncSettings{Enabled: boolPtr(false)}})

	queueOneEntry(t, d, 5)
	res, err := d.FlushQueue(ctx, 10)
	if err != nil {
		t.Fatalf("flush queue: %v", err)
	}
	if res.Processed != 0 || res.Failed != 1 || res.Remaining != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	got := healthy.received()
	if len(got) != 1 {
		t.Fatalf("booking_com should receive the entry, got %d pushes", len(got))
	}
	if got[0].UnitID != 5 || got[0].Channel != channels.BookingCom {
		t.Fatalf("unexpected update %+v", got[0])
	}
	expected, err := channels.SignValue("s3cret", got[0].Body())
	if err != nil || expected == "" || got[0].Signature != expected {
		t.Fatalf("signature mismatch: got %q want %q (%v)", got[0].Signature, expected, err)
	}
	if len(failing.received()) != 1 {
		t.Fatalf("airbnb push should have been attempted")
	}
	for _, a := range []*fakeAdapter{inactive, pullOnly, disabled} {
		if n := len(a.received()); n != 0 {
			t.Fatalf("%s should not be pushed, got %d", a.key, n)
		}
	}

	entries, err := d.ListEntries(ctx, models.SyncStatusFailed, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one failed entry, got %d (%v)", len(entries), err)
	}
	entry := entries[0]
	if !strings.Contains(entry.LastError, "airbnb is down") {
		t.Fatalf("entry should carry airbnb's error, got %q", entry.LastError)
	}
	meta := entry.Dispatch.Data()
	if meta["booking_com"].Signature != expected || meta["airbnb"].Error == "" {
		t.Fatalf("unexpected dispatch metadata %+v", meta)
	}

	logged, err := f.log.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(logged) != 1 || logged[0].Channel != "booking_com" || logged[0].Signature != expected {
		t.Fatalf("expected only booking_com in the dispatch log, got %+v", logged)
	}

	airbnb, err := d.Integrations.GetIntegration(ctx, "airbnb")
	if err != nil || airbnb == nil {
		t.Fatalf("load airbnb: %v", err)
	}
	if airbnb.LastSyncStatus != models.SyncResultError || !strings.Contains(airbnb.LastSyncError, "airbnb is down") {
		t.Fatalf("airbnb sync status not recorded: %+v", airbnb)
	}
}

func TestFlushQueueRecoversAdapterPanics(t *testing.T) {
	panicking := &fakeAdapter{key: channels.Airbnb, autoSync: true, panicMsg: "boom"}
	healthy := &fakeAdapter{key: channels.Vrbo, autoSync: true}
	f := newDispatcherFixture(t, time.Hour, panicking, healthy)
	d := f.dispatcher

	seedIntegration(t, d.Integrations, "airbnb", true, "", models.IntegrationSettings{})
	seedIntegration(t, d.Integrations, "vrbo", true, "", models.IntegrationSettings{})

	queueOneEntry(t, d, 1)
	queueOneEntry(t, d, 2)
	res, err := d.FlushQueue(context.Background(), 10)
	if err != nil {
		t.Fatalf("flush queue: %v", err)
	}
	if res.Failed != 2 {
		t.Fatalf("expected both entries failed, got %+v", res)
	}
	if n := len(healthy.received()); n != 2 {
		t.Fatalf("vrbo should still get both entries, got %d", n)
	}
}

func TestFlushQueueProcessesInOrderWithLimit(t *testing.T) {
	healthy := &fakeAdapter{key: channels.Airbnb, autoSync: true}
	f := newDispatcherFixture(t, time.Hour, healthy)
	d := f.dispatcher
	seedIntegration(t, d.Integrations, "airbnb", true, "", models.IntegrationSettings{})

	for unit := uint(1); unit <= 3; unit++ {
		queueOneEntry(t, d, unit)
	}
	res, err := d.FlushQueue(context.Background(), 2)
	if err != nil {
		t.Fatalf("flush queue: %v", err)
	}
	if res.Processed != 2 || res.Remaining != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	got := healthy.received()
	if got[0].UnitID != 1 || got[1].UnitID != 2 {
		t.Fatalf("entries should go out oldest first, got units %d, %d", got[0].UnitID, got[1].UnitID)
	}

	// with no subscribed channel an entry is simply processed
	res, err = d.FlushQueue(context.Background(), 0)
	if err != nil || res.Processed != 1 || res.Remaining != 0 {
		t.Fatalf("unexpected second flush %+v (%v)", res, err)
	}
}

func TestRetryEntry(t *testing.T) {
	failing := &fakeAdapter{key: channels.Airbnb, autoSync: true, pushErr: errors.New("nope")}
	f := newDispatcherFixture(t, time.Hour, failing)
	d := f.dispatcher
	ctx := context.Background()
	seedIntegration(t, d.Integrations, "airbnb", true, "", models.IntegrationSettings{})

	queueOneEntry(t, d, 3)
	if _, err := d.FlushQueue(ctx, 10); err != nil {
		t.Fatalf("flush queue: %v", err)
	}
	failed, err := d.ListEntries(ctx, models.SyncStatusFailed, 10)
	if err != nil || len(failed) != 1 {
		t.Fatalf("expected a failed entry, got %d (%v)", len(failed), err)
	}

	entry, err := d.RetryEntry(ctx, failed[0].ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if entry.Status != models.SyncStatusPending {
		t.Fatalf("expected pending, got %s", entry.Status)
	}
	if _, err := d.RetryEntry(ctx, failed[0].ID); !IsValidation(err) {
		t.Fatalf("retrying a pending entry should be rejected, got %v", err)
	}
	if _, err := d.RetryEntry(ctx, 4242); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := d.ListEntries(ctx, "stuck", 10); !IsValidation(err) {
		t.Fatalf("unknown status filter should be rejected, got %v", err)
	}
}

func backdateEntry(t *testing.T, d *SyncDispatcher, id uint, age time.Duration) {
	t.Helper()
	err := d.DB.Model(&models.SyncQueueEntry{}).Where("id = ?", id).
		UpdateColumn("updated_at", time.Now().UTC().Add(-age)).Error
	if err != nil {
		t.Fatalf("backdate entry %d: %v", id, err)
	}
}

func TestFlushQueueReclaimsAbandonedEntries(t *testing.T) {
	airbnb := &fakeAdapter{key: channels.Airbnb, autoSync: true}
	f := newDispatcherFixture(t, time.Hour, airbnb)
	d := f.dispatcher
	ctx := context.Background()
	seedIntegration(t, d.Integrations, "airbnb", true, "", models.IntegrationSettings{})

	queueOneEntry(t, d, 4)
	id := pendingEntries(t, d)[0].ID
	// a flusher claims the entry and dies before pushing
	if ok, err := d.claim(ctx, id); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}

	res, err := d.FlushQueue(ctx, 10)
	if err != nil {
		t.Fatalf("flush queue: %v", err)
	}
	if res.Processed != 0 || len(airbnb.received()) != 0 {
		t.Fatalf("an entry inside its lease must be left alone, got %+v", res)
	}

	backdateEntry(t, d, id, DefaultProcessingLease+time.Minute)
	res, err = d.FlushQueue(ctx, 10)
	if err != nil {
		t.Fatalf("flush queue: %v", err)
	}
	if res.Processed != 1 || len(airbnb.received()) != 1 {
		t.Fatalf("expected the abandoned entry to be pushed, got %+v pushes=%d", res, len(airbnb.received()))
	}
	processed, _ := d.ListEntries(ctx, models.SyncStatusProcessed, 10)
	if len(processed) != 1 || processed[0].ID != id {
		t.Fatalf("expected entry %d processed, got %+v", id, processed)
	}
}

func TestRetryEntryAcceptsStaleProcessing(t *testing.T) {
	f := newDispatcherFixture(t, time.Hour)
	d := f.dispatcher
	ctx := context.Background()

	queueOneEntry(t, d, 5)
	id := pendingEntries(t, d)[0].ID
	if ok, err := d.claim(ctx, id); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if _, err := d.RetryEntry(ctx, id); !IsValidation(err) {
		t.Fatalf("a live claim must not be retried, got %v", err)
	}

	backdateEntry(t, d, id, DefaultProcessingLease+time.Minute)
	entry, err := d.RetryEntry(ctx, id)
	if err != nil {
		t.Fatalf("retry stale entry: %v", err)
	}
	if entry.Status != models.SyncStatusPending || len(pendingEntries(t, d)) != 1 {
		t.Fatalf("expected the stale entry back on the queue, got %s", entry.Status)
	}
}

func TestRunFlushesPendingBatchesOnShutdown(t *testing.T) {
	f := newDispatcherFixture(t, time.Hour)
	d := f.dispatcher
	d.PushUpdate(UpdateRequest{UnitID: 7, Type: UpdateLockCreate})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
	if n := len(pendingEntries(t, d)); n != 1 {
		t.Fatalf("pending batch should be persisted on shutdown, got %d entries", n)
	}
}
