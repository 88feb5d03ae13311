package services

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"hotel-channel-sync/models"
)

// BatchState is where a unit sits in the coalescing cycle:
// IDLE -> ACCUMULATING -> FLUSHING -> IDLE.
type BatchState string

const (
	BatchIdle         BatchState = "IDLE"
	BatchAccumulating BatchState = "ACCUMULATING"
	BatchFlushing     BatchState = "FLUSHING"
)

type persistFunc func(ctx context.Context, unitID uint, records []models.SyncRecord) error

type pendingBatch struct {
	records []models.SyncRecord
	timer   *time.Timer
}

// debounceRegistry keeps at most one accumulating batch per unit. A batch
// opens on the first update for its unit and is persisted once the fixed
// window elapses; updates that arrive while it is being persisted open the
// next batch.
type debounceRegistry struct {
	window  time.Duration
	persist persistFunc

	mu       sync.Mutex
	idle     *sync.Cond
	batches  map[uint]*pendingBatch
	flushing map[uint]int
}

func newDebounceRegistry(window time.Duration, persist persistFunc) *debounceRegistry {
	r := &debounceRegistry{
		window:   window,
		persist:  persist,
		batches:  map[uint]*pendingBatch{},
		flushing: map[uint]int{},
	}
	r.idle = sync.NewCond(&r.mu)
	return r
}

func (r *debounceRegistry) add(unitID uint, rec models.SyncRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[unitID]
	if !ok {
		b = &pendingBatch{}
		r.batches[unitID] = b
		b.timer = time.AfterFunc(r.window, func() { r.fire(unitID, b) })
	}
	b.records = append(b.records, rec)
}

func (r *debounceRegistry) fire(unitID uint, b *pendingBatch) {
	if !r.take(unitID, b) {
		return
	}
	if err := r.persist(context.Background(), unitID, b.records); err != nil {
		log.Error().Err(err).Uint("unit_id", unitID).Int("records", len(b.records)).Msg("failed to persist debounced batch")
	}
	r.done(unitID)
}

// take moves b from ACCUMULATING to FLUSHING. It fails when b was already
// taken by a force flush.
func (r *debounceRegistry) take(unitID uint, b *pendingBatch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.batches[unitID]; !ok || cur != b {
		return false
	}
	delete(r.batches, unitID)
	r.flushing[unitID]++
	return true
}

func (r *debounceRegistry) done(unitID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushing[unitID]--
	if r.flushing[unitID] <= 0 {
		delete(r.flushing, unitID)
	}
	r.idle.Broadcast()
}

// flushAll fires every open window now and waits for batches that timers
// are already persisting.
func (r *debounceRegistry) flushAll(ctx context.Context) error {
	r.mu.Lock()
	taken := make(map[uint]*pendingBatch, len(r.batches))
	for unitID, b := range r.batches {
		b.timer.Stop()
		taken[unitID] = b
		delete(r.batches, unitID)
		r.flushing[unitID]++
	}
	r.mu.Unlock()

	var errs []error
	for unitID, b := range taken {
		if err := r.persist(ctx, unitID, b.records); err != nil {
			errs = append(errs, errors.Wrapf(err, "unit %d", unitID))
		}
		r.done(unitID)
	}

	r.mu.Lock()
	for len(r.flushing) > 0 {
		r.idle.Wait()
	}
	r.mu.Unlock()

	if len(errs) > 0 {
		return errors.Errorf("flush pending batches: %d failed: %v", len(errs), errs)
	}
	return nil
}

func (r *debounceRegistry) state(unitID uint) BatchState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[unitID]; ok {
		return BatchAccumulating
	}
	if r.flushing[unitID] > 0 {
		return BatchFlushing
	}
	return BatchIdle
}

func (r *debounceRegistry) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}
