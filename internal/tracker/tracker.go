// Package tracker advances occupied-slot durations and predictions on a
// fast cadence and recomputes per-lot analytics on a slow cadence. A tick
// that cannot reach the store is skipped, never fatal: tracker liveness
// must survive transient store outages.
package tracker

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"parking-status-backend/config"
	"parking-status-backend/internal/broadcast"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/predict"
	"parking-status-backend/internal/store"
)

// How far back the slow tick looks when recalibrating the estimator.
const recalibrateLookback = 30 * 24 * time.Hour

// Tracker runs the two periodic update passes.
type Tracker struct {
	cfg         *config.TrackerConfig
	store       store.Store
	broadcaster *broadcast.Broadcaster
	estimator   predict.Estimator
	profile     *predict.ProfileEstimator // non-nil when the estimator learns from history

	fastBusy atomic.Bool
	slowBusy atomic.Bool

	mu        sync.Mutex
	storeDown bool

	now func() time.Time
}

// New creates a tracker. If the estimator is a ProfileEstimator it is
// recalibrated from booking history on each slow tick.
func New(cfg *config.TrackerConfig, s store.Store, b *broadcast.Broadcaster, est predict.Estimator) *Tracker {
	t := &Tracker{
		cfg:         cfg,
		store:       s,
		broadcaster: b,
		estimator:   est,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if p, ok := est.(*predict.ProfileEstimator); ok {
		t.profile = p
	}
	return t
}

// Run ticks until ctx is cancelled. Each tick runs in its own goroutine and
// is guarded against overlap: a tick still running when the next one fires
// is skipped, not queued.
func (t *Tracker) Run(ctx context.Context) {
	log.Println("tracker: starting")

	fast := time.NewTicker(t.cfg.FastTick)
	slow := time.NewTicker(t.cfg.SlowTick)
	defer fast.Stop()
	defer slow.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("tracker: shutting down")
			return
		case <-fast.C:
			go t.FastTick(ctx)
		case <-slow.C:
			go t.SlowTick(ctx)
		}
	}
}

// FastTick advances every occupied slot: recompute current duration from
// the status-change timestamp, count the prediction down (floored at zero),
// and fill in a missing prediction from the heuristics. One
// durations-updated event is emitted per lot with changed slots.
func (t *Tracker) FastTick(ctx context.Context) {
	if !t.fastBusy.CompareAndSwap(false, true) {
		return
	}
	defer t.fastBusy.Store(false)

	now := t.now()
	slots, err := t.store.ListOccupiedSlots(ctx)
	if err != nil {
		t.storeError(err)
		return
	}

	elapsed := t.cfg.FastTickSeconds
	byLot := make(map[int64][]broadcast.SlotChange)
	lotOrder := make([]int64, 0, 4)

	for i := range slots {
		// The listing is a stale snapshot; the slot is re-read inside its own
		// transaction so a release that committed since the listing is never
		// overwritten. Only the engine flips occupancy.
		var updated *model.Slot
		err := t.store.Transaction(ctx, func(tx store.Store) error {
			slot, err := tx.GetSlot(ctx, slots[i].ID)
			if err != nil {
				return err
			}
			if !slot.IsOccupied {
				return nil
			}

			slot.CurrentDuration = int(now.Sub(slot.LastStatusChange).Seconds())

			remaining := slot.PredictedVacancySeconds - elapsed
			if remaining < 0 {
				remaining = 0
			}
			if remaining == 0 && t.estimator != nil {
				remaining, _ = t.estimator.EstimateVacancy(*slot, now)
			}
			slot.PredictedVacancySeconds = remaining

			if err := tx.SaveSlot(ctx, slot); err != nil {
				return err
			}
			updated = slot
			return nil
		})
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			t.storeError(err)
			return
		}
		if updated == nil {
			continue
		}

		if _, seen := byLot[updated.LotID]; !seen {
			lotOrder = append(lotOrder, updated.LotID)
		}
		byLot[updated.LotID] = append(byLot[updated.LotID], broadcast.SlotChange{
			SlotID:                  updated.ID,
			IsOccupied:              true,
			PredictedVacancySeconds: updated.PredictedVacancySeconds,
			CurrentDuration:         updated.CurrentDuration,
		})
	}
	t.storeRecovered()

	if t.broadcaster != nil {
		for _, lotID := range lotOrder {
			t.broadcaster.Notify(broadcast.Event{
				Type:  broadcast.EventDurationsUpdated,
				LotID: lotID,
				Slots: byLot[lotID],
			})
		}
	}
}

// SlowTick recomputes per-lot occupancy counters and upserts one analytics
// row per (lot, date, hour), then recalibrates the estimator.
func (t *Tracker) SlowTick(ctx context.Context) {
	if !t.slowBusy.CompareAndSwap(false, true) {
		return
	}
	defer t.slowBusy.Store(false)

	now := t.now()
	lots, err := t.store.ListLots(ctx)
	if err != nil {
		t.storeError(err)
		return
	}

	for _, lot := range lots {
		total, occupied, err := t.store.LotOccupancy(ctx, lot.ID)
		if err != nil {
			t.storeError(err)
			return
		}

		var rate float64
		if total > 0 {
			rate = float64(occupied) / float64(total) * 100
		}

		row := &model.LotAnalytics{
			LotID:         lot.ID,
			Date:          time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
			Hour:          now.Hour(),
			OccupancyRate: rate,
			VehicleCount:  int(occupied),
		}
		if err := t.store.UpsertLotAnalytics(ctx, row); err != nil {
			t.storeError(err)
			return
		}
	}
	t.storeRecovered()

	if t.profile != nil {
		if err := t.profile.Recalibrate(ctx, t.store, recalibrateLookback); err != nil {
			log.Printf("tracker: estimator recalibration failed: %v", err)
		}
	}
}

// storeError logs at most once per unresolved outage to avoid log storms
// while the store is down.
func (t *Tracker) storeError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.storeDown {
		log.Printf("tracker: store unavailable, skipping ticks until it recovers: %v", err)
		t.storeDown = true
	}
}

func (t *Tracker) storeRecovered() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.storeDown {
		log.Println("tracker: store recovered, ticking resumed")
		t.storeDown = false
	}
}
