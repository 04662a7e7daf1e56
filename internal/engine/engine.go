// Package engine applies occupancy transitions to slots. It is the only
// writer of slot occupancy state and the sole owner of the booking-session
// lifecycle: a vacant->occupied flip opens a session, an occupied->vacant
// flip closes it, and at most one session per slot is ever active.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parking-status-backend/internal/broadcast"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/store"
)

// DefaultEstimatedDuration is used for a new booking when the caller does
// not supply an estimate.
const DefaultEstimatedDuration = 3600

// ErrInvalidPrediction is returned when a negative vacancy prediction is
// passed in. Handlers translate this into an HTTP 400 response.
var ErrInvalidPrediction = errors.New("predicted vacancy seconds must be >= 0")

// SlotUpdate is one element of a slot-update batch: the target occupancy
// and prediction for a single slot.
type SlotUpdate struct {
	SlotID                  int64
	IsOccupied              bool
	PredictedVacancySeconds int
}

// VacancyNotifier receives the id of a slot that just became vacant.
// Satisfied by the push-notification worker pool.
type VacancyNotifier interface {
	Dispatch(slotID int64)
}

// Engine is the slot transition engine. All mutation runs inside a single
// store transaction per call; the transaction is the per-slot serialization
// point, so a duplicate active booking is impossible by construction.
type Engine struct {
	store       store.Store
	broadcaster *broadcast.Broadcaster
	notifier    VacancyNotifier
	now         func() time.Time
}

// New creates a transition engine. notifier may be nil when push
// notifications are disabled.
func New(s store.Store, b *broadcast.Broadcaster, notifier VacancyNotifier) *Engine {
	return &Engine{
		store:       s,
		broadcaster: b,
		notifier:    notifier,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Transition applies a single slot's occupancy change. Re-applying the same
// target state is a no-op for bookings and only refreshes the prediction
// fields, so replays converge; a transition that writes nothing emits no
// event.
func (e *Engine) Transition(ctx context.Context, slotID int64, occupied bool, predictedVacancySeconds int) (*model.Slot, error) {
	if predictedVacancySeconds < 0 {
		return nil, ErrInvalidPrediction
	}

	now := e.now()
	var (
		slot    *model.Slot
		freed   bool
		changed bool
	)
	err := e.store.Transaction(ctx, func(tx store.Store) error {
		var err error
		slot, err = tx.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		freed, changed, err = e.apply(ctx, tx, slot, occupied, predictedVacancySeconds, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.announce([]model.Slot{*slot})
	}
	if freed && e.notifier != nil {
		e.notifier.Dispatch(slot.ID)
	}
	return slot, nil
}

// Book marks a vacant slot occupied and opens a booking session with the
// given estimate. Booking an already-occupied slot is a conflict.
func (e *Engine) Book(ctx context.Context, slotID int64, estimatedDuration int) (*model.Slot, error) {
	if estimatedDuration < 0 {
		return nil, ErrInvalidPrediction
	}

	now := e.now()
	var slot *model.Slot
	err := e.store.Transaction(ctx, func(tx store.Store) error {
		var err error
		slot, err = tx.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.IsOccupied {
			return fmt.Errorf("slot %d is already occupied: %w", slotID, store.ErrConflict)
		}
		_, _, err = e.apply(ctx, tx, slot, true, estimatedDuration, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.announce([]model.Slot{*slot})
	return slot, nil
}

// Release marks an occupied slot vacant and closes its booking session.
// Releasing an already-vacant slot is a conflict.
func (e *Engine) Release(ctx context.Context, slotID int64) (*model.Slot, error) {
	now := e.now()
	var slot *model.Slot
	err := e.store.Transaction(ctx, func(tx store.Store) error {
		var err error
		slot, err = tx.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if !slot.IsOccupied {
			return fmt.Errorf("slot %d is already vacant: %w", slotID, store.ErrConflict)
		}
		_, _, err = e.apply(ctx, tx, slot, false, 0, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.announce([]model.Slot{*slot})
	if e.notifier != nil {
		e.notifier.Dispatch(slot.ID)
	}
	return slot, nil
}

// ApplyBatch applies every update in one transaction. Partial application is
// forbidden: downstream broadcast assumes the batch is consistent, so any
// failing update rolls back the whole batch.
func (e *Engine) ApplyBatch(ctx context.Context, updates []SlotUpdate) ([]model.Slot, error) {
	for _, u := range updates {
		if u.PredictedVacancySeconds < 0 {
			return nil, fmt.Errorf("slot %d: %w", u.SlotID, ErrInvalidPrediction)
		}
	}

	now := e.now()
	var (
		slots      []model.Slot
		changedSet []model.Slot
		freed      []int64
	)
	err := e.store.Transaction(ctx, func(tx store.Store) error {
		slots = slots[:0]
		changedSet = changedSet[:0]
		freed = freed[:0]
		for _, u := range updates {
			slot, err := tx.GetSlot(ctx, u.SlotID)
			if err != nil {
				return err
			}
			wasFreed, wasChanged, err := e.apply(ctx, tx, slot, u.IsOccupied, u.PredictedVacancySeconds, now)
			if err != nil {
				return err
			}
			slots = append(slots, *slot)
			if wasChanged {
				changedSet = append(changedSet, *slot)
			}
			if wasFreed {
				freed = append(freed, slot.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.announce(changedSet)
	if e.notifier != nil {
		for _, id := range freed {
			e.notifier.Dispatch(id)
		}
	}
	return slots, nil
}

// apply mutates one slot inside the caller's transaction. Returns whether
// the slot flipped occupied->vacant and whether anything was written at all;
// a vacant slot asked to stay vacant is left untouched so no event goes out.
func (e *Engine) apply(ctx context.Context, tx store.Store, slot *model.Slot, occupied bool, predicted int, now time.Time) (freed, changed bool, err error) {
	switch {
	case !slot.IsOccupied && occupied:
		slot.IsOccupied = true
		slot.LastStatusChange = now
		slot.CurrentDuration = 0
		estimate := predicted
		if estimate == 0 {
			estimate = DefaultEstimatedDuration
		}
		slot.PredictedVacancySeconds = estimate
		if err := tx.CreateBooking(ctx, &model.BookingSession{
			SlotID:            slot.ID,
			StartTime:         now,
			EstimatedDuration: estimate,
			Status:            model.BookingActive,
		}); err != nil {
			return false, false, err
		}

	case slot.IsOccupied && !occupied:
		slot.IsOccupied = false
		slot.LastStatusChange = now
		slot.CurrentDuration = 0
		slot.PredictedVacancySeconds = 0
		if _, err := tx.CloseActiveBooking(ctx, slot.ID, now); err != nil {
			// Already closed on a batch replay; converging is the point.
			if !errors.Is(err, store.ErrNotFound) {
				return false, false, err
			}
		}
		if err := tx.SaveSlot(ctx, slot); err != nil {
			return false, false, err
		}
		return true, true, nil

	case slot.IsOccupied && occupied:
		slot.CurrentDuration = int(now.Sub(slot.LastStatusChange).Seconds())
		slot.PredictedVacancySeconds = predicted

	default:
		// vacant -> vacant: the invariant already holds unless a row carries
		// stale prediction fields, in which case they are zeroed once.
		if slot.CurrentDuration == 0 && slot.PredictedVacancySeconds == 0 {
			return false, false, nil
		}
		slot.CurrentDuration = 0
		slot.PredictedVacancySeconds = 0
	}

	return false, true, tx.SaveSlot(ctx, slot)
}

// announce emits one slot-changed event per lot covering the slots updated
// by this engine call, in update order.
func (e *Engine) announce(slots []model.Slot) {
	if e.broadcaster == nil || len(slots) == 0 {
		return
	}

	byLot := make(map[int64][]broadcast.SlotChange)
	order := make([]int64, 0, 1)
	for _, s := range slots {
		if _, seen := byLot[s.LotID]; !seen {
			order = append(order, s.LotID)
		}
		byLot[s.LotID] = append(byLot[s.LotID], broadcast.SlotChange{
			SlotID:                  s.ID,
			IsOccupied:              s.IsOccupied,
			PredictedVacancySeconds: s.PredictedVacancySeconds,
			CurrentDuration:         s.CurrentDuration,
		})
	}
	for _, lotID := range order {
		e.broadcaster.Notify(broadcast.Event{
			Type:  broadcast.EventSlotChanged,
			LotID: lotID,
			Slots: byLot[lotID],
		})
	}
}
