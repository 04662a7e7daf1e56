// Package broadcast fans out slot state-change events to observers scoped
// by parking lot. Delivery is fire-and-forget: a slow observer drops events
// rather than blocking the transition engine or the tracker.
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Event types delivered to observers.
const (
	EventSlotChanged      = "slot-changed"
	EventDurationsUpdated = "durations-updated"
)

// SlotChange is the per-slot payload inside an event.
type SlotChange struct {
	SlotID                  int64 `json:"slot_id"`
	IsOccupied              bool  `json:"is_occupied"`
	PredictedVacancySeconds int   `json:"predicted_vacancy_seconds"`
	CurrentDuration         int   `json:"current_duration"`
}

// Event is one notification for a lot. A transition event carries the final
// state of every slot changed in that engine call; a durations-updated event
// carries the slots advanced by one fast tick.
type Event struct {
	Type  string       `json:"type"`
	LotID int64        `json:"lot_id"`
	Slots []SlotChange `json:"slots"`
}

var (
	ErrSubscriberExists   = errors.New("broadcast: subscriber already exists")
	ErrSubscriberNotFound = errors.New("broadcast: subscriber not found")
)

type subscriber struct {
	ch      chan Event
	dropped uint64
}

// Broadcaster distributes events to per-lot subscribers.
type Broadcaster struct {
	mu   sync.RWMutex
	lots map[int64]map[string]*subscriber
	buf  int
}

// New creates a Broadcaster whose subscriber channels buffer up to buf
// events before dropping.
func New(buf int) *Broadcaster {
	if buf <= 0 {
		buf = 16
	}
	return &Broadcaster{
		lots: make(map[int64]map[string]*subscriber),
		buf:  buf,
	}
}

// Subscribe registers an observer for one lot and returns its event channel.
// The id must be unique within the lot.
func (b *Broadcaster) Subscribe(lotID int64, id string) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.lots[lotID]
	if !ok {
		subs = make(map[string]*subscriber)
		b.lots[lotID] = subs
	}
	if _, exists := subs[id]; exists {
		return nil, ErrSubscriberExists
	}

	sub := &subscriber{ch: make(chan Event, b.buf)}
	subs[id] = sub
	return sub.ch, nil
}

// Unsubscribe removes an observer and closes its channel.
func (b *Broadcaster) Unsubscribe(lotID int64, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.lots[lotID]
	if !ok {
		return ErrSubscriberNotFound
	}
	sub, ok := subs[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.lots, lotID)
	}
	close(sub.ch)
	return nil
}

// Notify delivers an event to every subscriber of the event's lot. The send
// is non-blocking: a full subscriber channel drops the event and bumps the
// subscriber's drop counter. Notify never fails.
func (b *Broadcaster) Notify(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.lots[ev.LotID] {
		select {
		case sub.ch <- ev:
		default:
			atomic.AddUint64(&sub.dropped, 1)
		}
	}
}

// Dropped reports how many events a subscriber has missed.
func (b *Broadcaster) Dropped(lotID int64, id string) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs, ok := b.lots[lotID]
	if !ok {
		return 0, ErrSubscriberNotFound
	}
	sub, ok := subs[id]
	if !ok {
		return 0, ErrSubscriberNotFound
	}
	return atomic.LoadUint64(&sub.dropped), nil
}

// SubscriberCount reports how many observers are attached to a lot.
func (b *Broadcaster) SubscriberCount(lotID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lots[lotID])
}
