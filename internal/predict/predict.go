// Package predict estimates how long an occupied slot will stay occupied.
// Estimates are advisory: nothing in the transition engine or the queue
// depends on their accuracy.
package predict

import (
	"context"
	"sync"
	"time"

	"parking-status-backend/internal/model"
	"parking-status-backend/internal/store"
)

// Baseline vacancy estimates used when no booking history is available.
// Thirty minutes matches the analysis worker's own base duration; busy
// daytime hours double it.
const (
	baseVacancySeconds = 1800
	busyVacancySeconds = 3600
	minVacancySeconds  = 300
)

// Estimator produces a vacancy estimate for an occupied slot.
type Estimator interface {
	// EstimateVacancy returns the predicted seconds until the slot frees up
	// and a confidence value in [0,1].
	EstimateVacancy(slot model.Slot, at time.Time) (seconds int, confidence float64)
}

// bucket aggregates completed-booking durations for one (weekday, hour).
type bucket struct {
	totalSeconds int64
	samples      int
}

// ProfileEstimator predicts vacancy from the mean actual duration of
// completed bookings, bucketed by weekday and start hour. With no samples
// for a bucket it falls back to a time-of-day baseline.
type ProfileEstimator struct {
	mu       sync.RWMutex
	profiles map[time.Weekday][24]bucket
}

// NewProfileEstimator creates an estimator with no history loaded.
func NewProfileEstimator() *ProfileEstimator {
	return &ProfileEstimator{
		profiles: make(map[time.Weekday][24]bucket),
	}
}

// Recalibrate rebuilds the duration profiles from completed bookings that
// started within the lookback window.
func (e *ProfileEstimator) Recalibrate(ctx context.Context, s store.Store, lookback time.Duration) error {
	bookings, err := s.RecentCompletedBookings(ctx, time.Now().UTC().Add(-lookback))
	if err != nil {
		return err
	}

	profiles := make(map[time.Weekday][24]bucket)
	for _, b := range bookings {
		if b.ActualDuration <= 0 {
			continue
		}
		day := b.StartTime.Weekday()
		hour := b.StartTime.Hour()
		p := profiles[day]
		p[hour].totalSeconds += int64(b.ActualDuration)
		p[hour].samples++
		profiles[day] = p
	}

	e.mu.Lock()
	e.profiles = profiles
	e.mu.Unlock()
	return nil
}

// EstimateVacancy predicts the remaining occupancy of slot at the given
// time, keyed off the slot's current duration, the hour of day and the day
// of week.
func (e *ProfileEstimator) EstimateVacancy(slot model.Slot, at time.Time) (int, float64) {
	e.mu.RLock()
	b := e.profiles[at.Weekday()][at.Hour()]
	e.mu.RUnlock()

	if b.samples == 0 {
		return fallbackEstimate(slot, at)
	}

	mean := int(b.totalSeconds / int64(b.samples))
	remaining := mean - slot.CurrentDuration
	if remaining < minVacancySeconds {
		remaining = minVacancySeconds
	}

	confidence := 0.5 + float64(b.samples)/100
	if confidence > 0.9 {
		confidence = 0.9
	}
	return remaining, confidence
}

// fallbackEstimate is the history-free baseline: longer expected stays
// during weekday working hours, a rolling minimum once the baseline has
// already elapsed.
func fallbackEstimate(slot model.Slot, at time.Time) (int, float64) {
	base := baseVacancySeconds
	hour := at.Hour()
	if at.Weekday() >= time.Monday && at.Weekday() <= time.Friday && hour >= 8 && hour < 18 {
		base = busyVacancySeconds
	}

	remaining := base - slot.CurrentDuration
	if remaining < minVacancySeconds {
		remaining = minVacancySeconds
	}
	return remaining, 0.3
}
