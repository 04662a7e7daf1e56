package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"parking-status-backend/config"
	"parking-status-backend/internal/analysis"
	"parking-status-backend/internal/broadcast"
	"parking-status-backend/internal/db"
	"parking-status-backend/internal/engine"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/queue"
	"parking-status-backend/internal/store"
)

// TestSlotLifecycle drives a slot through a full occupancy cycle using the
// real HTTP worker client against a mock analysis service, and verifies the
// database and event stream at each step.
func TestSlotLifecycle(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	defer sqlDB.Close()

	require.NoError(t, db.Migrate(testDB))
	require.NoError(t, testDB.Create(&model.Lot{ID: 1, Name: "North Lot"}).Error)
	require.NoError(t, testDB.Create(&model.Slot{ID: 1, LotID: 1, SlotNumber: 1, GeomX: 10, GeomY: 20, GeomWidth: 80, GeomHeight: 40}).Error)

	// Mock analysis service: first call sees a vehicle, second call sees the
	// slot empty again.
	var requestCount int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VideoPath    string                  `json:"video_path"`
			AnalysisType string                  `json:"analysis_type"`
			Slots        []analysis.SlotGeometry `json:"slots"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Slots, 1)
		assert.Equal(t, int64(1), req.Slots[0].SlotID)
		assert.Equal(t, 10, req.Slots[0].X, "slot geometry passes through to the worker")

		result := analysis.Result{
			VideoFilename: req.VideoPath,
			AnalysisType:  req.AnalysisType,
		}
		if requestCount == 0 {
			result.SlotDetections = []analysis.SlotResult{{SlotID: 1, IsOccupied: true, Confidence: 0.93, PredictedDuration: 1500}}
			result.VehicleCount = 1
			result.OccupancyRate = 100
		} else {
			result.SlotDetections = []analysis.SlotResult{{SlotID: 1, IsOccupied: false, Confidence: 0.95}}
		}
		requestCount++

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(result))
	}))
	defer server.Close()

	cfg := &config.AnalysisConfig{
		WorkerURL:    server.URL,
		Timeout:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		PoolSize:     1,
		MaxAttempts:  3,
	}

	gormStore := store.NewGormStore(testDB)
	b := broadcast.New(16)
	events, err := b.Subscribe(1, "integration")
	require.NoError(t, err)

	eng := engine.New(gormStore, b, nil)
	q := queue.New(cfg, gormStore, eng, analysis.NewHTTPWorker(cfg), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	waitForJob := func(jobID, state string) *model.AnalysisJob {
		var job *model.AnalysisJob
		require.Eventually(t, func() bool {
			job, err = gormStore.GetJob(ctx, jobID)
			return err == nil && job.State == state
		}, 5*time.Second, 20*time.Millisecond, "job %s never reached state %s", jobID, state)
		return job
	}

	// --- Cycle 1: a vehicle arrives ---
	jobID, err := q.Enqueue(ctx, 1, "/tmp/cycle1.mp4", model.AnalysisOccupancy)
	require.NoError(t, err)
	job := waitForJob(jobID, model.JobCompleted)
	assert.Equal(t, 1, job.Attempts)

	slot, err := gormStore.GetSlot(ctx, 1)
	require.NoError(t, err)
	assert.True(t, slot.IsOccupied)
	assert.Equal(t, 1500, slot.PredictedVacancySeconds)
	assert.WithinDuration(t, time.Now().UTC(), slot.LastStatusChange, 5*time.Second)

	booking, err := gormStore.ActiveBooking(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1500, booking.EstimatedDuration)

	select {
	case ev := <-events:
		assert.Equal(t, broadcast.EventSlotChanged, ev.Type)
		require.Len(t, ev.Slots, 1)
		assert.True(t, ev.Slots[0].IsOccupied)
	case <-time.After(time.Second):
		t.Fatal("no slot-changed event for cycle 1")
	}

	// --- Cycle 2: the vehicle leaves ---
	jobID, err = q.Enqueue(ctx, 1, "/tmp/cycle2.mp4", model.AnalysisOccupancy)
	require.NoError(t, err)
	waitForJob(jobID, model.JobCompleted)

	slot, err = gormStore.GetSlot(ctx, 1)
	require.NoError(t, err)
	assert.False(t, slot.IsOccupied)
	assert.Zero(t, slot.PredictedVacancySeconds)
	assert.Zero(t, slot.CurrentDuration)

	_, err = gormStore.ActiveBooking(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound, "the session must be closed once the slot frees up")

	var history []model.BookingSession
	require.NoError(t, testDB.Where("slot_id = ? AND status = ?", 1, model.BookingCompleted).Find(&history).Error)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].EndTime)

	select {
	case ev := <-events:
		assert.Equal(t, broadcast.EventSlotChanged, ev.Type)
		require.Len(t, ev.Slots, 1)
		assert.False(t, ev.Slots[0].IsOccupied)
	case <-time.After(time.Second):
		t.Fatal("no slot-changed event for cycle 2")
	}
}

// TestAnalysisRetry exercises the retry ladder against a worker that fails
// on its first attempt.
func TestAnalysisRetry(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	defer sqlDB.Close()

	require.NoError(t, db.Migrate(testDB))
	require.NoError(t, testDB.Create(&model.Lot{ID: 1, Name: "North Lot"}).Error)
	require.NoError(t, testDB.Create(&model.Slot{ID: 1, LotID: 1, SlotNumber: 1}).Error)

	var requestCount int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount == 1 {
			http.Error(w, "worker overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(analysis.Result{
			SlotDetections: []analysis.SlotResult{{SlotID: 1, IsOccupied: true, Confidence: 0.9, PredictedDuration: 600}},
		}))
	}))
	defer server.Close()

	cfg := &config.AnalysisConfig{
		WorkerURL:    server.URL,
		Timeout:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		PoolSize:     1,
		MaxAttempts:  3,
	}

	gormStore := store.NewGormStore(testDB)
	eng := engine.New(gormStore, nil, nil)
	q := queue.New(cfg, gormStore, eng, analysis.NewHTTPWorker(cfg), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	jobID, err := q.Enqueue(ctx, 1, "/tmp/flaky.mp4", model.AnalysisOccupancy)
	require.NoError(t, err)

	var job *model.AnalysisJob
	require.Eventually(t, func() bool {
		job, err = gormStore.GetJob(ctx, jobID)
		return err == nil && job.State == model.JobCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 2, job.Attempts, "one failed attempt plus the successful one")
	assert.Equal(t, 2, requestCount)

	slot, err := gormStore.GetSlot(ctx, 1)
	require.NoError(t, err)
	assert.True(t, slot.IsOccupied)
	assert.Equal(t, 600, slot.PredictedVacancySeconds)
}
