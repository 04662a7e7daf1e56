package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-status-backend/config"
)

func workerFor(serverURL string) *HTTPWorker {
	return NewHTTPWorker(&config.AnalysisConfig{
		WorkerURL: serverURL,
		Headers:   map[string]string{"X-Api-Key": "test-key"},
		Timeout:   2 * time.Second,
	})
}

func TestHTTPWorker_Analyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var req analyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/videos/lot1.mp4", req.VideoPath)
		assert.Equal(t, "occupancy", req.AnalysisType)
		require.Len(t, req.Slots, 1)
		assert.Equal(t, int64(5), req.Slots[0].SlotID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Result{
			VideoFilename:  "lot1.mp4",
			AnalysisType:   "occupancy",
			SlotDetections: []SlotResult{{SlotID: 5, IsOccupied: true, Confidence: 0.87, PredictedDuration: 1200}},
			VehicleCount:   1,
			OccupancyRate:  100,
		})
	}))
	defer server.Close()

	result, err := workerFor(server.URL).Analyze(context.Background(), "/videos/lot1.mp4", "occupancy", []SlotGeometry{
		{SlotID: 5, SlotNumber: 5, X: 1, Y: 2, Width: 3, Height: 4},
	})
	require.NoError(t, err)
	require.Len(t, result.SlotDetections, 1)
	assert.True(t, result.SlotDetections[0].IsOccupied)
	assert.Equal(t, 1200, result.SlotDetections[0].PredictedDuration)
}

func TestHTTPWorker_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := workerFor(server.URL).Analyze(context.Background(), "/videos/lot1.mp4", "occupancy", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPWorker_EmptyResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Result{VideoFilename: "lot1.mp4"})
	}))
	defer server.Close()

	_, err := workerFor(server.URL).Analyze(context.Background(), "/videos/lot1.mp4", "occupancy", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no slot results")
}

func TestHTTPWorker_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client hang-up and
		// cancels the request context; otherwise Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := workerFor(server.URL).Analyze(ctx, "/videos/lot1.mp4", "occupancy", nil)
	assert.Error(t, err)
}
