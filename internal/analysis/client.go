// Package analysis invokes the external video-analysis worker. The worker
// consumes a video file plus per-slot geometry and returns per-slot
// occupancy and duration predictions; a slot absent from the results means
// "no change".
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"parking-status-backend/config"
)

// SlotGeometry is the camera-frame region of one slot, passed through to
// the worker unchanged.
type SlotGeometry struct {
	SlotID     int64 `json:"slot_id"`
	SlotNumber int   `json:"slot_number"`
	X          int   `json:"x"`
	Y          int   `json:"y"`
	Width      int   `json:"width"`
	Height     int   `json:"height"`
}

// SlotResult is the worker's verdict for one slot.
type SlotResult struct {
	SlotID            int64   `json:"slot_id"`
	IsOccupied        bool    `json:"is_occupied"`
	Confidence        float64 `json:"confidence"`
	PredictedDuration int     `json:"predicted_duration"`
}

// Result models the worker's response for one video.
type Result struct {
	VideoFilename  string       `json:"video_filename"`
	AnalysisType   string       `json:"analysis_type"`
	SlotDetections []SlotResult `json:"slot_detections"`
	VehicleCount   int          `json:"vehicle_count"`
	OccupancyRate  float64      `json:"occupancy_rate"`
	ProcessingTime float64      `json:"processing_time"`
}

// Worker is the contract the job queue drives. Implemented over HTTP in
// production and faked in tests.
type Worker interface {
	Analyze(ctx context.Context, videoPath, kind string, slots []SlotGeometry) (*Result, error)
}

// HTTPWorker invokes the analysis service over HTTP.
type HTTPWorker struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPWorker creates a worker client from the analysis configuration.
func NewHTTPWorker(cfg *config.AnalysisConfig) *HTTPWorker {
	return &HTTPWorker{
		url:     cfg.WorkerURL,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout: cfg.Timeout + 5*time.Second,
		},
	}
}

type analyzeRequest struct {
	VideoPath    string         `json:"video_path"`
	AnalysisType string         `json:"analysis_type"`
	Slots        []SlotGeometry `json:"slots"`
}

// Analyze posts one analysis request and decodes the per-slot results.
// An empty result set is an error so the caller's retry ladder kicks in.
func (w *HTTPWorker) Analyze(ctx context.Context, videoPath, kind string, slots []SlotGeometry) (*Result, error) {
	jsonBody, err := json.Marshal(analyzeRequest{
		VideoPath:    videoPath,
		AnalysisType: kind,
		Slots:        slots,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range w.headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis worker returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis response: %w", err)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis response: %w", err)
	}

	if len(result.SlotDetections) == 0 {
		return nil, fmt.Errorf("analysis worker returned no slot results")
	}

	return &result, nil
}
