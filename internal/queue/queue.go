// Package queue holds pending video-analysis jobs and drives them through a
// bounded worker pool. Completed results are fed back into the transition
// engine as one all-or-nothing slot-update batch per job.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"parking-status-backend/config"
	"parking-status-backend/internal/analysis"
	"parking-status-backend/internal/engine"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/predict"
	"parking-status-backend/internal/store"
)

// ErrInvalidKind is returned for an unrecognized analysis kind.
var ErrInvalidKind = errors.New("invalid analysis kind")

// Status is a snapshot of the queue's counters.
type Status struct {
	Queued   int `json:"queued"`
	InFlight int `json:"in_flight"`
}

// Queue is the analysis job queue: an in-memory FIFO of pending jobs, a
// fixed worker pool draining it, and durable job records kept in step so
// the queue can be rebuilt after a restart.
type Queue struct {
	cfg       *config.AnalysisConfig
	store     store.Store
	engine    *engine.Engine
	worker    analysis.Worker
	estimator predict.Estimator

	mu       sync.Mutex
	pending  []*model.AnalysisJob
	inFlight int

	jobs chan *model.AnalysisJob

	// Swappable in tests; releases the job's temporary video file.
	removeVideo func(path string) error
}

// New creates a queue. It does nothing until Start is called.
func New(cfg *config.AnalysisConfig, s store.Store, eng *engine.Engine, worker analysis.Worker, est predict.Estimator) *Queue {
	return &Queue{
		cfg:         cfg,
		store:       s,
		engine:      eng,
		worker:      worker,
		estimator:   est,
		jobs:        make(chan *model.AnalysisJob, cfg.PoolSize),
		removeVideo: os.Remove,
	}
}

// Start requeues unfinished durable jobs, launches the worker pool and the
// dispatch loop, and returns. Workers stop when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.resume(ctx)

	for i := 0; i < q.cfg.PoolSize; i++ {
		go q.workerLoop(ctx, i)
	}
	go q.dispatchLoop(ctx)
}

// resume rebuilds the in-memory FIFO from durable records. A job found in
// processing state was interrupted mid-flight; it is treated as pending.
func (q *Queue) resume(ctx context.Context) {
	records, err := q.store.ListUnfinishedJobs(ctx)
	if err != nil {
		log.Printf("queue: could not load unfinished jobs: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}

	log.Printf("queue: requeueing %d unfinished jobs", len(records))
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range records {
		job := records[i]
		if job.State == model.JobProcessing {
			job.State = model.JobPending
			if err := q.store.UpdateJob(ctx, &job); err != nil {
				log.Printf("queue: could not reset job %s to pending: %v", job.ID, err)
			}
		}
		q.pending = append(q.pending, &job)
	}
}

// Enqueue creates a durable job record and appends the job to the FIFO.
func (q *Queue) Enqueue(ctx context.Context, lotID int64, videoPath, kind string) (string, error) {
	switch kind {
	case model.AnalysisOccupancy, model.AnalysisDuration, model.AnalysisFull:
	default:
		return "", fmt.Errorf("%q: %w", kind, ErrInvalidKind)
	}

	job := &model.AnalysisJob{
		ID:          uuid.NewString(),
		LotID:       lotID,
		VideoPath:   videoPath,
		Kind:        kind,
		State:       model.JobPending,
		MaxAttempts: q.cfg.MaxAttempts,
		QueuedAt:    time.Now().UTC(),
	}
	if err := q.store.CreateJob(ctx, job); err != nil {
		return "", err
	}

	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	log.Printf("queue: job %s enqueued for lot %d (%s)", job.ID, lotID, kind)
	return job.ID, nil
}

// Cancel removes a pending job from the queue and marks its record failed.
// Cancelling a job that is processing or already terminal is a conflict; a
// processing job runs to completion or failure on its own.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	q.mu.Lock()
	var job *model.AnalysisJob
	for i, p := range q.pending {
		if p.ID == jobID {
			job = p
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	if job == nil {
		record, err := q.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s is %s: %w", jobID, record.State, store.ErrConflict)
	}

	job.State = model.JobFailed
	job.Error = "cancelled"
	if err := q.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	q.releaseVideo(job)
	log.Printf("queue: job %s cancelled", jobID)
	return nil
}

// Status reports the queued and in-flight counters.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{Queued: len(q.pending), InFlight: q.inFlight}
}

// dispatchLoop polls the FIFO and hands jobs to the pool while capacity is
// available.
func (q *Queue) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.dispatch()
		}
	}
}

func (q *Queue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 && q.inFlight < q.cfg.PoolSize {
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.inFlight++
		q.jobs <- job
	}
}

func (q *Queue) workerLoop(ctx context.Context, id int) {
	log.Printf("queue: worker %d started", id)
	for {
		select {
		case job := <-q.jobs:
			q.run(ctx, job)
			q.mu.Lock()
			q.inFlight--
			q.mu.Unlock()
		case <-ctx.Done():
			log.Printf("queue: worker %d shutting down", id)
			return
		}
	}
}

// run executes one attempt of a job: invoke the worker under a timeout,
// reduce the results to a slot-update batch, and apply it atomically.
func (q *Queue) run(ctx context.Context, job *model.AnalysisJob) {
	job.Attempts++
	job.State = model.JobProcessing
	if err := q.store.UpdateJob(ctx, job); err != nil {
		log.Printf("queue: could not mark job %s processing: %v", job.ID, err)
	}

	slots, err := q.store.ListSlotsByLot(ctx, job.LotID)
	if err != nil {
		q.retry(ctx, job, err)
		return
	}

	geometry := make([]analysis.SlotGeometry, len(slots))
	for i, s := range slots {
		geometry[i] = analysis.SlotGeometry{
			SlotID:     s.ID,
			SlotNumber: s.SlotNumber,
			X:          s.GeomX,
			Y:          s.GeomY,
			Width:      s.GeomWidth,
			Height:     s.GeomHeight,
		}
	}

	wctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	result, err := q.worker.Analyze(wctx, job.VideoPath, job.Kind, geometry)
	cancel()
	if err != nil {
		q.retry(ctx, job, err)
		return
	}

	updates := q.reduce(slots, result)
	if len(updates) == 0 {
		q.retry(ctx, job, fmt.Errorf("no usable slot results for lot %d", job.LotID))
		return
	}

	// A store failure while applying results is not retried: replaying the
	// batch is idempotent but the failure is surfaced on the job record.
	if _, err := q.engine.ApplyBatch(ctx, updates); err != nil {
		q.fail(ctx, job, fmt.Errorf("failed to apply results: %w", err))
		return
	}

	job.State = model.JobCompleted
	job.Error = ""
	if err := q.store.UpdateJob(ctx, job); err != nil {
		log.Printf("queue: could not mark job %s completed: %v", job.ID, err)
	}
	q.releaseVideo(job)
	log.Printf("queue: job %s completed after %d attempt(s)", job.ID, job.Attempts)
}

// reduce converts worker output into a slot-update batch. Slots without a
// result are left untouched; occupied slots missing a duration prediction
// get one from the heuristics.
func (q *Queue) reduce(slots []model.Slot, result *analysis.Result) []engine.SlotUpdate {
	byID := make(map[int64]model.Slot, len(slots))
	for _, s := range slots {
		byID[s.ID] = s
	}

	now := time.Now().UTC()
	updates := make([]engine.SlotUpdate, 0, len(result.SlotDetections))
	for _, det := range result.SlotDetections {
		slot, ok := byID[det.SlotID]
		if !ok {
			log.Printf("queue: ignoring result for unknown slot %d", det.SlotID)
			continue
		}

		predicted := det.PredictedDuration
		if !det.IsOccupied {
			predicted = 0
		} else if predicted <= 0 && q.estimator != nil {
			predicted, _ = q.estimator.EstimateVacancy(slot, now)
		}

		updates = append(updates, engine.SlotUpdate{
			SlotID:                  det.SlotID,
			IsOccupied:              det.IsOccupied,
			PredictedVacancySeconds: predicted,
		})
	}
	return updates
}

// retry re-enqueues the job at the tail while attempts remain, otherwise
// fails it terminally.
func (q *Queue) retry(ctx context.Context, job *model.AnalysisJob, cause error) {
	if job.Attempts < job.MaxAttempts {
		log.Printf("queue: job %s attempt %d/%d failed: %v; requeueing", job.ID, job.Attempts, job.MaxAttempts, cause)
		job.State = model.JobPending
		if err := q.store.UpdateJob(ctx, job); err != nil {
			log.Printf("queue: could not reset job %s to pending: %v", job.ID, err)
		}
		q.mu.Lock()
		q.pending = append(q.pending, job)
		q.mu.Unlock()
		return
	}
	q.fail(ctx, job, cause)
}

func (q *Queue) fail(ctx context.Context, job *model.AnalysisJob, cause error) {
	log.Printf("queue: job %s failed after %d attempt(s): %v", job.ID, job.Attempts, cause)
	job.State = model.JobFailed
	job.Error = cause.Error()
	if err := q.store.UpdateJob(ctx, job); err != nil {
		log.Printf("queue: could not mark job %s failed: %v", job.ID, err)
	}
	q.releaseVideo(job)
}

// releaseVideo removes the job's temporary video file. Called on every
// terminal exit path: completed, failed, exhausted retries and cancel.
func (q *Queue) releaseVideo(job *model.AnalysisJob) {
	if job.VideoPath == "" {
		return
	}
	if err := q.removeVideo(job.VideoPath); err != nil && !os.IsNotExist(err) {
		log.Printf("queue: could not remove video for job %s: %v", job.ID, err)
	}
}
