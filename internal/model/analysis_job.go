package model

import "time"

// Analysis kinds understood by the external worker.
const (
	AnalysisOccupancy = "occupancy"
	AnalysisDuration  = "duration"
	AnalysisFull      = "full"
)

// Job states. Completed and failed are terminal.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// AnalysisJob is the durable record of one queued video-analysis request.
// The in-memory queue is rebuilt from unfinished records after a restart;
// terminal records persist for audit and listing.
type AnalysisJob struct {
	ID          string `gorm:"primaryKey;size:36"`
	LotID       int64  `gorm:"index;not null"`
	VideoPath   string `gorm:"size:512;not null"`
	Kind        string `gorm:"size:16;not null"`
	State       string `gorm:"size:16;not null;index"`
	Attempts    int    `gorm:"not null"`
	MaxAttempts int    `gorm:"not null"`
	QueuedAt    time.Time
	Error       string `gorm:"size:1024"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
