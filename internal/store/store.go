package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-status-backend/internal/model"
)

// Store defines the interface for all database operations. Every method is
// safe to call inside a Transaction closure; the closure receives a Store
// bound to the transaction so multi-step updates commit or roll back as one.
type Store interface {
	DB() *gorm.DB
	Transaction(ctx context.Context, fn func(tx Store) error) error

	GetSlot(ctx context.Context, slotID int64) (*model.Slot, error)
	SaveSlot(ctx context.Context, slot *model.Slot) error
	ListSlotsByLot(ctx context.Context, lotID int64) ([]model.Slot, error)
	ListOccupiedSlots(ctx context.Context) ([]model.Slot, error)

	CreateBooking(ctx context.Context, booking *model.BookingSession) error
	ActiveBooking(ctx context.Context, slotID int64) (*model.BookingSession, error)
	CloseActiveBooking(ctx context.Context, slotID int64, now time.Time) (*model.BookingSession, error)
	RecentCompletedBookings(ctx context.Context, since time.Time) ([]model.BookingSession, error)

	ListLots(ctx context.Context) ([]model.Lot, error)
	LotOccupancy(ctx context.Context, lotID int64) (total, occupied int64, err error)
	UpsertLotAnalytics(ctx context.Context, row *model.LotAnalytics) error

	CreateJob(ctx context.Context, job *model.AnalysisJob) error
	UpdateJob(ctx context.Context, job *model.AnalysisJob) error
	GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error)
	ListUnfinishedJobs(ctx context.Context) ([]model.AnalysisJob, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for handler-level reads.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a Store bound to one database transaction.
// Per-slot transitions are serialized here: the transaction boundary is the
// serialization point for all occupancy state.
func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func (s *gormStore) GetSlot(ctx context.Context, slotID int64) (*model.Slot, error) {
	var slot model.Slot
	if err := s.db.WithContext(ctx).First(&slot, slotID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("slot %d: %w", slotID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch slot %d: %w", slotID, err)
	}
	return &slot, nil
}

func (s *gormStore) SaveSlot(ctx context.Context, slot *model.Slot) error {
	if err := s.db.WithContext(ctx).Save(slot).Error; err != nil {
		return fmt.Errorf("failed to save slot %d: %w", slot.ID, err)
	}
	return nil
}

func (s *gormStore) ListSlotsByLot(ctx context.Context, lotID int64) ([]model.Slot, error) {
	var slots []model.Slot
	if err := s.db.WithContext(ctx).
		Where("lot_id = ?", lotID).
		Order("slot_number").
		Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("failed to list slots for lot %d: %w", lotID, err)
	}
	return slots, nil
}

func (s *gormStore) ListOccupiedSlots(ctx context.Context) ([]model.Slot, error) {
	var slots []model.Slot
	if err := s.db.WithContext(ctx).
		Where("is_occupied = ?", true).
		Order("lot_id, slot_number").
		Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("failed to list occupied slots: %w", err)
	}
	return slots, nil
}

func (s *gormStore) CreateBooking(ctx context.Context, booking *model.BookingSession) error {
	if err := s.db.WithContext(ctx).Create(booking).Error; err != nil {
		return fmt.Errorf("failed to create booking for slot %d: %w", booking.SlotID, err)
	}
	return nil
}

func (s *gormStore) ActiveBooking(ctx context.Context, slotID int64) (*model.BookingSession, error) {
	var booking model.BookingSession
	err := s.db.WithContext(ctx).
		Where("slot_id = ? AND status = ?", slotID, model.BookingActive).
		First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("active booking for slot %d: %w", slotID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch active booking for slot %d: %w", slotID, err)
	}
	return &booking, nil
}

// CloseActiveBooking completes the active booking for a slot, computing its
// actual duration. Returns ErrNotFound when no booking is active, which
// callers treat as already-closed on batch replay.
func (s *gormStore) CloseActiveBooking(ctx context.Context, slotID int64, now time.Time) (*model.BookingSession, error) {
	booking, err := s.ActiveBooking(ctx, slotID)
	if err != nil {
		return nil, err
	}

	end := now
	booking.EndTime = &end
	booking.ActualDuration = int(now.Sub(booking.StartTime).Seconds())
	booking.Status = model.BookingCompleted
	if err := s.db.WithContext(ctx).Save(booking).Error; err != nil {
		return nil, fmt.Errorf("failed to close booking %d: %w", booking.ID, err)
	}
	return booking, nil
}

func (s *gormStore) RecentCompletedBookings(ctx context.Context, since time.Time) ([]model.BookingSession, error) {
	var bookings []model.BookingSession
	if err := s.db.WithContext(ctx).
		Where("status = ? AND start_time >= ?", model.BookingCompleted, since).
		Find(&bookings).Error; err != nil {
		return nil, fmt.Errorf("failed to list completed bookings: %w", err)
	}
	return bookings, nil
}

func (s *gormStore) ListLots(ctx context.Context) ([]model.Lot, error) {
	var lots []model.Lot
	if err := s.db.WithContext(ctx).Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	return lots, nil
}

func (s *gormStore) LotOccupancy(ctx context.Context, lotID int64) (total, occupied int64, err error) {
	if err = s.db.WithContext(ctx).
		Model(&model.Slot{}).
		Where("lot_id = ?", lotID).
		Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count slots for lot %d: %w", lotID, err)
	}
	if err = s.db.WithContext(ctx).
		Model(&model.Slot{}).
		Where("lot_id = ? AND is_occupied = ?", lotID, true).
		Count(&occupied).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count occupied slots for lot %d: %w", lotID, err)
	}
	return total, occupied, nil
}

func (s *gormStore) UpsertLotAnalytics(ctx context.Context, row *model.LotAnalytics) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lot_id"}, {Name: "date"}, {Name: "hour"}},
		DoUpdates: clause.AssignmentColumns([]string{"occupancy_rate", "vehicle_count", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert analytics for lot %d: %w", row.LotID, err)
	}
	return nil
}

func (s *gormStore) CreateJob(ctx context.Context, job *model.AnalysisJob) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *gormStore) UpdateJob(ctx context.Context, job *model.AnalysisJob) error {
	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return nil
}

func (s *gormStore) GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}
	return &job, nil
}

// ListUnfinishedJobs returns every pending or processing job record, oldest
// first. Used at startup to rebuild the in-memory queue after a restart; a
// job found processing was interrupted mid-flight and is requeued as pending.
func (s *gormStore) ListUnfinishedJobs(ctx context.Context) ([]model.AnalysisJob, error) {
	var jobs []model.AnalysisJob
	if err := s.db.WithContext(ctx).
		Where("state IN ?", []string{model.JobPending, model.JobProcessing}).
		Order("queued_at").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}
	return jobs, nil
}
