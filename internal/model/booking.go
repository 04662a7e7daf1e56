package model

import "time"

// Booking status values.
const (
	BookingActive    = "active"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
)

// BookingSession represents one physical occupancy of a slot, from the
// vacant->occupied flip to the occupied->vacant flip. At most one active
// session exists per slot at any time; the transition engine owns the
// lifecycle.
type BookingSession struct {
	ID                int64 `gorm:"primaryKey;autoIncrement"`
	SlotID            int64 `gorm:"index;not null"`
	StartTime         time.Time
	EndTime           *time.Time
	EstimatedDuration int    `gorm:"not null"` // seconds, set at creation
	ActualDuration    int    `gorm:"not null"` // seconds, computed at close
	Status            string `gorm:"size:16;not null;index"`
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Associations
	Slot Slot `gorm:"constraint:OnDelete:CASCADE"`
}
