package model

import "time"

// Slot represents one physical parking space.
//
// CurrentDuration and PredictedVacancySeconds are meaningful only while
// IsOccupied is true; both are forced back to zero the moment the slot is
// released. All mutation goes through the transition engine or the periodic
// tracker, never directly through handlers.
type Slot struct {
	ID                      int64 `gorm:"primaryKey"`
	LotID                   int64 `gorm:"uniqueIndex:idx_lot_slot;not null"`
	SlotNumber              int   `gorm:"uniqueIndex:idx_lot_slot;not null"`
	IsOccupied              bool  `gorm:"not null"`
	LastStatusChange        time.Time
	CurrentDuration         int `gorm:"not null"` // seconds since last vacant->occupied flip
	PredictedVacancySeconds int `gorm:"not null"` // seconds until expected vacancy

	// Geometry of the slot in the camera frame. Opaque to the core; handed
	// to the analysis worker unchanged.
	GeomX      int
	GeomY      int
	GeomWidth  int
	GeomHeight int

	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Lot Lot `gorm:"constraint:OnDelete:CASCADE"`
}
