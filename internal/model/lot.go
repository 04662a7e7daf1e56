package model

import "time"

// Lot represents one parking lot. A lot is the broadcast scoping unit: all
// slots in a lot share one video feed and one observer event stream.
type Lot struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:128;not null"`
	CameraRef string `gorm:"size:256"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Slots []Slot `gorm:"foreignKey:LotID"`
}
