package model

import "time"

// LotAnalytics is one hourly analytics row per lot, written by the slow
// tracker tick. (LotID, Date, Hour) is upserted in place within the hour.
type LotAnalytics struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	LotID         int64     `gorm:"uniqueIndex:idx_lot_date_hour;not null"`
	Date          time.Time `gorm:"uniqueIndex:idx_lot_date_hour;not null"` // midnight UTC
	Hour          int       `gorm:"uniqueIndex:idx_lot_date_hour;not null"`
	OccupancyRate float64   `gorm:"not null"` // 0..100
	VehicleCount  int       `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
