package model

import "time"

// PushSubscription holds the information for a browser push subscription.
// Subscribers pick the lots they care about and are notified when a slot in
// one of them becomes available.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Lots []*Lot `gorm:"many2many:subscription_lot_mapping;"`
}
