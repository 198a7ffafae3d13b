package model

import "time"

// PushSubscription holds the information for a dashboard browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	Kinds     string    `gorm:"size:255"` // comma separated notice kinds, empty means all
	CreatedAt time.Time `gorm:"not null"`
}
