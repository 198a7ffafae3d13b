package model

import (
	"time"

	"gorm.io/datatypes"
)

// Metadata keys shared by the reconciliation engine and the admin surface.
const (
	MetaPlate           = "plate"
	MetaCamID           = "cam_id"
	MetaImage           = "image"
	MetaAuthMethod      = "auth_method"
	MetaBadgeUID        = "badge_uid"
	MetaBadgeCheck      = "badge_check"
	MetaUID8            = "uid8"
	MetaPlateConfirmed  = "plate_confirmed_by_cam"
	MetaCamPlate        = "cam_plate"
	MetaPaymentRequired = "payment_required"
	MetaExitSource      = "exit_source"
)

// ParkingSession is one parked-vehicle occupancy interval (hot while open, kept for reporting once closed).
type ParkingSession struct {
	ID              int64             `gorm:"primaryKey"`
	Identity        string            `gorm:"size:64;not null;index"`
	Source          string            `gorm:"size:64;not null"`
	Metadata        datatypes.JSONMap `gorm:"column:meta_data"`
	OpenedAt        time.Time         `gorm:"not null;index"`
	LastEventAt     time.Time         `gorm:"not null"`
	ClosedAt        *time.Time        `gorm:"index"`
	PaymentTime     *time.Time
	Paid            bool    `gorm:"not null"`
	DurationSeconds float64 `gorm:"not null"`
	Price           float64 `gorm:"not null"`
	IsOpen          bool    `gorm:"not null;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Plate returns the formatted plate recorded in the metadata, or "".
func (s *ParkingSession) Plate() string {
	return s.MetaString(MetaPlate)
}

// MetaString reads a string metadata field.
func (s *ParkingSession) MetaString(key string) string {
	if s.Metadata == nil {
		return ""
	}
	if v, ok := s.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool reads a boolean metadata field.
func (s *ParkingSession) MetaBool(key string) bool {
	if s.Metadata == nil {
		return false
	}
	v, _ := s.Metadata[key].(bool)
	return v
}

// MergeMetadata copies fields into the session metadata without dropping earlier evidence.
func (s *ParkingSession) MergeMetadata(fields map[string]any) {
	if s.Metadata == nil {
		s.Metadata = datatypes.JSONMap{}
	}
	for k, v := range fields {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok && str == "" {
			continue
		}
		s.Metadata[k] = v
	}
}

// Duration returns the frozen duration of a closed session.
func (s *ParkingSession) Duration() time.Duration {
	return time.Duration(s.DurationSeconds * float64(time.Second))
}
