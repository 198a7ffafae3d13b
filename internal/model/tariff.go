package model

import "time"

// Tariff is the single-row tariff configuration edited by administrators.
type Tariff struct {
	ID            int64   `gorm:"primaryKey"`
	FreeMinutes   int     `gorm:"not null"`
	ChunkMinutes  int     `gorm:"not null"`
	PricePerChunk float64 `gorm:"not null"`
	DailyMax      float64 `gorm:"not null"`
	UpdatedAt     time.Time
}

// TariffRowID is the primary key of the only tariff row.
const TariffRowID = 1

// Setting is a persisted key/value pair (gate PIN codes).
type Setting struct {
	Key   string `gorm:"primaryKey;size:50"`
	Value string `gorm:"size:255;not null"`
}
