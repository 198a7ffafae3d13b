package model

// Badge links an RFID badge UID to an optional plate (subscriber/VIP).
type Badge struct {
	UID   string `gorm:"primaryKey;size:20"`
	Plate string `gorm:"size:20"`
}
