package model

import "time"

// CreditLog records a remote credit release that was delivered to a node.
type CreditLog struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	TransactionID string    `gorm:"size:64;index;not null"`
	ESP32ID       string    `gorm:"column:esp32_id;size:64;not null"`
	Amount        float64   `gorm:"not null"`
	Description   string    `gorm:"size:256"`
	CreatedAt     time.Time `gorm:"not null"`
}
