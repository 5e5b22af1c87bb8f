package model

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSettings is the single system-wide settings record. The node
// configuration list lives here as one JSON field, so assignment changes are
// always persisted atomically in a single update.
type SystemSettings struct {
	ID                       int64          `gorm:"primaryKey"`
	ESP32Configurations      datatypes.JSON `gorm:"column:esp32_configurations"`
	HeartbeatIntervalSeconds int            `gorm:"default:30"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}
