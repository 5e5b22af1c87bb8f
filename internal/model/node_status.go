package model

import (
	"time"

	"gorm.io/datatypes"
)

// Network status values reported for a node.
const (
	NetworkConnected    = "connected"
	NetworkDisconnected = "disconnected"
	NetworkTimeout      = "timeout"
)

// Registration states for a node's status record. Nodes that heartbeat before
// being configured start out pending and wait for admin approval.
const (
	RegistrationPending  = "pending"
	RegistrationApproved = "approved"
	RegistrationRejected = "rejected"
)

// NodeStatus is the liveness record for a node, keyed by its stable id.
// Rows are created on first contact and updated by every health check,
// heartbeat or network test; they are never deleted.
type NodeStatus struct {
	ESP32ID            string     `gorm:"column:esp32_id;primaryKey;size:64" json:"esp32_id"`
	IsOnline           bool       `gorm:"not null" json:"is_online"`
	LastHeartbeat      *time.Time `json:"last_heartbeat"`
	IPAddress          string     `gorm:"size:64" json:"ip_address"`
	SignalStrength     *float64   `json:"signal_strength"`
	NetworkStatus      string     `gorm:"size:32;not null" json:"network_status"`
	UptimeSeconds      int64      `json:"uptime_seconds"`
	FirmwareVersion    string     `gorm:"size:64" json:"firmware_version"`
	RegistrationStatus string     `gorm:"size:32;not null;default:approved" json:"registration_status"`
	RelayStatus        datatypes.JSON `json:"relay_status"`
	CreatedAt          time.Time  `json:"-"`
	UpdatedAt          time.Time  `json:"-"`
}
