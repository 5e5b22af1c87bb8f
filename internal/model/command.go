package model

import "time"

// Relay actions a node can execute.
const (
	ActionOn  = "on"
	ActionOff = "off"
)

// Command lifecycle. The state machine is one-way:
// pending -> executed, or pending -> failed.
const (
	CommandPending  = "pending"
	CommandExecuted = "executed"
	CommandFailed   = "failed"
)

// PendingCommand is a queued action for a node. The orchestrator only ever
// inserts these; the target node claims them through its own polling loop and
// reports the outcome back.
type PendingCommand struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	ESP32ID       string     `gorm:"column:esp32_id;index;size:64;not null" json:"esp32_id"`
	RelayPin      int        `gorm:"not null" json:"relay_pin"`
	Action        string     `gorm:"size:8;not null" json:"action"`
	MachineID     string     `gorm:"size:64;not null" json:"machine_id"`
	TransactionID string     `gorm:"size:64" json:"transaction_id,omitempty"`
	Status        string     `gorm:"size:16;index;not null" json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
}
