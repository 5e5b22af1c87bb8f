package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"laundry-orchestrator/internal/model"
)

// ErrSettingsNotFound is returned when the system settings record is missing.
// This is a configuration error, not a runtime condition, so callers surface
// it as-is.
var ErrSettingsNotFound = errors.New("system settings record not found")

// ErrCommandNotPending is returned when completing a command that does not
// exist or was already completed.
var ErrCommandNotPending = errors.New("command is not pending")

// Store defines the interface for all database operations the orchestration
// core needs.
type Store interface {
	DB() *gorm.DB

	Settings(ctx context.Context) (*model.SystemSettings, error)
	NodeConfigs(ctx context.Context) ([]model.NodeConfig, error)
	SaveNodeConfigs(ctx context.Context, configs []model.NodeConfig) error

	UpsertNodeStatus(ctx context.Context, status *model.NodeStatus) error
	MarkNodeOffline(ctx context.Context, esp32ID, networkStatus string) error
	MarkStaleNodesOffline(ctx context.Context, cutoff time.Time) ([]string, error)
	NodeStatus(ctx context.Context, esp32ID string) (*model.NodeStatus, error)
	ListNodeStatuses(ctx context.Context) ([]model.NodeStatus, error)

	InsertCommand(ctx context.Context, cmd *model.PendingCommand) error
	PendingCommands(ctx context.Context, esp32ID string) ([]model.PendingCommand, error)
	CompleteCommand(ctx context.Context, id, status string) error

	InsertCreditLog(ctx context.Context, entry *model.CreditLog) error

	Subscriptions(ctx context.Context) ([]model.PushSubscription, error)
	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying gorm handle for handlers that run ad-hoc reads.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Settings fetches the single system-wide settings record.
func (s *gormStore) Settings(ctx context.Context) (*model.SystemSettings, error) {
	var settings model.SystemSettings
	if err := s.db.WithContext(ctx).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("failed to fetch system settings: %w", err)
	}
	return &settings, nil
}

// NodeConfigs decodes the node configuration list from the settings record.
func (s *gormStore) NodeConfigs(ctx context.Context) ([]model.NodeConfig, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if len(settings.ESP32Configurations) == 0 {
		return nil, nil
	}

	var configs []model.NodeConfig
	if err := json.Unmarshal(settings.ESP32Configurations, &configs); err != nil {
		return nil, fmt.Errorf("failed to decode node configurations: %w", err)
	}
	return configs, nil
}

// SaveNodeConfigs persists the full node configuration list as a single
// update to the settings record. Callers serialize their own read-modify-write
// cycles; the store only guarantees the write itself is atomic.
func (s *gormStore) SaveNodeConfigs(ctx context.Context, configs []model.NodeConfig) error {
	settings, err := s.Settings(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(configs)
	if err != nil {
		return fmt.Errorf("failed to encode node configurations: %w", err)
	}

	result := s.db.WithContext(ctx).
		Model(&model.SystemSettings{}).
		Where("id = ?", settings.ID).
		Update("esp32_configurations", encoded)
	if result.Error != nil {
		return fmt.Errorf("failed to save node configurations: %w", result.Error)
	}
	return nil
}

var statusUpdateColumns = []string{
	"is_online", "last_heartbeat", "ip_address", "signal_strength",
	"network_status", "uptime_seconds", "firmware_version", "relay_status",
	"updated_at",
}

// UpsertNodeStatus creates or updates a node's full status row. The
// registration status is only written on first contact so an approval is
// never silently reverted by a later heartbeat.
func (s *gormStore) UpsertNodeStatus(ctx context.Context, status *model.NodeStatus) error {
	if status.RegistrationStatus == "" {
		status.RegistrationStatus = model.RegistrationApproved
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "esp32_id"}},
		DoUpdates: clause.AssignmentColumns(statusUpdateColumns),
	}).Create(status).Error
	if err != nil {
		return fmt.Errorf("failed to upsert status for node %s: %w", status.ESP32ID, err)
	}
	return nil
}

// MarkNodeOffline flips a node offline without touching its last recorded
// heartbeat, so the staleness window still reflects the last confirmed
// contact.
func (s *gormStore) MarkNodeOffline(ctx context.Context, esp32ID, networkStatus string) error {
	status := model.NodeStatus{
		ESP32ID:            esp32ID,
		IsOnline:           false,
		NetworkStatus:      networkStatus,
		RegistrationStatus: model.RegistrationApproved,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "esp32_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_online", "network_status", "updated_at"}),
	}).Create(&status).Error
	if err != nil {
		return fmt.Errorf("failed to mark node %s offline: %w", esp32ID, err)
	}
	return nil
}

// MarkStaleNodesOffline forces offline every node still marked online whose
// last heartbeat is older than the cutoff, and returns the affected ids.
func (s *gormStore) MarkStaleNodesOffline(ctx context.Context, cutoff time.Time) ([]string, error) {
	var stale []model.NodeStatus
	err := s.db.WithContext(ctx).
		Where("is_online = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)", true, cutoff).
		Find(&stale).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query stale nodes: %w", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	ids := make([]string, len(stale))
	for i, st := range stale {
		ids[i] = st.ESP32ID
	}

	err = s.db.WithContext(ctx).
		Model(&model.NodeStatus{}).
		Where("esp32_id IN ?", ids).
		Updates(map[string]any{
			"is_online":      false,
			"network_status": model.NetworkTimeout,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale nodes: %w", err)
	}
	return ids, nil
}

// NodeStatus fetches the status row for one node.
func (s *gormStore) NodeStatus(ctx context.Context, esp32ID string) (*model.NodeStatus, error) {
	var status model.NodeStatus
	if err := s.db.WithContext(ctx).First(&status, "esp32_id = ?", esp32ID).Error; err != nil {
		return nil, err
	}
	return &status, nil
}

// ListNodeStatuses returns the status rows for all known nodes.
func (s *gormStore) ListNodeStatuses(ctx context.Context) ([]model.NodeStatus, error) {
	var statuses []model.NodeStatus
	if err := s.db.WithContext(ctx).Find(&statuses).Error; err != nil {
		return nil, fmt.Errorf("failed to list node statuses: %w", err)
	}
	return statuses, nil
}

// InsertCommand appends a command to the queue. Each enqueue is an
// independent insert; there is no deduplication at this layer.
func (s *gormStore) InsertCommand(ctx context.Context, cmd *model.PendingCommand) error {
	if err := s.db.WithContext(ctx).Create(cmd).Error; err != nil {
		return fmt.Errorf("failed to insert command for node %s: %w", cmd.ESP32ID, err)
	}
	return nil
}

// PendingCommands returns the pending commands a node should claim, oldest
// first so delivery order matches enqueue order.
func (s *gormStore) PendingCommands(ctx context.Context, esp32ID string) ([]model.PendingCommand, error) {
	var cmds []model.PendingCommand
	err := s.db.WithContext(ctx).
		Where("esp32_id = ? AND status = ?", esp32ID, model.CommandPending).
		Order("created_at ASC").
		Find(&cmds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending commands for node %s: %w", esp32ID, err)
	}
	return cmds, nil
}

// CompleteCommand moves a pending command to executed or failed. The guard on
// the current status keeps the state machine one-way even if a node acks
// twice.
func (s *gormStore) CompleteCommand(ctx context.Context, id, status string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&model.PendingCommand{}).
		Where("id = ? AND status = ?", id, model.CommandPending).
		Updates(map[string]any{
			"status":      status,
			"executed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete command %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCommandNotPending
	}
	return nil
}

// InsertCreditLog records a delivered credit release.
func (s *gormStore) InsertCreditLog(ctx context.Context, entry *model.CreditLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to log credit release %s: %w", entry.TransactionID, err)
	}
	return nil
}

// Subscriptions returns all stored push subscriptions.
func (s *gormStore) Subscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	return subs, nil
}

// SaveSubscription creates or replaces a push subscription by endpoint.
func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a push subscription.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
