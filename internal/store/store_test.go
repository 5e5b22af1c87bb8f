package store

import (
	"context"
	"database/sql/driver"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"laundry-orchestrator/internal/model"
)

// newTestStore opens an isolated in-memory SQLite database with the full
// schema migrated.
func newTestStore(t *testing.T) Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.SystemSettings{},
		&model.NodeStatus{},
		&model.PendingCommand{},
		&model.CreditLog{},
		&model.PushSubscription{},
	))

	return NewGormStore(db)
}

func seedConfigs(t *testing.T, s Store, configs []model.NodeConfig) {
	t.Helper()
	require.NoError(t, s.DB().Create(&model.SystemSettings{ID: 1}).Error)
	require.NoError(t, s.SaveNodeConfigs(context.Background(), configs))
}

func TestNodeConfigsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.NodeConfigs(ctx)
	assert.ErrorIs(t, err, ErrSettingsNotFound)

	want := []model.NodeConfig{
		{ID: "n1", Name: "Entrance", Host: "192.168.0.10", Port: 80, Machines: []string{"m1", "m2"}},
		{ID: "n2", Name: "Back wall", Host: "192.168.0.11", Port: 80, Machines: []string{"m3"}},
	}
	seedConfigs(t, s, want)

	got, err := s.NodeConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMarkStaleNodesOffline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := now.Add(-1 * time.Minute)
	stale := now.Add(-10 * time.Minute)

	require.NoError(t, s.UpsertNodeStatus(ctx, &model.NodeStatus{
		ESP32ID: "fresh", IsOnline: true, LastHeartbeat: &fresh, NetworkStatus: model.NetworkConnected,
	}))
	require.NoError(t, s.UpsertNodeStatus(ctx, &model.NodeStatus{
		ESP32ID: "stale", IsOnline: true, LastHeartbeat: &stale, NetworkStatus: model.NetworkConnected,
	}))
	require.NoError(t, s.UpsertNodeStatus(ctx, &model.NodeStatus{
		ESP32ID: "already-off", IsOnline: false, LastHeartbeat: &stale, NetworkStatus: model.NetworkDisconnected,
	}))

	expired, err := s.MarkStaleNodesOffline(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, expired)

	st, err := s.NodeStatus(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, st.IsOnline)
	assert.Equal(t, model.NetworkTimeout, st.NetworkStatus)
	// The last confirmed contact must survive the expiry.
	require.NotNil(t, st.LastHeartbeat)
	assert.WithinDuration(t, stale, *st.LastHeartbeat, time.Second)

	st, err = s.NodeStatus(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, st.IsOnline)
}

func TestMarkNodeOfflineKeepsHeartbeat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	beat := time.Now().UTC().Add(-30 * time.Second)

	require.NoError(t, s.UpsertNodeStatus(ctx, &model.NodeStatus{
		ESP32ID: "n1", IsOnline: true, LastHeartbeat: &beat, NetworkStatus: model.NetworkConnected,
	}))
	require.NoError(t, s.MarkNodeOffline(ctx, "n1", model.NetworkDisconnected))

	st, err := s.NodeStatus(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, st.IsOnline)
	assert.Equal(t, model.NetworkDisconnected, st.NetworkStatus)
	require.NotNil(t, st.LastHeartbeat)
	assert.WithinDuration(t, beat, *st.LastHeartbeat, time.Second)
}

func TestUpsertDoesNotRevertRegistration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeStatus(ctx, &model.NodeStatus{
		ESP32ID: "n1", IsOnline: true, NetworkStatus: model.NetworkConnected,
		RegistrationStatus: model.RegistrationPending,
	}))
	// A later health check writes an approved default, which must not clobber
	// the pending state already on the row.
	require.NoError(t, s.UpsertNodeStatus(ctx, &model.NodeStatus{
		ESP32ID: "n1", IsOnline: true, NetworkStatus: model.NetworkConnected,
	}))

	st, err := s.NodeStatus(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationPending, st.RegistrationStatus)
}

func TestCompleteCommandIsOneWay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cmd := &model.PendingCommand{
		ID: uuid.NewString(), ESP32ID: "n1", RelayPin: 5,
		Action: model.ActionOn, MachineID: "mach-1", Status: model.CommandPending,
	}
	require.NoError(t, s.InsertCommand(ctx, cmd))

	pending, err := s.PendingCommands(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.CompleteCommand(ctx, cmd.ID, model.CommandExecuted))

	// Second ack must be rejected.
	err = s.CompleteCommand(ctx, cmd.ID, model.CommandFailed)
	assert.ErrorIs(t, err, ErrCommandNotPending)

	pending, err = s.PendingCommands(ctx, "n1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// The sqlmock test below pins the exact SQL shape of the completion guard so
// a refactor cannot silently drop the status predicate.
func TestCompleteCommandSQLGuard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "pending_commands" SET`)).
		WithArgs(anyArg{}, model.CommandExecuted, "cmd-1", model.CommandPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.CompleteCommand(context.Background(), "cmd-1", model.CommandExecuted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// anyArg matches any argument in a sqlmock expectation.
type anyArg struct{}

func (anyArg) Match(v driver.Value) bool { return true }
