package internal

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"laundry-orchestrator/config"
	"laundry-orchestrator/internal/balancer"
	"laundry-orchestrator/internal/model"
	"laundry-orchestrator/internal/monitor"
	"laundry-orchestrator/internal/store"
)

// TestNodeLifecycle simulates a node going from healthy to lost, and verifies
// the status table and the machine assignment at each step.
func TestNodeLifecycle(t *testing.T) {
	// --- Test Setup ---

	// 1. Setup an in-memory SQLite database for testing.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// Run database migrations.
	require.NoError(t, testDB.AutoMigrate(
		&model.SystemSettings{}, &model.NodeStatus{}, &model.PendingCommand{},
		&model.CreditLog{}, &model.PushSubscription{},
	))

	s := store.NewGormStore(testDB)
	ctx := context.Background()

	// 2. Create a mock configuration with short timings.
	cfg := &config.Config{
		Monitor: config.MonitorConfig{
			ProbeTimeout: 500 * time.Millisecond,
			Staleness:    5 * time.Minute,
		},
		Balancer: config.BalancerConfig{MaxMachinesPerNode: 4, NotifyTimeout: 100 * time.Millisecond},
	}

	// 3. Stand in for one healthy node; the second node has nothing listening.
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"uptime_seconds":3600,"firmware_version":"1.2.0"}`)
	}))
	defer healthy.Close()
	u, err := url.Parse(healthy.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	require.NoError(t, testDB.Create(&model.SystemSettings{ID: 1}).Error)
	require.NoError(t, s.SaveNodeConfigs(ctx, []model.NodeConfig{
		{ID: "alive", Host: host, Port: port, Machines: []string{"m1", "m2"}},
		{ID: "lost", Host: "127.0.0.1", Port: 1, Machines: []string{"m3", "m4"}},
	}))

	mon := monitor.NewService(cfg, s, nil)
	bal := balancer.New(s, cfg.Balancer.NotifyTimeout)

	// --- Step 1: first health check splits the fleet ---
	summary, err := mon.CheckOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Online)
	assert.Equal(t, 1, summary.Offline)

	aliveStatus, err := s.NodeStatus(ctx, "alive")
	require.NoError(t, err)
	assert.True(t, aliveStatus.IsOnline)
	assert.Equal(t, "1.2.0", aliveStatus.FirmwareVersion)
	require.NotNil(t, aliveStatus.LastHeartbeat)

	lostStatus, err := s.NodeStatus(ctx, "lost")
	require.NoError(t, err)
	assert.False(t, lostStatus.IsOnline)

	// --- Step 2: redistribute moves every machine onto the surviving node ---
	result, err := bal.Redistribute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, result.TotalMachines)
	assert.Equal(t, 1, result.RedistributedNodes)

	configs, err := s.NodeConfigs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3", "m4"}, configs[0].Machines)
	assert.Empty(t, configs[1].Machines)

	// --- Step 3: the surviving node stops answering and its heartbeat ages out ---
	healthy.Close()
	staleTime := time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, testDB.Model(&model.NodeStatus{}).
		Where("esp32_id = ?", "alive").
		Update("last_heartbeat", staleTime).Error)

	summary, err = mon.CheckOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Online)

	aliveStatus, err = s.NodeStatus(ctx, "alive")
	require.NoError(t, err)
	assert.False(t, aliveStatus.IsOnline)

	// --- Step 4: with the whole fleet down, rebalancing refuses to run ---
	_, err = bal.Redistribute(ctx)
	assert.ErrorIs(t, err, balancer.ErrNoOnlineNodes)
}
