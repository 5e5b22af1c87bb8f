package monitor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"laundry-orchestrator/config"
	"laundry-orchestrator/internal/model"
	"laundry-orchestrator/internal/store"
)

type fakeNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeNotifier) Dispatch(nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, nodeID)
}

func (f *fakeNotifier) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.SystemSettings{}, &model.NodeStatus{}, &model.PendingCommand{},
		&model.CreditLog{}, &model.PushSubscription{},
	))
	return store.NewGormStore(db)
}

func testConfig(probeTimeout time.Duration) *config.Config {
	cfg := &config.Config{}
	cfg.Monitor.Enabled = true
	cfg.Monitor.ProbeTimeout = probeTimeout
	cfg.Monitor.Staleness = 5 * time.Minute
	cfg.Monitor.HeartbeatIntervalSeconds = 30
	return cfg
}

func seedConfigs(t *testing.T, s store.Store, configs []model.NodeConfig) {
	t.Helper()
	require.NoError(t, s.DB().Create(&model.SystemSettings{ID: 1}).Error)
	require.NoError(t, s.SaveNodeConfigs(context.Background(), configs))
}

func hostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestCheckOnceMixedFleet(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		fmt.Fprint(w, `{"signal_strength":-62,"firmware_version":"1.4.2","uptime_seconds":3600}`)
	}))
	defer healthy.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	h1, p1 := hostPort(t, healthy)
	h2, p2 := hostPort(t, failing)

	s := newTestStore(t)
	seedConfigs(t, s, []model.NodeConfig{
		{ID: "n1", Host: h1, Port: p1, Machines: []string{"m1"}},
		{ID: "n2", Host: h2, Port: p2},
		{ID: "n3", Host: "127.0.0.1", Port: 1}, // nothing listens here
	})

	svc := NewService(testConfig(2*time.Second), s, nil)
	summary, err := svc.CheckOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Online)
	assert.Equal(t, 2, summary.Offline)

	st, err := s.NodeStatus(context.Background(), "n1")
	require.NoError(t, err)
	assert.True(t, st.IsOnline)
	assert.Equal(t, model.NetworkConnected, st.NetworkStatus)
	assert.Equal(t, "1.4.2", st.FirmwareVersion)
	assert.Equal(t, int64(3600), st.UptimeSeconds)
	require.NotNil(t, st.LastHeartbeat)
	assert.WithinDuration(t, time.Now().UTC(), *st.LastHeartbeat, 5*time.Second)

	for _, id := range []string{"n2", "n3"} {
		st, err := s.NodeStatus(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, st.IsOnline)
		assert.Equal(t, model.NetworkDisconnected, st.NetworkStatus)
	}
}

func TestCheckOnceIsolatesHangingNode(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	hanging := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer hanging.Close()

	h1, p1 := hostPort(t, healthy)
	h2, p2 := hostPort(t, hanging)

	s := newTestStore(t)
	seedConfigs(t, s, []model.NodeConfig{
		{ID: "n1", Host: h1, Port: p1},
		{ID: "n2", Host: h2, Port: p2},
		{ID: "n3", Host: h1, Port: p1},
	})

	svc := NewService(testConfig(300*time.Millisecond), s, nil)

	start := time.Now()
	summary, err := svc.CheckOnce(context.Background())
	elapsed := time.Since(start)
	require.NoError(t, err)

	// The hanging probe is cut off at its own timeout and must not delay the
	// cycle past that bound.
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, 2, summary.Online)
	assert.Equal(t, 1, summary.Offline)

	st, err := s.NodeStatus(context.Background(), "n2")
	require.NoError(t, err)
	assert.False(t, st.IsOnline)
}

func TestCheckOnceIsIdempotent(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	h, p := hostPort(t, healthy)

	s := newTestStore(t)
	seedConfigs(t, s, []model.NodeConfig{
		{ID: "n1", Host: h, Port: p},
		{ID: "n2", Host: "127.0.0.1", Port: 1},
	})

	svc := NewService(testConfig(time.Second), s, nil)

	first, err := svc.CheckOnce(context.Background())
	require.NoError(t, err)
	second, err := svc.CheckOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Online, second.Online)
	assert.Equal(t, first.Offline, second.Offline)

	statuses, err := s.ListNodeStatuses(context.Background())
	require.NoError(t, err)
	assert.Len(t, statuses, 2)
}

func TestCheckOnceExpiresStaleHeartbeats(t *testing.T) {
	s := newTestStore(t)
	seedConfigs(t, s, nil)

	old := time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, s.UpsertNodeStatus(context.Background(), &model.NodeStatus{
		ESP32ID: "ghost", IsOnline: true, LastHeartbeat: &old, NetworkStatus: model.NetworkConnected,
	}))

	notifier := &fakeNotifier{}
	svc := NewService(testConfig(time.Second), s, notifier)
	_, err := svc.CheckOnce(context.Background())
	require.NoError(t, err)

	st, err := s.NodeStatus(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, st.IsOnline)
	assert.Equal(t, model.NetworkTimeout, st.NetworkStatus)
	assert.Equal(t, []string{"ghost"}, notifier.dispatched())
}

func TestCheckOnceNotifiesOnTransition(t *testing.T) {
	s := newTestStore(t)
	seedConfigs(t, s, []model.NodeConfig{{ID: "n1", Host: "127.0.0.1", Port: 1}})

	beat := time.Now().UTC()
	require.NoError(t, s.UpsertNodeStatus(context.Background(), &model.NodeStatus{
		ESP32ID: "n1", IsOnline: true, LastHeartbeat: &beat, NetworkStatus: model.NetworkConnected,
	}))

	notifier := &fakeNotifier{}
	svc := NewService(testConfig(300*time.Millisecond), s, notifier)

	_, err := svc.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, notifier.dispatched())

	// Already offline: a second failing cycle must not alert again.
	_, err = svc.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, notifier.dispatched())
}

func TestHeartbeatRegistration(t *testing.T) {
	s := newTestStore(t)
	seedConfigs(t, s, []model.NodeConfig{{ID: "known", Host: "10.0.0.2", Port: 80}})

	svc := NewService(testConfig(time.Second), s, nil)
	ctx := context.Background()

	interval, err := svc.Heartbeat(ctx, &HeartbeatRequest{ESP32ID: "known", IPAddress: "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, 30, interval)

	st, err := s.NodeStatus(ctx, "known")
	require.NoError(t, err)
	assert.True(t, st.IsOnline)
	assert.Equal(t, model.RegistrationApproved, st.RegistrationStatus)

	_, err = svc.Heartbeat(ctx, &HeartbeatRequest{ESP32ID: "stranger", IPAddress: "10.0.0.99"})
	require.NoError(t, err)

	st, err = s.NodeStatus(ctx, "stranger")
	require.NoError(t, err)
	assert.True(t, st.IsOnline)
	assert.Equal(t, model.RegistrationPending, st.RegistrationStatus)
}
