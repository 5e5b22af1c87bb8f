// Package monitor maintains a bounded-staleness view of node reachability.
// It polls every configured node on an interval and also accepts heartbeats
// pushed by the nodes themselves, which matters for nodes behind NAT that
// the poller cannot reach.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"gorm.io/datatypes"

	"laundry-orchestrator/config"
	"laundry-orchestrator/internal/model"
	"laundry-orchestrator/internal/store"
)

// Notifier receives the id of a node that transitioned to offline.
type Notifier interface {
	Dispatch(nodeID string)
}

// Result is the outcome of probing a single node.
type Result struct {
	ESP32ID        string `json:"esp32_id"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	IsOnline       bool   `json:"is_online"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// Summary aggregates one full health-check cycle.
type Summary struct {
	Total   int      `json:"total"`
	Online  int      `json:"online"`
	Offline int      `json:"offline"`
	Results []Result `json:"results"`
}

// statusReport is the body a healthy node may return from GET /status. All
// fields are optional; the 200 alone establishes liveness.
type statusReport struct {
	IPAddress       string          `json:"ip_address"`
	SignalStrength  *float64        `json:"signal_strength"`
	NetworkStatus   string          `json:"network_status"`
	FirmwareVersion string          `json:"firmware_version"`
	UptimeSeconds   int64           `json:"uptime_seconds"`
	RelayStatus     json.RawMessage `json:"relay_status"`
}

// HeartbeatRequest is the payload a node pushes to report its own liveness.
type HeartbeatRequest struct {
	ESP32ID         string   `json:"esp32_id" binding:"required"`
	IPAddress       string   `json:"ip_address"`
	SignalStrength  *float64 `json:"signal_strength"`
	NetworkStatus   string   `json:"network_status"`
	FirmwareVersion string   `json:"firmware_version"`
	UptimeSeconds   int64    `json:"uptime_seconds"`
}

// Service runs the health check cycle.
type Service struct {
	cfg      *config.Config
	store    store.Store
	client   *http.Client
	notifier Notifier
}

// NewService creates the monitor. notifier may be nil.
func NewService(cfg *config.Config, s store.Store, notifier Notifier) *Service {
	return &Service{
		cfg:      cfg,
		store:    s,
		client:   &http.Client{Timeout: cfg.Monitor.ProbeTimeout},
		notifier: notifier,
	}
}

// Run executes health checks on the configured interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Monitor.Enabled {
		log.Println("Health monitor is disabled. Not starting.")
		return
	}
	log.Println("Starting health monitor...")

	s.checkAndLog(ctx)

	timer := time.NewTimer(s.cfg.Monitor.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Health monitor shutting down.")
			return
		case <-timer.C:
			s.checkAndLog(ctx)
			timer.Reset(s.cfg.Monitor.Interval)
		}
	}
}

func (s *Service) checkAndLog(ctx context.Context) {
	summary, err := s.CheckOnce(ctx)
	if err != nil {
		log.Printf("Health check cycle failed: %v", err)
		return
	}
	log.Printf("Health check cycle: %d/%d nodes online", summary.Online, summary.Total)
}

// CheckOnce expires stale heartbeats, then probes every configured node
// concurrently. Individual probe failures are recorded per node and never
// fail the cycle; only a missing configuration record does.
func (s *Service) CheckOnce(ctx context.Context) (*Summary, error) {
	now := time.Now().UTC()

	expired, err := s.store.MarkStaleNodesOffline(ctx, now.Add(-s.cfg.Monitor.Staleness))
	if err != nil {
		log.Printf("Warning: could not expire stale nodes: %v", err)
	}
	for _, id := range expired {
		log.Printf("Node %s heartbeat is stale, forced offline", id)
		s.notifyOffline(id)
	}

	configs, err := s.store.NodeConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load node configurations: %w", err)
	}

	previous := s.previousOnline(ctx)

	results := make([]Result, len(configs))
	var wg sync.WaitGroup
	for i, cfg := range configs {
		wg.Add(1)
		go func(i int, cfg model.NodeConfig) {
			defer wg.Done()
			results[i] = s.probeNode(ctx, cfg)
		}(i, cfg)
	}
	wg.Wait()

	summary := &Summary{Total: len(results), Results: results}
	for _, r := range results {
		if r.IsOnline {
			summary.Online++
		} else {
			summary.Offline++
			if previous[r.ESP32ID] {
				s.notifyOffline(r.ESP32ID)
			}
		}
	}
	return summary, nil
}

// probeNode issues one bounded-timeout status probe and records the outcome.
// Network errors are converted into an offline status update, never returned.
func (s *Service) probeNode(ctx context.Context, cfg model.NodeConfig) Result {
	result := Result{ESP32ID: cfg.ID, Host: cfg.Host, Port: cfg.Port}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.Monitor.ProbeTimeout)
	defer cancel()

	start := time.Now()
	report, err := s.fetchStatus(probeCtx, cfg)
	result.ResponseTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		log.Printf("Node %s health probe failed: %v", cfg.ID, err)
		result.Error = err.Error()
		if err := s.store.MarkNodeOffline(ctx, cfg.ID, model.NetworkDisconnected); err != nil {
			log.Printf("Warning: could not mark node %s offline: %v", cfg.ID, err)
		}
		return result
	}

	result.IsOnline = true
	now := time.Now().UTC()
	status := &model.NodeStatus{
		ESP32ID:         cfg.ID,
		IsOnline:        true,
		LastHeartbeat:   &now,
		IPAddress:       cfg.Host,
		NetworkStatus:   model.NetworkConnected,
		SignalStrength:  report.SignalStrength,
		FirmwareVersion: report.FirmwareVersion,
		UptimeSeconds:   report.UptimeSeconds,
	}
	if report.IPAddress != "" {
		status.IPAddress = report.IPAddress
	}
	if len(report.RelayStatus) > 0 {
		status.RelayStatus = datatypes.JSON(report.RelayStatus)
	}
	if err := s.store.UpsertNodeStatus(ctx, status); err != nil {
		log.Printf("Warning: could not update status for node %s: %v", cfg.ID, err)
	}
	return result
}

func (s *Service) fetchStatus(ctx context.Context, cfg model.NodeConfig) (*statusReport, error) {
	url := fmt.Sprintf("http://%s:%d/status", cfg.Host, cfg.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	// The body is informational only; a node that answers 200 with an
	// unparseable body is still online.
	var report statusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		log.Printf("Node %s returned an unparseable status body: %v", cfg.ID, err)
		return &statusReport{}, nil
	}
	return &report, nil
}

// Heartbeat records a node-pushed liveness signal and returns the interval
// the node should wait before the next one. Nodes that report before being
// configured are stored with a pending registration for admin approval.
func (s *Service) Heartbeat(ctx context.Context, hb *HeartbeatRequest) (int, error) {
	known := false
	configs, err := s.store.NodeConfigs(ctx)
	if err == nil {
		for _, cfg := range configs {
			if cfg.ID == hb.ESP32ID {
				known = true
				break
			}
		}
	}

	now := time.Now().UTC()
	networkStatus := hb.NetworkStatus
	if networkStatus == "" {
		networkStatus = model.NetworkConnected
	}
	status := &model.NodeStatus{
		ESP32ID:         hb.ESP32ID,
		IsOnline:        true,
		LastHeartbeat:   &now,
		IPAddress:       hb.IPAddress,
		SignalStrength:  hb.SignalStrength,
		NetworkStatus:   networkStatus,
		FirmwareVersion: hb.FirmwareVersion,
		UptimeSeconds:   hb.UptimeSeconds,
	}
	if !known {
		status.RegistrationStatus = model.RegistrationPending
	}

	if err := s.store.UpsertNodeStatus(ctx, status); err != nil {
		return 0, err
	}

	interval := s.cfg.Monitor.HeartbeatIntervalSeconds
	if settings, err := s.store.Settings(ctx); err == nil && settings.HeartbeatIntervalSeconds > 0 {
		interval = settings.HeartbeatIntervalSeconds
	}
	return interval, nil
}

func (s *Service) previousOnline(ctx context.Context) map[string]bool {
	online := make(map[string]bool)
	statuses, err := s.store.ListNodeStatuses(ctx)
	if err != nil {
		log.Printf("Warning: could not load previous node statuses: %v", err)
		return online
	}
	for _, st := range statuses {
		online[st.ESP32ID] = st.IsOnline
	}
	return online
}

func (s *Service) notifyOffline(nodeID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(nodeID)
}
