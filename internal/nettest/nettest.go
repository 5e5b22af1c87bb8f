// Package nettest runs on-demand connectivity diagnostics against a set of
// nodes, independent of the health monitor's own bookkeeping. Both write the
// same status table with last-write-wins semantics per node id.
package nettest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"laundry-orchestrator/config"
	"laundry-orchestrator/internal/model"
	"laundry-orchestrator/internal/store"
)

// ErrNoNodesMatched is returned when none of the requested ids exist in the
// configuration.
var ErrNoNodesMatched = errors.New("no valid nodes found for testing")

// Test types.
const (
	TestPing       = "ping"
	TestLatency    = "latency"
	TestThroughput = "throughput"
	TestAll        = "all"
)

// Probes holds the individual probe outcomes for one node.
type Probes struct {
	Ping       bool    `json:"ping"`
	LatencyMs  float64 `json:"latency"`
	Throughput float64 `json:"throughput"`
}

// Result is the diagnostic outcome for one node.
type Result struct {
	NodeID         string `json:"nodeId"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	IsReachable    bool   `json:"isReachable"`
	ResponseTimeMs int64  `json:"responseTime"`
	LastError      string `json:"lastError,omitempty"`
	Probes         Probes `json:"tests"`
}

// Statistics aggregates the numeric outcomes of a test run.
type Statistics struct {
	Availability          float64 `json:"availability"`
	AverageResponseTimeMs float64 `json:"averageResponseTime"`
	AverageLatencyMs      float64 `json:"averageLatency"`
	AverageThroughput     float64 `json:"averageThroughput"`
}

// Health report categories by score.
const (
	HealthExcellent = "excellent"
	HealthGood      = "good"
	HealthWarning   = "warning"
	HealthCritical  = "critical"
)

// Report is the derived diagnostic summary with remediation hints.
type Report struct {
	HealthScore     float64  `json:"healthScore"`
	Status          string   `json:"status"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// RunSummary is the full outcome of one TestConnectivity call.
type RunSummary struct {
	TestType              string     `json:"testType"`
	TotalTests            int        `json:"totalTests"`
	SuccessfulConnections int        `json:"successfulConnections"`
	FailedConnections     int        `json:"failedConnections"`
	Results               []Result   `json:"results"`
	Statistics            Statistics `json:"statistics"`
	Report                Report     `json:"report"`
}

// Tester runs connectivity diagnostics.
type Tester struct {
	cfg    *config.NetworkTestConfig
	store  store.Store
	client *http.Client
}

// New creates a Tester.
func New(cfg *config.NetworkTestConfig, s store.Store) *Tester {
	return &Tester{
		cfg:    cfg,
		store:  s,
		client: &http.Client{Timeout: cfg.ProbeTimeout},
	}
}

// TestConnectivity probes the requested nodes in parallel. A probe failure
// becomes that node's result; the call itself only fails when no requested
// node exists in the configuration.
func (t *Tester) TestConnectivity(ctx context.Context, nodeIDs []string, testType string) (*RunSummary, error) {
	if testType == "" {
		testType = TestAll
	}

	configs, err := t.store.NodeConfigs(ctx)
	if err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		requested[id] = true
	}
	var targets []model.NodeConfig
	for _, cfg := range configs {
		if requested[cfg.ID] {
			targets = append(targets, cfg)
		}
	}
	if len(targets) == 0 {
		return nil, ErrNoNodesMatched
	}

	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target model.NodeConfig) {
			defer wg.Done()
			results[i] = t.testNode(ctx, target, testType)
		}(i, target)
	}
	wg.Wait()

	for _, r := range results {
		t.recordStatus(ctx, r)
	}

	summary := &RunSummary{
		TestType:   testType,
		TotalTests: len(results),
		Results:    results,
	}
	for _, r := range results {
		if r.IsReachable {
			summary.SuccessfulConnections++
		} else {
			summary.FailedConnections++
		}
	}
	summary.Statistics = computeStatistics(results)
	summary.Report = t.buildReport(results)
	return summary, nil
}

func (t *Tester) testNode(ctx context.Context, cfg model.NodeConfig, testType string) Result {
	result := Result{NodeID: cfg.ID, Host: cfg.Host, Port: cfg.Port}

	start := time.Now()
	err := t.ping(ctx, cfg)
	result.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		result.LastError = err.Error()
		return result
	}
	result.IsReachable = true
	result.Probes.Ping = true

	if testType == TestLatency || testType == TestAll {
		result.Probes.LatencyMs = t.latency(ctx, cfg)
	}
	if testType == TestThroughput || testType == TestAll {
		result.Probes.Throughput = t.throughput(ctx, cfg)
	}
	return result
}

func (t *Tester) ping(ctx context.Context, cfg model.NodeConfig) error {
	probeCtx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, t.statusURL(cfg), nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}
	return nil
}

// latency averages several short round trips. Failed samples are skipped; an
// all-failed run reports zero rather than an error.
func (t *Tester) latency(ctx context.Context, cfg model.NodeConfig) float64 {
	var total time.Duration
	samples := 0
	for i := 0; i < t.cfg.LatencySamples; i++ {
		start := time.Now()
		if err := t.ping(ctx, cfg); err != nil {
			log.Printf("Latency sample %d for node %s failed: %v", i+1, cfg.ID, err)
			continue
		}
		total += time.Since(start)
		samples++
	}
	if samples == 0 {
		return 0
	}
	return float64(total.Milliseconds()) / float64(samples)
}

// throughput estimates KB/s from one status download. Best effort only.
func (t *Tester) throughput(ctx context.Context, cfg model.NodeConfig) float64 {
	probeCtx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, t.statusURL(cfg), nil)
	if err != nil {
		return 0
	}
	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / 1024 / elapsed
}

func (t *Tester) statusURL(cfg model.NodeConfig) string {
	return fmt.Sprintf("http://%s:%d/status", cfg.Host, cfg.Port)
}

// recordStatus writes the reachability outcome into the shared status table
// using the same semantics as the health monitor.
func (t *Tester) recordStatus(ctx context.Context, r Result) {
	if r.IsReachable {
		now := time.Now().UTC()
		err := t.store.UpsertNodeStatus(ctx, &model.NodeStatus{
			ESP32ID:       r.NodeID,
			IsOnline:      true,
			LastHeartbeat: &now,
			IPAddress:     r.Host,
			NetworkStatus: model.NetworkConnected,
		})
		if err != nil {
			log.Printf("Warning: could not record test result for node %s: %v", r.NodeID, err)
		}
		return
	}
	if err := t.store.MarkNodeOffline(ctx, r.NodeID, model.NetworkDisconnected); err != nil {
		log.Printf("Warning: could not record test result for node %s: %v", r.NodeID, err)
	}
}

func computeStatistics(results []Result) Statistics {
	var stats Statistics
	if len(results) == 0 {
		return stats
	}

	reachable := 0
	var responseTotal, latencyTotal, throughputTotal float64
	for _, r := range results {
		if !r.IsReachable {
			continue
		}
		reachable++
		responseTotal += float64(r.ResponseTimeMs)
		latencyTotal += r.Probes.LatencyMs
		throughputTotal += r.Probes.Throughput
	}
	stats.Availability = float64(reachable) / float64(len(results)) * 100
	if reachable > 0 {
		stats.AverageResponseTimeMs = responseTotal / float64(reachable)
		stats.AverageLatencyMs = latencyTotal / float64(reachable)
		stats.AverageThroughput = throughputTotal / float64(reachable)
	}
	return stats
}

func (t *Tester) buildReport(results []Result) Report {
	report := Report{Issues: []string{}, Recommendations: []string{}}
	if len(results) == 0 {
		return report
	}

	var offline []string
	highLatency, lowThroughput := 0, 0
	for _, r := range results {
		if !r.IsReachable {
			offline = append(offline, r.NodeID)
			continue
		}
		if r.Probes.LatencyMs > t.cfg.LatencyThresholdMs {
			highLatency++
		}
		if r.Probes.Throughput > 0 && r.Probes.Throughput < t.cfg.ThroughputThresholdKBps {
			lowThroughput++
		}
	}

	if len(offline) > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d node(s) offline: %s", len(offline), strings.Join(offline, ", ")))
		report.Recommendations = append(report.Recommendations,
			"Check physical connectivity and network configuration of the offline nodes")
	}
	if highLatency > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d node(s) with high latency (>%.0fms)", highLatency, t.cfg.LatencyThresholdMs))
		report.Recommendations = append(report.Recommendations,
			"Tune network configuration to reduce latency")
	}
	if lowThroughput > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d node(s) with low throughput (<%.0f KB/s)", lowThroughput, t.cfg.ThroughputThresholdKBps))
		report.Recommendations = append(report.Recommendations,
			"Check WiFi signal quality and QoS configuration")
	}

	report.HealthScore = float64(len(results)-len(offline)) / float64(len(results)) * 100
	switch {
	case report.HealthScore > 90:
		report.Status = HealthExcellent
	case report.HealthScore > 70:
		report.Status = HealthGood
	case report.HealthScore > 50:
		report.Status = HealthWarning
	default:
		report.Status = HealthCritical
	}
	return report
}
