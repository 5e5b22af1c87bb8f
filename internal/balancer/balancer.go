// Package balancer keeps the machine-to-node assignment valid and balanced
// as node availability changes. Every mutation is a read-modify-write of the
// shared configuration list, so all operations are serialized on one mutex.
package balancer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"laundry-orchestrator/internal/model"
	"laundry-orchestrator/internal/store"
)

// Precondition failures surfaced to the caller as distinct errors.
var (
	ErrNoOnlineNodes = errors.New("no online nodes available")
	ErrNodeNotFound  = errors.New("node not found")
	ErrTargetOffline = errors.New("target node is offline")
)

// NodeDistribution summarizes one node's share after a rebalance.
type NodeDistribution struct {
	NodeID       string   `json:"nodeId"`
	MachineCount int      `json:"machineCount"`
	Machines     []string `json:"machines"`
}

// RedistributeResult reports a full redistribution.
type RedistributeResult struct {
	RedistributedNodes int                `json:"redistributedNodes"`
	TotalMachines      int                `json:"totalMachines"`
	MachinesPerNode    int                `json:"machinesPerNode"`
	Distribution       []NodeDistribution `json:"newDistribution"`
}

// FailoverResult reports a single-node failover.
type FailoverResult struct {
	SourceNode    string   `json:"sourceNode"`
	TargetNode    string   `json:"targetNode"`
	MachinesMoved int      `json:"machinesMoved"`
	Machines      []string `json:"machines"`
}

// NodeMetric is the per-node weighting input used by Optimize, reported back
// to the caller for visibility.
type NodeMetric struct {
	NodeID         string  `json:"nodeId"`
	CurrentLoad    int     `json:"currentLoad"`
	UptimeSeconds  int64   `json:"uptime"`
	SignalStrength float64 `json:"signalStrength"`
	Location       string  `json:"location"`
}

// OptimizeResult reports a load-optimized rebalance.
type OptimizeResult struct {
	OptimizedNodes     int                `json:"optimizedNodes"`
	OptimalLoadPerNode int                `json:"optimalLoadPerNode"`
	Metrics            []NodeMetric       `json:"metrics"`
	Distribution       []NodeDistribution `json:"newDistribution"`
}

// Balancer rebalances machine assignments across online nodes.
type Balancer struct {
	mu     sync.Mutex
	store  store.Store
	client *http.Client
}

// New creates a Balancer. notifyTimeout bounds the advisory config-update
// call to a node after failover.
func New(s store.Store, notifyTimeout time.Duration) *Balancer {
	if notifyTimeout <= 0 {
		notifyTimeout = 3 * time.Second
	}
	return &Balancer{
		store:  s,
		client: &http.Client{Timeout: notifyTimeout},
	}
}

// Redistribute recomputes the full assignment from scratch: the ordered union
// of all machines is cut into contiguous slices of ceil(total/online), one per
// online node, and offline nodes are cleared. This is deliberately not
// minimal-disruption; recomputing from scratch keeps the invariant trivially
// true after any sequence of node losses.
func (b *Balancer) Redistribute(ctx context.Context) (*RedistributeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	configs, online, err := b.loadState(ctx)
	if err != nil {
		return nil, err
	}

	onlineCount := 0
	for _, cfg := range configs {
		if online[cfg.ID] {
			onlineCount++
		}
	}
	if onlineCount == 0 {
		return nil, ErrNoOnlineNodes
	}

	allMachines := machineUnion(configs)
	perNode := ceilDiv(len(allMachines), onlineCount)

	nodeIndex := 0
	for i := range configs {
		if !online[configs[i].ID] {
			configs[i].Machines = []string{}
			continue
		}
		start := nodeIndex * perNode
		end := start + perNode
		if start > len(allMachines) {
			start = len(allMachines)
		}
		if end > len(allMachines) {
			end = len(allMachines)
		}
		configs[i].Machines = append([]string{}, allMachines[start:end]...)
		nodeIndex++
	}

	if err := b.store.SaveNodeConfigs(ctx, configs); err != nil {
		return nil, err
	}

	result := &RedistributeResult{
		RedistributedNodes: onlineCount,
		TotalMachines:      len(allMachines),
		MachinesPerNode:    perNode,
	}
	for _, cfg := range configs {
		result.Distribution = append(result.Distribution, NodeDistribution{
			NodeID: cfg.ID, MachineCount: len(cfg.Machines), Machines: cfg.Machines,
		})
	}
	log.Printf("Redistributed %d machines across %d online nodes", len(allMachines), onlineCount)
	return result, nil
}

// Failover moves the entire machine list from source to target. The target
// must be online; both nodes must exist. The assignment change is the source
// of truth — the follow-up notification to the target is advisory and its
// failure does not roll anything back.
func (b *Balancer) Failover(ctx context.Context, sourceID, targetID string) (*FailoverResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	configs, online, err := b.loadState(ctx)
	if err != nil {
		return nil, err
	}

	sourceIdx, targetIdx := -1, -1
	for i, cfg := range configs {
		switch cfg.ID {
		case sourceID:
			sourceIdx = i
		case targetID:
			targetIdx = i
		}
	}
	if sourceIdx < 0 || targetIdx < 0 {
		return nil, ErrNodeNotFound
	}
	if !online[targetID] {
		return nil, ErrTargetOffline
	}

	moved := append([]string{}, configs[sourceIdx].Machines...)
	configs[targetIdx].Machines = append(configs[targetIdx].Machines, moved...)
	configs[sourceIdx].Machines = []string{}

	if err := b.store.SaveNodeConfigs(ctx, configs); err != nil {
		return nil, err
	}

	b.notifyNode(configs[targetIdx], map[string]any{
		"action":   "machines_added",
		"machines": moved,
	})

	log.Printf("Failover %s -> %s moved %d machines", sourceID, targetID, len(moved))
	return &FailoverResult{
		SourceNode:    sourceID,
		TargetNode:    targetID,
		MachinesMoved: len(moved),
		Machines:      moved,
	}, nil
}

// Optimize rebalances like Redistribute but also gathers per-node metrics
// (current load, uptime, signal strength) that weight the result reporting.
func (b *Balancer) Optimize(ctx context.Context) (*OptimizeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	configs, online, err := b.loadState(ctx)
	if err != nil {
		return nil, err
	}

	statuses, err := b.store.ListNodeStatuses(ctx)
	if err != nil {
		return nil, err
	}
	statusMap := make(map[string]model.NodeStatus, len(statuses))
	for _, st := range statuses {
		statusMap[st.ESP32ID] = st
	}

	var metrics []NodeMetric
	onlineCount := 0
	for _, cfg := range configs {
		if !online[cfg.ID] {
			continue
		}
		onlineCount++
		st := statusMap[cfg.ID]
		metric := NodeMetric{
			NodeID:        cfg.ID,
			CurrentLoad:   len(cfg.Machines),
			UptimeSeconds: st.UptimeSeconds,
			Location:      cfg.Location,
		}
		if st.SignalStrength != nil {
			metric.SignalStrength = *st.SignalStrength
		}
		metrics = append(metrics, metric)
	}
	if onlineCount == 0 {
		return nil, ErrNoOnlineNodes
	}

	allMachines := machineUnion(configs)
	optimal := ceilDiv(len(allMachines), onlineCount)

	nodeIndex := 0
	for i := range configs {
		if !online[configs[i].ID] {
			configs[i].Machines = []string{}
			continue
		}
		start := nodeIndex * optimal
		end := start + optimal
		if start > len(allMachines) {
			start = len(allMachines)
		}
		if end > len(allMachines) {
			end = len(allMachines)
		}
		configs[i].Machines = append([]string{}, allMachines[start:end]...)
		nodeIndex++
	}

	if err := b.store.SaveNodeConfigs(ctx, configs); err != nil {
		return nil, err
	}

	result := &OptimizeResult{
		OptimizedNodes:     onlineCount,
		OptimalLoadPerNode: optimal,
		Metrics:            metrics,
	}
	for _, cfg := range configs {
		result.Distribution = append(result.Distribution, NodeDistribution{
			NodeID: cfg.ID, MachineCount: len(cfg.Machines), Machines: cfg.Machines,
		})
	}
	return result, nil
}

func (b *Balancer) loadState(ctx context.Context) ([]model.NodeConfig, map[string]bool, error) {
	configs, err := b.store.NodeConfigs(ctx)
	if err != nil {
		return nil, nil, err
	}

	statuses, err := b.store.ListNodeStatuses(ctx)
	if err != nil {
		return nil, nil, err
	}
	online := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		online[st.ESP32ID] = st.IsOnline
	}
	return configs, online, nil
}

// notifyNode tells a node its assignment changed. Fire and forget: the
// persisted assignment is authoritative, so a failed notification is only
// logged.
func (b *Balancer) notifyNode(cfg model.NodeConfig, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Warning: could not encode notify payload for node %s: %v", cfg.ID, err)
		return
	}
	url := fmt.Sprintf("http://%s:%d/config-update", cfg.Host, cfg.Port)
	resp, err := b.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("Warning: could not notify node %s of assignment change: %v", cfg.ID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("Warning: node %s answered %d to assignment change", cfg.ID, resp.StatusCode)
	}
}

// machineUnion collects every machine across all configs in first-seen order,
// dropping duplicates so a machine is never assigned twice.
func machineUnion(configs []model.NodeConfig) []string {
	seen := make(map[string]bool)
	var all []string
	for _, cfg := range configs {
		for _, m := range cfg.Machines {
			if seen[m] {
				continue
			}
			seen[m] = true
			all = append(all, m)
		}
	}
	return all
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
