// Package topology builds the derived network view served to the admin UI.
// It is a pure function of the node configuration list and the status table
// and is recomputed on every query.
package topology

import (
	"time"

	"laundry-orchestrator/internal/model"
)

// Node is one entry in the computed topology: config and status merged, plus
// a load percentage.
type Node struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	Location      string     `json:"location"`
	Machines      []string   `json:"machines"`
	IsOnline      bool       `json:"isOnline"`
	Load          float64    `json:"load"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
}

// Connection is an inferred link between two adjacent online nodes.
type Connection struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Strength float64 `json:"strength"`
}

// Topology is the full derived view.
type Topology struct {
	Nodes         []Node       `json:"nodes"`
	Connections   []Connection `json:"connections"`
	TotalMachines int          `json:"totalMachines"`
	OnlineNodes   int          `json:"onlineNodes"`
}

const defaultStrength = 75

// Build computes the topology. maxMachinesPerNode scales the load
// percentage; nodes at or above it report 100%.
func Build(configs []model.NodeConfig, statuses []model.NodeStatus, maxMachinesPerNode int) Topology {
	if maxMachinesPerNode <= 0 {
		maxMachinesPerNode = 4
	}

	statusMap := make(map[string]model.NodeStatus, len(statuses))
	for _, st := range statuses {
		statusMap[st.ESP32ID] = st
	}

	topo := Topology{
		Nodes:       make([]Node, 0, len(configs)),
		Connections: []Connection{},
	}

	for _, cfg := range configs {
		st, known := statusMap[cfg.ID]
		node := Node{
			ID:       cfg.ID,
			Name:     cfg.Name,
			Host:     cfg.Host,
			Port:     cfg.Port,
			Location: cfg.Location,
			Machines: cfg.Machines,
			Load:     nodeLoad(len(cfg.Machines), maxMachinesPerNode),
		}
		if known {
			node.IsOnline = st.IsOnline
			node.LastHeartbeat = st.LastHeartbeat
		}
		topo.Nodes = append(topo.Nodes, node)
		topo.TotalMachines += len(cfg.Machines)
		if node.IsOnline {
			topo.OnlineNodes++
		}
	}

	// Adjacent online nodes are assumed connected; real link discovery would
	// come from the nodes themselves.
	for i := 0; i+1 < len(topo.Nodes); i++ {
		a, b := topo.Nodes[i], topo.Nodes[i+1]
		if !a.IsOnline || !b.IsOnline {
			continue
		}
		topo.Connections = append(topo.Connections, Connection{
			From:     a.ID,
			To:       b.ID,
			Strength: linkStrength(statusMap[a.ID], statusMap[b.ID]),
		})
	}

	return topo
}

func nodeLoad(machineCount, maxPerNode int) float64 {
	load := float64(machineCount) / float64(maxPerNode) * 100
	if load > 100 {
		return 100
	}
	return load
}

// linkStrength derives a 0-100 score from the endpoints' WiFi signal
// strength, mapping the usable RSSI range of -100..-50 dBm onto it.
func linkStrength(a, b model.NodeStatus) float64 {
	sa, okA := signalScore(a.SignalStrength)
	sb, okB := signalScore(b.SignalStrength)
	switch {
	case okA && okB:
		return (sa + sb) / 2
	case okA:
		return sa
	case okB:
		return sb
	default:
		return defaultStrength
	}
}

func signalScore(rssi *float64) (float64, bool) {
	if rssi == nil {
		return 0, false
	}
	score := 2 * (*rssi + 100)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, true
}
