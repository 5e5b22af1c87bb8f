package model

// NodeConfig describes a single ESP32 relay-controller node and the machines
// assigned to it. The full list is stored as one JSON column on the system
// settings record and is always read and written as a unit.
type NodeConfig struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Location string   `json:"location"`
	Machines []string `json:"machines"`
}
