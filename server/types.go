package server

import (
	"time"

	"github.com/teranos/nexus/pulse/runner"
	"github.com/teranos/nexus/version"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100

	// ShutdownTimeout bounds how long Shutdown waits for goroutines
	ShutdownTimeout = 30 * time.Second

	// maxBodyBytes caps an API request body
	maxBodyBytes = 1 << 20

	// broadcastBuffer is the hub's queue of pending events
	broadcastBuffer = 64
)

// ServerState is the server lifecycle state
type ServerState int32

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// String returns the state name used in logs and /health
func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event types sent to WebSocket clients
const (
	EventVersion     = "version"
	EventRunComplete = "run_complete"
	EventLogs        = "logs"
)

// VersionEvent greets a newly connected client
type VersionEvent struct {
	Type    string       `json:"type"`
	Version version.Info `json:"version"`
}

// RunEvent announces a finished engine run
type RunEvent struct {
	Type string        `json:"type"`
	Run  runner.JobRun `json:"run"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Version string `json:"version"`
	Clients int    `json:"clients"`
	Error   string `json:"error,omitempty"`
}
