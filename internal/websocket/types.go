package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDetection is sent when a record was found to contain PII
	EventTypeDetection EventType = "pii_detection"
	// EventTypeBatchProgress reports batch pipeline progress
	EventTypeBatchProgress EventType = "batch_progress"
	// EventTypeBatchComplete is sent once when a batch run finishes
	EventTypeBatchComplete EventType = "batch_complete"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// DetectionEvent describes where PII was found. It carries field names,
// categories and counts only.
type DetectionEvent struct {
	Source        string            `json:"source"` // "api" or "batch"
	RecordID      string            `json:"record_id,omitempty"`
	RunID         string            `json:"run_id,omitempty"`
	Findings      []privacy.Finding `json:"findings"`
	TotalFindings int               `json:"total_findings"`
	ProcessingMS  float64           `json:"processing_ms,omitempty"`
}

// BatchEvent reports progress of a batch run
type BatchEvent struct {
	RunID      string  `json:"run_id"`
	Input      string  `json:"input"`
	Processed  int64   `json:"processed"`
	Flagged    int64   `json:"flagged"`
	Malformed  int64   `json:"malformed"`
	RatePerSec float64 `json:"rate_per_sec"`
	Done       bool    `json:"done"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string             `json:"status"`
	Uptime           string             `json:"uptime"`
	Fingerprint      string             `json:"fingerprint"`
	Categories       []privacy.Category `json:"categories"`
	ConnectedClients int                `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	// subscribed is nil when the client wants every event
	subscribed map[EventType]bool
}
