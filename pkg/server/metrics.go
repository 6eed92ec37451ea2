package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Chat connection counters
	TotalConnections   atomic.Int64 // lifetime chat connections accepted
	ActiveSessions     atomic.Int64 // sessions past the handshake
	RefusedConnections atomic.Int64 // connections refused at capacity
	DuplicateUsernames atomic.Int64 // handshakes rejected for a taken name
	AbortedHandshakes  atomic.Int64 // handshakes with no, empty or invalid username
	TotalDisconnects   atomic.Int64 // sessions that left after becoming active

	// Routing counters
	MessagesBroadcast atomic.Int64 // plain messages broadcast
	PrivateMessages   atomic.Int64 // private messages delivered to a live target
	PrivateNotFound   atomic.Int64 // private messages to unknown users
	PollsCreated      atomic.Int64 // /poll commands
	Votes             atomic.Int64 // /vote commands
	MalformedCommands atomic.Int64 // commands rejected with a usage reply
	LinesDelivered    atomic.Int64 // lines queued to recipients
	DeliveryFailures  atomic.Int64 // recipients dropped for a full queue

	// File relay counters
	FileConnections atomic.Int64 // lifetime file-port connections
	Uploads         atomic.Int64 // completed uploads
	Downloads       atomic.Int64 // completed downloads
	FilesNotFound   atomic.Int64 // downloads of unknown files
	FilesRejected   atomic.Int64 // transfers refused (bad name, size, request)
	BytesIn         atomic.Int64 // uploaded bytes stored
	BytesOut        atomic.Int64 // downloaded bytes sent
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	TotalConnections   int64 `json:"total_connections"`
	ActiveSessions     int64 `json:"active_sessions"`
	RefusedConnections int64 `json:"refused_connections"`
	DuplicateUsernames int64 `json:"duplicate_usernames"`
	AbortedHandshakes  int64 `json:"aborted_handshakes"`
	TotalDisconnects   int64 `json:"total_disconnects"`

	MessagesBroadcast int64 `json:"messages_broadcast"`
	PrivateMessages   int64 `json:"private_messages"`
	PrivateNotFound   int64 `json:"private_not_found"`
	PollsCreated      int64 `json:"polls_created"`
	Votes             int64 `json:"votes"`
	MalformedCommands int64 `json:"malformed_commands"`
	LinesDelivered    int64 `json:"lines_delivered"`
	DeliveryFailures  int64 `json:"delivery_failures"`

	FileConnections int64 `json:"file_connections"`
	Uploads         int64 `json:"uploads"`
	Downloads       int64 `json:"downloads"`
	FilesNotFound   int64 `json:"files_not_found"`
	FilesRejected   int64 `json:"files_rejected"`
	BytesIn         int64 `json:"bytes_in"`
	BytesOut        int64 `json:"bytes_out"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:             uptime.Truncate(time.Second).String(),
		UptimeSeconds:      int64(uptime.Seconds()),
		TotalConnections:   m.TotalConnections.Load(),
		ActiveSessions:     m.ActiveSessions.Load(),
		RefusedConnections: m.RefusedConnections.Load(),
		DuplicateUsernames: m.DuplicateUsernames.Load(),
		AbortedHandshakes:  m.AbortedHandshakes.Load(),
		TotalDisconnects:   m.TotalDisconnects.Load(),
		MessagesBroadcast:  m.MessagesBroadcast.Load(),
		PrivateMessages:    m.PrivateMessages.Load(),
		PrivateNotFound:    m.PrivateNotFound.Load(),
		PollsCreated:       m.PollsCreated.Load(),
		Votes:              m.Votes.Load(),
		MalformedCommands:  m.MalformedCommands.Load(),
		LinesDelivered:     m.LinesDelivered.Load(),
		DeliveryFailures:   m.DeliveryFailures.Load(),
		FileConnections:    m.FileConnections.Load(),
		Uploads:            m.Uploads.Load(),
		Downloads:          m.Downloads.Load(),
		FilesNotFound:      m.FilesNotFound.Load(),
		FilesRejected:      m.FilesRejected.Load(),
		BytesIn:            m.BytesIn.Load(),
		BytesOut:           m.BytesOut.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"sessions", s.ActiveSessions,
		"total_connections", s.TotalConnections,
		"refused", s.RefusedConnections,
		"broadcasts", s.MessagesBroadcast,
		"private", s.PrivateMessages,
		"uploads", s.Uploads,
		"downloads", s.Downloads,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
