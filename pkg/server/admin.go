package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is read-only and unauthenticated like the rest of the server.
	CheckOrigin: func(*http.Request) bool { return true },
}

// adminHandler serves /metrics (Prometheus text), /healthz, /api/users,
// /api/files and /events (websocket Outbound feed).
func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/api/users", s.handleUsers)
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

// StartAdminHTTP starts the admin HTTP server in the background. It shuts
// down when the server context is cancelled.
func (s *Server) StartAdminHTTP() error {
	addr := s.cfg.AdminAddr
	if addr == "" {
		return nil // admin endpoint disabled
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen admin: %w", err)
	}

	srv := &http.Server{
		Handler:           s.adminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("admin HTTP listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("admin HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
	return nil
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics.Snapshot()
	uptime := time.Since(s.metrics.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}

	_, _ = fmt.Fprintf(w, "# HELP gotalk_uptime_seconds Server uptime in seconds.\n")
	_, _ = fmt.Fprintf(w, "# TYPE gotalk_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "gotalk_uptime_seconds %f\n", uptime)

	write("gotalk_sessions_active", "Chat sessions past the handshake.", "gauge", m.ActiveSessions)
	write("gotalk_connections_total", "Lifetime chat connections accepted.", "counter", m.TotalConnections)
	write("gotalk_connections_refused_total", "Chat connections refused at capacity.", "counter", m.RefusedConnections)
	write("gotalk_handshake_duplicate_total", "Handshakes rejected for a taken username.", "counter", m.DuplicateUsernames)
	write("gotalk_handshake_aborted_total", "Handshakes aborted without a valid username.", "counter", m.AbortedHandshakes)
	write("gotalk_disconnects_total", "Active sessions that disconnected.", "counter", m.TotalDisconnects)

	write("gotalk_messages_broadcast_total", "Plain messages broadcast.", "counter", m.MessagesBroadcast)
	write("gotalk_messages_private_total", "Private messages delivered.", "counter", m.PrivateMessages)
	write("gotalk_messages_private_not_found_total", "Private messages to unknown users.", "counter", m.PrivateNotFound)
	write("gotalk_polls_total", "Polls created.", "counter", m.PollsCreated)
	write("gotalk_votes_total", "Votes cast.", "counter", m.Votes)
	write("gotalk_commands_malformed_total", "Commands rejected with a usage reply.", "counter", m.MalformedCommands)
	write("gotalk_lines_delivered_total", "Lines queued to recipients.", "counter", m.LinesDelivered)
	write("gotalk_delivery_failures_total", "Recipients dropped for a full send queue.", "counter", m.DeliveryFailures)

	write("gotalk_file_connections_total", "Lifetime file-port connections.", "counter", m.FileConnections)
	write("gotalk_uploads_total", "Completed uploads.", "counter", m.Uploads)
	write("gotalk_downloads_total", "Completed downloads.", "counter", m.Downloads)
	write("gotalk_files_not_found_total", "Downloads of unknown files.", "counter", m.FilesNotFound)
	write("gotalk_files_rejected_total", "Refused file transfers.", "counter", m.FilesRejected)
	write("gotalk_bytes_in_total", "Uploaded bytes stored.", "counter", m.BytesIn)
	write("gotalk_bytes_out_total", "Downloaded bytes sent.", "counter", m.BytesOut)
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.registry.Usernames())
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.index.ListFiles(r.Context())
	if err != nil {
		slog.Error("admin: list files", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, files)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("admin: encode response", "err", err)
	}
}

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = 54 * time.Second
)

// handleEvents upgrades to a websocket and streams Outbound events as JSON
// text frames until the client goes away or the server stops.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("events upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	feed, cancel := s.events.Subscribe(128)
	defer cancel()

	// Reader: handles pongs and notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsPingPeriod)
	defer ticker.Stop()

	slog.Debug("events subscriber connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			slog.Debug("events subscriber left", "remote", r.RemoteAddr)
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		}
	}
}
