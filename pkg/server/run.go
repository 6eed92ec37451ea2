package server

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/NicolasHaas/gotalk/pkg/events"
)

// Start binds the chat and file ports and starts the background services.
// It returns once every listener is bound; a bind failure is fatal.
func (s *Server) Start() error {
	if err := s.startChat(); err != nil {
		return err
	}
	if err := s.startFiles(); err != nil {
		_ = s.chatLn.Close()
		return err
	}

	// Start Prometheus metrics / events HTTP endpoint
	if err := s.StartAdminHTTP(); err != nil {
		_ = s.chatLn.Close()
		_ = s.fileLn.Close()
		return err
	}

	if s.cfg.MetricsInterval > 0 {
		s.metrics.StartPeriodicLog(s.cfg.MetricsInterval, s.ctx.Done())
	}

	if s.redis != nil {
		channel := s.cfg.RedisChannel
		if channel == "" {
			channel = events.DefaultRedisChannel
		}
		sink := events.NewRedisSink(s.redis, channel)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sink.Run(s.ctx, s.events)
		}()
		slog.Info("publishing events to redis", "channel", channel)
	}

	slog.Info("GoTalk server running", "chat", s.ChatAddr(), "files", s.FileAddr())
	return nil
}

// Run starts the server and blocks until a shutdown signal.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down...", "signal", sig.String())
	case <-s.ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown stops accepting, closes every connection and waits for all
// connection goroutines to finish. It is safe to call more than once.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		s.cancel()
		if s.chatLn != nil {
			_ = s.chatLn.Close()
		}
		if s.fileLn != nil {
			_ = s.fileLn.Close()
		}

		s.mu.Lock()
		s.closing = true
		sessions := make([]*Session, 0, len(s.sessions))
		for sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		fileConns := make([]interface{ Close() error }, 0, len(s.fileConns))
		for c := range s.fileConns {
			fileConns = append(fileConns, c)
		}
		s.mu.Unlock()

		for _, sess := range sessions {
			_ = sess.Close()
		}
		for _, c := range fileConns {
			_ = c.Close()
		}
		s.wg.Wait()

		if cerr := s.relay.Close(); cerr != nil {
			err = fmt.Errorf("server: close relay: %w", cerr)
		}
		if cerr := s.index.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("server: close index: %w", cerr)
		}
		slog.Info("server stopped", "sessions_closed", len(sessions), "transfers_closed", len(fileConns))
	})
	return err
}
