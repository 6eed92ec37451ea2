// Package server implements the GoTalk chat and file relay server.
//
// Two TCP listeners run side by side: the chat port, where each connection
// becomes a Session after a username handshake, and the file port, where each
// connection carries exactly one upload or download. Every connection is
// served by its own goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/NicolasHaas/gotalk/pkg/datastore"
	"github.com/NicolasHaas/gotalk/pkg/events"
	"github.com/NicolasHaas/gotalk/pkg/relay"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Index and will Close() it on shutdown.
type Dependencies struct {
	Index datastore.FileIndex // nil = in-memory index
	Redis redis.Cmdable       // nil = no Redis event sink
}

// Server is the main GoTalk server.
type Server struct {
	cfg      Config
	registry *Registry
	router   *Router
	relay    *relay.Relay
	index    datastore.FileIndex
	metrics  *Metrics
	events   *events.Bus
	redis    redis.Cmdable

	// gate holds one token per chat connection being served.
	gate chan struct{}

	chatLn net.Listener
	fileLn net.Listener

	mu        sync.Mutex
	closing   bool
	sessions  map[*Session]struct{} // every chat connection, handshaking or active
	fileConns map[net.Conn]struct{}

	wg           sync.WaitGroup
	shutdownOnce sync.Once
	ctx          context.Context
	cancel       context.CancelFunc
}

// New creates a new Server instance. It opens the storage directory but
// does not bind any port; see Start.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	index := deps.Index
	if index == nil {
		index = datastore.NewMemory()
	}
	rl, err := relay.New(cfg.StorageDir, index, cfg.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		registry:  NewRegistry(),
		relay:     rl,
		index:     index,
		metrics:   NewMetrics(),
		events:    events.NewBus(),
		redis:     deps.Redis,
		gate:      make(chan struct{}, cfg.MaxClients),
		sessions:  make(map[*Session]struct{}),
		fileConns: make(map[net.Conn]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.router = NewRouter(s.registry, RouterOptions{
		Events:   s.events,
		Metrics:  s.metrics,
		Files:    rl,
		FileAddr: s.FileAddr,
	})
	return s, nil
}

// Registry returns the registry of active sessions.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Router returns the command router.
func (s *Server) Router() *Router {
	return s.router
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Events returns the Outbound event bus.
func (s *Server) Events() *events.Bus {
	return s.events
}

// ChatAddr returns the bound chat address, or the configured one before Start.
func (s *Server) ChatAddr() string {
	if s.chatLn != nil {
		return s.chatLn.Addr().String()
	}
	return s.cfg.ChatAddr
}

// FileAddr returns the bound file address, or the configured one before Start.
func (s *Server) FileAddr() string {
	if s.fileLn != nil {
		return s.fileLn.Addr().String()
	}
	return s.cfg.FileAddr
}

// track records a live chat connection so Shutdown can close it. It
// returns false once shutdown has begun.
func (s *Server) track(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) trackFile(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.fileConns[conn] = struct{}{}
	return true
}

func (s *Server) untrackFile(conn net.Conn) {
	s.mu.Lock()
	delete(s.fileConns, conn)
	s.mu.Unlock()
}

// isShutdownErr reports whether an Accept error means the listener was closed.
func (s *Server) isShutdownErr(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}
