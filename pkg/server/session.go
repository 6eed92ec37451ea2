package server

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/gotalk/pkg/model"
	"github.com/NicolasHaas/gotalk/pkg/protocol"
)

var (
	ErrSessionClosed = errors.New("server: session closed")
	ErrSlowConsumer  = errors.New("server: session send queue full")
)

// State is a chat connection's lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateActive
	StateClosing
	StateClosed
)

func (st State) String() string {
	switch st {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the server side of one chat connection. Its read loop is the
// sole reader of the connection; after activation a dedicated writer
// goroutine is the sole writer, fed by Send.
type Session struct {
	id       string
	conn     net.Conn
	remote   string
	lr       *protocol.LineReader
	username string // set once before registration, read-only afterwards

	state atomic.Int32

	wmu          sync.Mutex // serializes writes to conn
	writeTimeout time.Duration
	send         chan string
	started      atomic.Bool

	quit      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// NewSession wraps an accepted connection. maxLine bounds incoming lines,
// queue bounds outgoing lines waiting for the writer.
func NewSession(conn net.Conn, maxLine, queue int, writeTimeout time.Duration) *Session {
	if queue <= 0 {
		queue = 256
	}
	id := uuid.NewString()
	remote := conn.RemoteAddr().String()
	return &Session{
		id:           id,
		conn:         conn,
		remote:       remote,
		lr:           protocol.NewLineReader(conn, maxLine),
		writeTimeout: writeTimeout,
		send:         make(chan string, queue),
		quit:         make(chan struct{}),
		log:          slog.With("conn_id", id, "remote", remote),
	}
}

// ID returns the connection's unique identifier.
func (s *Session) ID() string { return s.id }

// Username returns the handshake username, empty before activation.
func (s *Session) Username() string { return s.username }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.remote }

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug("session state", "state", st)
}

// readLine reads one raw line; used during the handshake.
func (s *Session) readLine() (string, error) {
	return s.lr.ReadLine()
}

// ReadCommand blocks until the next non-blank line and parses it. A
// malformed command is returned as a *protocol.CommandError and the session
// stays usable; any other error ends the read loop.
func (s *Session) ReadCommand() (model.Command, error) {
	for {
		line, err := s.lr.ReadLine()
		if err != nil {
			return model.Command{}, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		return protocol.ParseCommand(line)
	}
}

// writeLine writes one line directly to the connection.
func (s *Session) writeLine(text string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return protocol.WriteLine(s.conn, text)
}

// start launches the writer goroutine. Lines queued by Send before start
// are written once it runs.
func (s *Session) start() {
	if s.started.Swap(true) {
		return
	}
	go s.writeLoop()
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.quit:
			return
		case text := <-s.send:
			if err := s.writeLine(text); err != nil {
				if !isClosedErr(err) {
					s.log.Warn("write failed, dropping session", "user", s.username, "err", err)
				}
				// Closing unblocks the read loop, which deregisters us.
				_ = s.Close()
				return
			}
		}
	}
}

// Send queues one line for delivery without blocking. It fails with
// ErrSessionClosed after Close and ErrSlowConsumer when the queue is full.
func (s *Session) Send(text string) error {
	select {
	case <-s.quit:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- text:
		return nil
	case <-s.quit:
		return ErrSessionClosed
	default:
		return ErrSlowConsumer
	}
}

// Close releases the connection exactly once. Later calls return nil.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		err = s.conn.Close()
		if isClosedErr(err) {
			err = nil
		}
	})
	return err
}

// Done is closed when the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.quit
}

// SetReadDeadline bounds the next read; a zero time clears it.
func (s *Session) SetReadDeadline(t time.Time) {
	_ = s.conn.SetReadDeadline(t)
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, protocol.ErrConnectionClosed)
}
