package server

import (
	"bytes"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordConn is a net.Conn that records writes and blocks reads until closed.
type recordConn struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	closed  chan struct{}
	once    sync.Once
	closes  atomic.Int32
	writeFn func(p []byte) (int, error)
}

func newRecordConn() *recordConn {
	return &recordConn{closed: make(chan struct{})}
}

func (c *recordConn) Read(_ []byte) (int, error) {
	<-c.closed
	return 0, net.ErrClosed
}

func (c *recordConn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	if c.writeFn != nil {
		return c.writeFn(p)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *recordConn) Close() error {
	c.closes.Add(1)
	err := net.ErrClosed
	c.once.Do(func() {
		close(c.closed)
		err = nil
	})
	return err
}

func (c *recordConn) LocalAddr() net.Addr                { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345} }
func (c *recordConn) RemoteAddr() net.Addr               { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000} }
func (c *recordConn) SetDeadline(_ time.Time) error      { return nil }
func (c *recordConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *recordConn) SetWriteDeadline(_ time.Time) error { return nil }

// lines returns every complete line written so far.
func (c *recordConn) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := strings.TrimSuffix(c.buf.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func (c *recordConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// activeSession registers a started session for user over a recordConn.
func activeSession(t *testing.T, reg *Registry, user string, queue int) (*Session, *recordConn) {
	t.Helper()
	conn := newRecordConn()
	sess := NewSession(conn, 0, queue, 0)
	sess.username = user
	if err := reg.Register(user, sess); err != nil {
		t.Fatalf("Register(%q): %v", user, err)
	}
	sess.setState(StateActive)
	sess.start()
	t.Cleanup(func() { _ = sess.Close() })
	return sess, conn
}
