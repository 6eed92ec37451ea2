// Package client implements the GoTalk client networking: a line-oriented
// chat connection and one-shot file transfers.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/NicolasHaas/gotalk/pkg/protocol"
)

var (
	ErrServerFull    = errors.New("client: server is full")
	ErrUsernameTaken = errors.New("client: username already taken")
	ErrRejected      = errors.New("client: handshake rejected")
)

// ChatClient is an active chat connection.
type ChatClient struct {
	conn     net.Conn
	username string
	mu       sync.Mutex // serializes writes
	lines    chan string
	done     chan struct{}
}

// Dial connects to the chat port and completes the username handshake. It
// returns once the server has announced the join.
func Dial(ctx context.Context, addr, username string) (*ChatClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect chat: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	lr := protocol.NewLineReader(conn, 0)
	pending, err := handshake(conn, lr, username)
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("client: handshake: %w", ctx.Err())
		}
		return nil, err
	}

	c := &ChatClient{
		conn:     conn,
		username: username,
		lines:    make(chan string, 64),
		done:     make(chan struct{}),
	}
	go c.receive(lr, pending)
	return c, nil
}

// handshake answers the username prompt and waits for our own join line.
// Lines broadcast before it are returned so the caller does not lose them.
func handshake(conn net.Conn, lr *protocol.LineReader, username string) ([]string, error) {
	first, err := lr.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("client: read prompt: %w", err)
	}
	switch first {
	case protocol.UsernamePrompt:
	case protocol.FormatServerFull:
		return nil, ErrServerFull
	default:
		return nil, fmt.Errorf("%w: unexpected greeting %q", ErrRejected, first)
	}

	if err := protocol.WriteLine(conn, username); err != nil {
		return nil, fmt.Errorf("client: send username: %w", err)
	}

	joined := protocol.FormatJoined(username)
	var pending []string
	last := ""
	for {
		line, err := lr.ReadLine()
		if err != nil {
			if last != "" {
				return nil, fmt.Errorf("%w: %s", ErrRejected, last)
			}
			return nil, fmt.Errorf("client: handshake: %w", err)
		}
		switch line {
		case joined:
			return pending, nil
		case protocol.FormatDuplicate(username):
			return nil, ErrUsernameTaken
		}
		pending = append(pending, line)
		last = line
	}
}

func (c *ChatClient) receive(lr *protocol.LineReader, pending []string) {
	defer close(c.done)
	defer close(c.lines)
	for _, line := range pending {
		c.lines <- line
	}
	for {
		line, err := lr.ReadLine()
		if err != nil {
			if !errors.Is(err, protocol.ErrConnectionClosed) {
				slog.Error("chat read error", "err", err)
			} else {
				slog.Debug("chat connection closed")
			}
			return
		}
		c.lines <- line
	}
}

// Username returns the name this client joined with.
func (c *ChatClient) Username() string { return c.username }

// Lines delivers every line the server sends, in order. It is closed when
// the connection ends.
func (c *ChatClient) Lines() <-chan string { return c.lines }

// Send writes one line: plain text or a command such as "/private bob hi".
func (c *ChatClient) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := protocol.WriteLine(c.conn, text); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// Close closes the chat connection.
func (c *ChatClient) Close() error {
	return c.conn.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (c *ChatClient) Done() <-chan struct{} {
	return c.done
}
