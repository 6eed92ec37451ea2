package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/NicolasHaas/gotalk/pkg/model"
	"github.com/NicolasHaas/gotalk/pkg/protocol"
)

// startChat binds the chat listener and runs its accept loop in the background.
func (s *Server) startChat() error {
	ln, err := net.Listen("tcp", s.cfg.ChatAddr)
	if err != nil {
		return fmt.Errorf("server: listen chat: %w", err)
	}
	s.chatLn = ln
	slog.Info("chat listening", "addr", ln.Addr().String(), "max_clients", s.cfg.MaxClients)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln, s.admitChat)
	}()
	return nil
}

// acceptLoop accepts until the listener closes. A failed Accept never ends
// the loop unless the server is shutting down.
func (s *Server) acceptLoop(ln net.Listener, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isShutdownErr(err) {
				return
			}
			slog.Error("accept error", "addr", ln.Addr().String(), "err", err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		handle(conn)
	}
}

// admitChat takes a capacity slot for conn or refuses it without a handshake.
func (s *Server) admitChat(conn net.Conn) {
	s.metrics.TotalConnections.Add(1)
	select {
	case s.gate <- struct{}{}:
	default:
		s.metrics.RefusedConnections.Add(1)
		slog.Warn("server full, refusing connection", "remote", conn.RemoteAddr().String())
		s.events.Log("refused " + conn.RemoteAddr().String() + ": server full")
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = protocol.WriteLine(conn, protocol.FormatServerFull)
		_ = conn.Close()
		return
	}

	sess := NewSession(conn, s.cfg.MaxLineLength, s.cfg.SendQueue, s.cfg.WriteTimeout)
	if !s.track(sess) {
		<-s.gate
		_ = sess.Close()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.gate }()
		defer s.untrack(sess)
		s.handleChatConn(sess)
	}()
}

// handleChatConn runs one chat connection from handshake to departure.
func (s *Server) handleChatConn(sess *Session) {
	sess.log.Debug("new chat connection")
	sess.setState(StateHandshaking)

	username, ok := s.handshake(sess)
	if !ok {
		sess.setState(StateClosing)
		_ = sess.Close()
		sess.setState(StateClosed)
		return
	}

	sess.setState(StateActive)
	sess.start()
	s.metrics.ActiveSessions.Add(1)
	sess.log.Info("client connected", "user", username)
	s.events.Log(username + " connected from " + sess.RemoteAddr())

	defer func() {
		sess.setState(StateClosing)
		// Remove before announcing so no one sends to a departed name.
		s.registry.Remove(sess)
		s.router.Leave(username)
		_ = sess.Close()
		sess.setState(StateClosed)
		s.metrics.ActiveSessions.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
		sess.log.Info("client disconnected", "user", username)
		s.events.Log(username + " disconnected")
	}()

	s.router.Join(username)
	s.readLoop(sess)
}

// handshake prompts for a username and registers it. On failure the client
// has been told why and the session is not registered.
func (s *Server) handshake(sess *Session) (string, bool) {
	if s.cfg.HandshakeTimeout > 0 {
		sess.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}
	if err := sess.writeLine(protocol.UsernamePrompt); err != nil {
		sess.log.Debug("handshake prompt failed", "err", err)
		s.metrics.AbortedHandshakes.Add(1)
		return "", false
	}

	line, err := sess.readLine()
	if err != nil {
		sess.log.Debug("handshake read failed", "err", err)
		s.metrics.AbortedHandshakes.Add(1)
		return "", false
	}
	sess.SetReadDeadline(time.Time{})

	username := strings.TrimSpace(line)
	if err := model.ValidateUsername(username); err != nil {
		s.metrics.AbortedHandshakes.Add(1)
		if !errors.Is(err, model.ErrUsernameEmpty) {
			_ = sess.writeLine("Invalid username: " + err.Error())
		}
		sess.log.Debug("handshake rejected", "err", err)
		return "", false
	}

	sess.username = username
	if err := s.registry.Register(username, sess); err != nil {
		s.metrics.DuplicateUsernames.Add(1)
		_ = sess.writeLine(protocol.FormatDuplicate(username))
		sess.log.Info("duplicate username rejected", "user", username)
		s.events.Log("rejected duplicate username " + username)
		return "", false
	}
	return username, true
}

// readLoop feeds commands into the router until the connection ends.
func (s *Server) readLoop(sess *Session) {
	for {
		if s.cfg.IdleTimeout > 0 {
			sess.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		cmd, err := sess.ReadCommand()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrMalformedCommand):
				s.router.Malformed(sess.Username(), err)
				continue
			case errors.Is(err, protocol.ErrLineTooLong):
				sess.log.Warn("line too long, closing", "user", sess.Username())
			case isClosedErr(err):
				sess.log.Debug("connection closed", "user", sess.Username(), "err", err)
			default:
				sess.log.Warn("read failed", "user", sess.Username(), "err", err)
			}
			return
		}
		sess.log.Debug("command", "user", sess.Username(), "kind", cmd.Kind)
		s.router.Handle(sess.Username(), cmd)
	}
}
