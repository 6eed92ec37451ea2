package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/NicolasHaas/gotalk/pkg/model"
	"github.com/NicolasHaas/gotalk/pkg/protocol"
	"github.com/NicolasHaas/gotalk/pkg/relay"
)

// startFiles binds the file listener and runs its accept loop in the background.
func (s *Server) startFiles() error {
	ln, err := net.Listen("tcp", s.cfg.FileAddr)
	if err != nil {
		return fmt.Errorf("server: listen files: %w", err)
	}
	s.fileLn = ln
	slog.Info("file relay listening", "addr", ln.Addr().String(), "dir", s.relay.Dir())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln, s.admitFile)
	}()
	return nil
}

func (s *Server) admitFile(conn net.Conn) {
	if !s.trackFile(conn) {
		_ = conn.Close()
		return
	}
	s.metrics.FileConnections.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrackFile(conn)
		defer func() { _ = conn.Close() }()
		s.handleFileConn(conn)
	}()
}

// handleFileConn serves exactly one upload or download. The request line is
// "/file <name>" followed by the raw bytes until EOF, or "/download <name>"
// after which the server streams the file and closes.
func (s *Server) handleFileConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log := slog.With("remote", remote)

	lr := protocol.NewLineReader(conn, s.cfg.MaxLineLength)
	if s.cfg.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}
	line, err := lr.ReadLine()
	if err != nil {
		log.Debug("file request read failed", "err", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	req, err := protocol.ParseFileRequest(line)
	if err != nil {
		s.metrics.FilesRejected.Add(1)
		log.Warn("bad file request", "err", err)
		return
	}

	switch req.Kind {
	case model.CmdFileUpload:
		s.serveUpload(log, lr, req.Filename, remote)
	case model.CmdFileDownload:
		s.serveDownload(log, conn, req.Filename)
	}
}

func (s *Server) serveUpload(log *slog.Logger, lr *protocol.LineReader, name, uploader string) {
	rec, err := s.relay.ReceiveUpload(s.ctx, name, lr.Remaining(), uploader)
	if err != nil {
		s.metrics.FilesRejected.Add(1)
		if errors.Is(err, relay.ErrPathTraversal) || errors.Is(err, relay.ErrInvalidName) {
			log.Warn("upload rejected", "file", name, "err", err)
		} else {
			log.Error("upload failed", "file", name, "err", err)
		}
		s.events.Log(fmt.Sprintf("upload of %q failed: %v", name, err))
		return
	}
	s.metrics.Uploads.Add(1)
	s.metrics.BytesIn.Add(rec.Size)
	log.Info("file received", "file", rec.Name, "bytes", rec.Size, "blake2b", rec.Checksum)
	s.events.Log(fmt.Sprintf("File %s received (%d bytes)", rec.Name, rec.Size))
}

func (s *Server) serveDownload(log *slog.Logger, conn net.Conn, name string) {
	if s.cfg.WriteTimeout > 0 {
		// Bound stalls rather than the whole transfer.
		conn = &deadlineWriter{Conn: conn, timeout: s.cfg.WriteTimeout}
	}
	n, err := s.relay.ServeDownload(s.ctx, name, conn)
	s.metrics.BytesOut.Add(n)
	switch {
	case errors.Is(err, relay.ErrFileNotFound):
		s.metrics.FilesNotFound.Add(1)
		log.Info("download of missing file", "file", name)
		s.events.Log(fmt.Sprintf("File %s not found", name))
	case err != nil:
		s.metrics.FilesRejected.Add(1)
		log.Warn("download failed", "file", name, "bytes", n, "err", err)
		s.events.Log(fmt.Sprintf("download of %q failed: %v", name, err))
	default:
		s.metrics.Downloads.Add(1)
		log.Info("file sent", "file", name, "bytes", n)
		s.events.Log(fmt.Sprintf("File %s sent (%d bytes)", name, n))
	}
}

// deadlineWriter extends the write deadline before every Write.
type deadlineWriter struct {
	net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	_ = w.Conn.SetWriteDeadline(time.Now().Add(w.timeout))
	return w.Conn.Write(p)
}
