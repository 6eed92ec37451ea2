package client

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/NicolasHaas/gotalk/pkg/protocol"
)

// Upload sends r to the file port under name and waits for the server to
// close the connection, which it does once the file is stored or refused.
func Upload(ctx context.Context, addr, name string, r io.Reader) (int64, error) {
	conn, stop, err := dialFile(ctx, addr)
	if err != nil {
		return 0, err
	}
	defer stop()
	defer func() { _ = conn.Close() }()

	if err := protocol.WriteLine(conn, "/file "+name); err != nil {
		return 0, fmt.Errorf("client: upload %s: %w", name, err)
	}
	n, err := io.Copy(conn, r)
	if err != nil {
		return n, fmt.Errorf("client: upload %s: %w", name, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return n, fmt.Errorf("client: upload %s: %w", name, err)
		}
	}
	// The server sends nothing back; EOF or a reset both mean it is done.
	_, _ = io.Copy(io.Discard, conn)
	if ctx.Err() != nil {
		return n, ctx.Err()
	}
	return n, nil
}

// Download streams the stored file name into w. A file the server does not
// have yields zero bytes and no error.
func Download(ctx context.Context, addr, name string, w io.Writer) (int64, error) {
	conn, stop, err := dialFile(ctx, addr)
	if err != nil {
		return 0, err
	}
	defer stop()
	defer func() { _ = conn.Close() }()

	if err := protocol.WriteLine(conn, "/download "+name); err != nil {
		return 0, fmt.Errorf("client: download %s: %w", name, err)
	}
	n, err := io.Copy(w, conn)
	if ctx.Err() != nil {
		return n, ctx.Err()
	}
	if err != nil {
		return n, fmt.Errorf("client: download %s: %w", name, err)
	}
	return n, nil
}

func dialFile(ctx context.Context, addr string) (net.Conn, func() bool, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("client: connect files: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	return conn, stop, nil
}
