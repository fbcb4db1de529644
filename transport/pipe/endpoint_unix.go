//go:build !windows

package pipe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"
)

const staleDialTimeout = 250 * time.Millisecond

// EndpointAddress maps an endpoint name to the socket path
// <dir>/<name>.sock. An empty dir means os.TempDir().
func EndpointAddress(dir, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, name+".sock"), nil
}

func listen(address string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(address), 0o700); err != nil {
		return nil, err
	}
	if err := removeStale(address); err != nil {
		return nil, err
	}
	l, err := net.Listen("unix", address)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(address, 0o600)
	return l, nil
}

// removeStale deletes a socket file left behind by a crashed process. A
// socket that still accepts connections belongs to a live receiver and is
// left alone.
func removeStale(address string) error {
	conn, err := net.DialTimeout("unix", address, staleDialTimeout)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrEndpointInUse, address)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %w", ErrEndpointInUse, address, err)
	}
	if err := os.Remove(address); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func dial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", address)
}
