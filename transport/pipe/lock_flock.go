//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package pipe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// lockEndpoint takes an exclusive, non-blocking flock on <address>.lock. The
// lock is held for the lifetime of a receiver, across listener generations,
// and is released by the kernel if the process dies. The lock file itself is
// never removed.
func lockEndpoint(address string) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(address), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(address+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrEndpointInUse, address)
		}
		return nil, fmt.Errorf("pipe: lock endpoint %s: %w", address, err)
	}
	return f, nil
}
