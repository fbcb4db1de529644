//go:build windows

package pipe

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

const pipePrefix = `\\.\pipe\`

// EndpointAddress maps an endpoint name to the named pipe \\.\pipe\<name>.
// dir is ignored because named pipes live in their own namespace.
func EndpointAddress(dir, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return pipePrefix + name, nil
}

func listen(address string) (net.Listener, error) {
	// Message mode lets the client signal end of envelope with CloseWrite.
	return winio.ListenPipe(address, &winio.PipeConfig{
		MessageMode:      true,
		InputBufferSize:  64 * 1024,
		OutputBufferSize: 64 * 1024,
	})
}

func dial(ctx context.Context, address string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, address)
}
