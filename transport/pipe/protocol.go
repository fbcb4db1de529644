package pipe

// Control bytes exchanged around the envelope.
const (
	readyByte byte = 0x01
	ackByte   byte = 0x06
	nakByte   byte = 0x15
)

type writeCloser interface {
	CloseWrite() error
}

// closeWrite half-closes conn when the endpoint supports it so the peer's
// decoder sees end of stream right after the envelope.
func closeWrite(conn any) error {
	if wc, ok := conn.(writeCloser); ok {
		return wc.CloseWrite()
	}
	return nil
}
