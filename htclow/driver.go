package htclow

import "context"

// Driver is the external collaborator a Manager attaches to: a USB
// gadget, a TCP socket, or a plain serial channel. It is
// specified only by interface; concrete drivers live beside their
// transport (driver_tcp.go, driver_pipe.go in this package).
type Driver interface {
	// Connect blocks until the link is established or ctx is cancelled.
	Connect(ctx context.Context) error
	// Receive reads exactly len(p) bytes or returns an error.
	Receive(ctx context.Context, p []byte) error
	// Send writes a single packet's header+body in one call.
	Send(ctx context.Context, p []byte) error
	// MaxPacketSize bounds the body size of a Data packet on this link.
	MaxPacketSize() int
	// Shutdown tears down the underlying connection.
	Shutdown() error
}
