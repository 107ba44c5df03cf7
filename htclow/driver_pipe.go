package htclow

import (
	"context"
	"io"
)

// PipeDriver adapts an io.ReadWriteCloser (e.g. net.Pipe, or a unix
// socket's *net.UnixConn) to the Driver interface. It underlies both the
// in-memory test harness and, wrapped around a *net.TCPConn, a real TCP
// transport.
type PipeDriver struct {
	rwc           io.ReadWriteCloser
	maxPacketSize int
	connected     bool
}

// NewPipeDriver wraps rwc, which must already be connected: Connect
// returns nil immediately (matching a pre-dialed TCP socket or the writer
// half of an os.Pipe/net.Pipe pair) until Shutdown, and io.ErrClosedPipe
// after it.
func NewPipeDriver(rwc io.ReadWriteCloser, maxPacketSize int) *PipeDriver {
	return &PipeDriver{rwc: rwc, maxPacketSize: maxPacketSize, connected: true}
}

func (d *PipeDriver) Connect(ctx context.Context) error {
	if !d.connected {
		return io.ErrClosedPipe
	}
	return nil
}

func (d *PipeDriver) Receive(ctx context.Context, p []byte) error {
	_, err := io.ReadFull(d.rwc, p)
	return err
}

func (d *PipeDriver) Send(ctx context.Context, p []byte) error {
	_, err := d.rwc.Write(p)
	return err
}

func (d *PipeDriver) MaxPacketSize() int { return d.maxPacketSize }

func (d *PipeDriver) Shutdown() error {
	d.connected = false
	return d.rwc.Close()
}
