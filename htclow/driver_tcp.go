package htclow

import (
	"context"
	"net"
)

// TCPDriver adapts a net.Listener to the Driver interface: each Connect
// call accepts the next inbound connection (HTC is a server-listens,
// host-dials transport) and every subsequent Receive/Send goes to that
// connection until Shutdown or a read/write error forces a reconnect.
type TCPDriver struct {
	ln            net.Listener
	maxPacketSize int
	conn          net.Conn
}

// NewTCPDriver wraps an already-bound listener.
func NewTCPDriver(ln net.Listener, maxPacketSize int) *TCPDriver {
	return &TCPDriver{ln: ln, maxPacketSize: maxPacketSize}
}

// Connect accepts the next connection. Accept runs in a side goroutine
// (net.Listener has no native context support) and Connect returns
// ctx.Err() as soon as ctx is cancelled; the listener is not closed, so
// that goroutine stays in Accept until a connection arrives or Close is
// called, and a connection it accepts after the cancellation is not used.
func (d *TCPDriver) Connect(ctx context.Context) error {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := d.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		d.conn = r.conn
		return nil
	}
}

func (d *TCPDriver) Receive(ctx context.Context, p []byte) error {
	_, err := readFull(d.conn, p)
	return err
}

func (d *TCPDriver) Send(ctx context.Context, p []byte) error {
	_, err := d.conn.Write(p)
	return err
}

func (d *TCPDriver) MaxPacketSize() int { return d.maxPacketSize }

// Shutdown closes the current connection (if any) but leaves the
// listener open, so the next Connect can accept a fresh one.
func (d *TCPDriver) Shutdown() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// Close shuts down the listener entirely; call it when the Manager
// using this driver is being torn down for good.
func (d *TCPDriver) Close() error {
	return d.ln.Close()
}

func readFull(conn net.Conn, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := conn.Read(p[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
