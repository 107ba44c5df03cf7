package htclow

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hipc-systems/hipc-core/domain"
	"github.com/hipc-systems/hipc-core/htclow/ctrl"
)

// Manager owns one attached Driver and drives its three worker threads —
// listener, receive, send. It is one long-lived object per attached
// transport.
type Manager struct {
	driver  Driver
	ctrl    *ctrl.Service
	mux     *Mux
	metrics *Metrics

	cancel context.CancelFunc

	// pollInterval bounds how often the send thread re-checks for new
	// packets when neither queue is known to be non-empty; a production
	// transport would instead park on a condition variable signaled by
	// Mux/ctrl.Service, but polling keeps the worker loop trivially
	// cancellable and is cheap at this packet rate.
	pollInterval time.Duration
}

// NewManager wires a Driver to a control service and data mux.
func NewManager(driver Driver, svc *ctrl.Service, mux *Mux, metrics *Metrics) *Manager {
	m := &Manager{driver: driver, ctrl: svc, mux: mux, metrics: metrics, pollInterval: time.Millisecond}
	svc.SetOnConnectedChange(mux.SetAllControlConnected)
	svc.SetChannelsReadyToSend(mux.AllChannelsConnectable)
	return m
}

// Start launches the listener thread's connect-loop in a background
// goroutine and returns immediately; call Shutdown to stop it.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		if err := m.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("htclow: manager exited unexpectedly")
		}
	}()
}

// Run is the listener thread's connect-loop,
// item 3): connect, start workers, notify control service, wait for
// workers to exit, shut down, notify, loop unless ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := m.driver.Connect(ctx); err != nil {
			logrus.WithError(err).Warn("htclow: driver connect failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		m.ctrl.OnDriverConnected()

		workerCtx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(workerCtx)
		g.Go(func() error { return m.receiveWorker(gctx) })
		g.Go(func() error { return m.sendWorker(gctx) })
		err := g.Wait()
		cancel()

		_ = m.driver.Shutdown()
		m.ctrl.OnDriverDisconnected()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logrus.WithError(err).Warn("htclow: link dropped, reconnecting")
		}
	}
}

// receiveWorker implements item 1: read a header, inspect the
// signature, read body_size more bytes if non-zero, dispatch.
func (m *Manager) receiveWorker(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		hdrBuf := make([]byte, HeaderSize)
		if err := m.driver.Receive(ctx, hdrBuf); err != nil {
			return err
		}
		hdr, err := DecodeHeader(hdrBuf)
		if err != nil {
			return err
		}

		var body []byte
		if hdr.BodySize > 0 {
			body = make([]byte, hdr.BodySize)
			if err := m.driver.Receive(ctx, body); err != nil {
				return err
			}
		}

		pkt := Packet{Header: hdr, Body: body}
		if err := pkt.Validate(); err != nil {
			logrus.WithError(err).Warn("htclow: dropping invalid packet")
			if hdr.Signature == domain.SignatureControl {
				_ = m.ctrl.HandleProtocolError(err)
			}
			continue
		}

		switch hdr.Signature {
		case domain.SignatureControl:
			if m.metrics != nil {
				m.metrics.packetsReceived.WithLabelValues("control").Inc()
			}
			if err := m.ctrl.HandleInbound(ctrl.Packet{Type: hdr.Type, Channel: hdr.Channel, Share: hdr.Share, Seq: hdr.SequenceOrOff, Body: body}); err != nil {
				logrus.WithError(err).Warn("htclow: control protocol error")
			}
		case domain.SignatureData:
			if m.metrics != nil {
				m.metrics.bytesReceived.Add(float64(len(body)))
			}
			m.mux.HandleReceivedPacket(pkt)
		}
	}
}

// sendWorker implements item 2: on every poll tick (until cancel), drain
// the control service via QueryNextPacket+RemovePacket, then the mux via
// its draining QueryNextPacket, writing each packet with one Send call.
func (m *Manager) sendWorker(ctx context.Context) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for {
			if p, ok := m.ctrl.QueryNextPacket(); ok {
				if err := m.sendControlPacket(ctx, p); err != nil {
					return err
				}
				m.ctrl.RemovePacket()
				continue
			}
			break
		}

		for _, p := range m.mux.QueryNextPacket() {
			if err := m.sendDataPacket(ctx, p); err != nil {
				return err
			}
			if m.metrics != nil {
				m.metrics.bytesSent.Add(float64(len(p.Body)))
			}
		}
	}
}

func (m *Manager) sendControlPacket(ctx context.Context, p ctrl.Packet) error {
	wire := Packet{
		Header: Header{
			Signature:     domain.SignatureControl,
			SequenceOrOff: p.Seq,
			BodySize:      uint32(len(p.Body)),
			Version:       1,
			Type:          p.Type,
			Channel:       p.Channel,
			Share:         p.Share,
		},
		Body: p.Body,
	}
	if m.metrics != nil {
		m.metrics.packetsSent.WithLabelValues(p.Type.String()).Inc()
	}
	return m.writePacket(ctx, wire)
}

func (m *Manager) sendDataPacket(ctx context.Context, p Packet) error {
	if m.metrics != nil {
		m.metrics.packetsSent.WithLabelValues(typeLabel(p.Header.Type)).Inc()
	}
	return m.writePacket(ctx, p)
}

func (m *Manager) writePacket(ctx context.Context, p Packet) error {
	buf := make([]byte, HeaderSize+len(p.Body))
	hdr := p.Header
	hdr.BodySize = uint32(len(p.Body))
	hdr.Encode(buf)
	copy(buf[HeaderSize:], p.Body)
	return m.driver.Send(ctx, buf)
}

// Shutdown cancels the listener's connect-loop; Run returns once the
// current connection (if any) is torn down.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
}
