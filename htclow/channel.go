package htclow

import (
	"sync"

	"github.com/hipc-systems/hipc-core/domain"
)

// Channel is one flow-controlled, reliable byte stream multiplexed over
// the HTC link.
type Channel struct {
	mu sync.Mutex

	internal domain.ChannelInternal
	config   domain.ChannelConfig
	state    domain.ChannelState
	version  int16

	// offset is the receiver's running byte count: a data packet's offset
	// must equal this value to be accepted.
	offset uint64

	curMaxData  uint64
	prevMaxData uint64

	// share is the latest peer-advertised window observed on this
	// channel; nil until ConnectEnd pre-seeds it (handshake disabled) or
	// the first flow-controlled Data/MaxData packet arrives.
	share    *uint64
	totalSent uint64

	sendQueue []Packet // outgoing Data/MaxData/Error packets awaiting send
	recvRing  []byte   // bounded ring of delivered-but-undrained bytes

	tasks       []*Task
	recvWaiters []*Task

	errorQueued bool // at most one outstanding Error packet per channel
}

// NewChannel constructs a channel in the Unconnectable state.
func NewChannel(id domain.ChannelInternal, cfg domain.ChannelConfig) *Channel {
	return &Channel{internal: id, config: cfg, state: domain.ChannelUnconnectable}
}

func (c *Channel) Internal() domain.ChannelInternal { return c.internal }

func (c *Channel) State() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetControlConnected transitions Unconnectable<->Connectable in lockstep
// with the control service's connectedness.
func (c *Channel) SetControlConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if connected && c.state == domain.ChannelUnconnectable {
		c.state = domain.ChannelConnectable
	} else if !connected && c.state == domain.ChannelConnectable {
		c.state = domain.ChannelUnconnectable
	}
}

// ConnectBegin starts an explicit client connect (transition source (b)).
func (c *Channel) ConnectBegin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.ChannelConnectable {
		return domain.NewError(domain.KindInvalidChannelState, "channel %+v not connectable (state=%s)", c.internal, c.state)
	}
	return nil
}

// ConnectEnd completes a connect on the success path, applying the
// handshake-vs-pre-seeded window policy: a handshake-enabled channel
// advertises its receive capacity via MaxData, while a pre-seeded one
// starts with a fixed initial share instead.
func (c *Channel) ConnectEnd(version int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = domain.ChannelConnected
	c.version = version
	if c.config.HandshakeEnabled {
		c.curMaxData = uint64(c.config.ReceiveBufferCapacity)
		c.enqueueMaxDataLocked()
	} else {
		share := c.config.InitialCounterMaxData
		c.share = &share
	}
}

// ForceShutdown clears the send buffer and transitions to Disconnected,
// completing every outstanding Task with TriggerDisconnect.
func (c *Channel) ForceShutdown() {
	c.mu.Lock()
	c.sendQueue = nil
	c.state = domain.ChannelDisconnected
	waiters := append([]*Task(nil), c.tasks...)
	c.tasks = nil
	c.recvWaiters = nil
	c.mu.Unlock()

	for _, t := range waiters {
		t.Complete(domain.TriggerDisconnect, domain.NewError(domain.KindInvalidChannelStateDisconnected, "channel disconnected"))
	}
}

// HandleData processes an inbound Data packet: validates its offset and
// channel version, appends its body to the receive ring, advances the
// receiver's byte count, and wakes any blocked Receive call.
func (c *Channel) HandleData(p Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.ChannelConnectable && c.state != domain.ChannelConnected {
		return domain.NewError(domain.KindInvalidChannelState, "data packet on channel in state %s", c.state)
	}
	if p.Header.Version != c.version {
		return domain.NewError(domain.KindProtocolError, "data packet version %d != channel version %d", p.Header.Version, c.version)
	}
	if uint64(p.Header.SequenceOrOff) != c.offset {
		return domain.NewError(domain.KindProtocolError, "data packet offset %d != expected %d", p.Header.SequenceOrOff, c.offset)
	}

	if c.config.FlowControlEnabled {
		if c.share != nil && p.Header.Share < *c.share {
			return domain.NewError(domain.KindProtocolError, "share %d regressed below %d", p.Header.Share, *c.share)
		}
		share := p.Header.Share
		c.share = &share
	}

	c.offset += uint64(len(p.Body))
	c.recvRing = append(c.recvRing, p.Body...)
	c.maybeAdvertiseWindowLocked()
	c.wakeReceiversLocked()
	return nil
}

// HandleMaxData processes an inbound MaxData packet: the same
// state/version/share checks as HandleData, but without any offset or
// body advance.
func (c *Channel) HandleMaxData(p Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.ChannelConnectable && c.state != domain.ChannelConnected {
		return domain.NewError(domain.KindInvalidChannelState, "maxdata packet on channel in state %s", c.state)
	}
	if p.Header.Version != c.version {
		return domain.NewError(domain.KindProtocolError, "maxdata packet version %d != channel version %d", p.Header.Version, c.version)
	}
	if c.config.FlowControlEnabled {
		if c.share != nil && p.Header.Share < *c.share {
			return domain.NewError(domain.KindProtocolError, "share %d regressed below %d", p.Header.Share, *c.share)
		}
		share := p.Header.Share
		c.share = &share
	}
	return nil
}

// maybeAdvertiseWindowLocked advertises cur_max_data in a MaxData packet
// whenever prev_max_data - offset drops below one packet's worth of
// headroom, so the peer never stalls waiting on a window update.
func (c *Channel) maybeAdvertiseWindowLocked() {
	if !c.config.FlowControlEnabled {
		return
	}
	c.curMaxData = uint64(c.config.ReceiveBufferCapacity) + c.offset
	threshold := uint64(c.config.MaxPacketSize + HeaderSize)
	if c.prevMaxData < c.offset || c.prevMaxData-c.offset < threshold {
		c.enqueueMaxDataLocked()
	}
}

func (c *Channel) enqueueMaxDataLocked() {
	c.prevMaxData = c.curMaxData
	c.sendQueue = append(c.sendQueue, Packet{
		Header: Header{
			Signature: domain.SignatureData,
			Version:   c.version,
			Type:      domain.PacketMaxData,
			Channel:   c.internal,
			Share:     c.curMaxData,
		},
	})
}

// wakeReceiversLocked completes any TaskReceive whose demanded size is
// now satisfied by recvRing; the bytes stay on the ring until Drain.
func (c *Channel) wakeReceiversLocked() {
	remaining := c.recvWaiters[:0]
	for _, t := range c.recvWaiters {
		if len(c.recvRing) >= t.Wants() {
			t.Complete(domain.TriggerReceiveData, nil)
		} else {
			remaining = append(remaining, t)
		}
	}
	c.recvWaiters = remaining
}

// Receive registers a TaskReceive waiting for at least n bytes, completing
// immediately if the ring already holds enough.
func (c *Channel) Receive(n int) *Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := NewTask(domain.TaskReceive, n)
	c.tasks = append(c.tasks, t)
	if len(c.recvRing) >= n {
		t.Complete(domain.TriggerReceiveData, nil)
	} else if c.state == domain.ChannelDisconnected {
		t.Complete(domain.TriggerDisconnect, domain.NewError(domain.KindInvalidChannelStateDisconnected, "channel disconnected"))
	} else {
		c.recvWaiters = append(c.recvWaiters, t)
	}
	return t
}

// Drain removes and returns up to n bytes from the front of the receive
// ring (called once a Receive task has completed successfully).
func (c *Channel) Drain(n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.recvRing) {
		n = len(c.recvRing)
	}
	out := append([]byte(nil), c.recvRing[:n]...)
	c.recvRing = c.recvRing[n:]
	return out
}

// SendBegin queues data to go out on the channel, splitting it into Data
// packets no larger than min(config.MaxPacketSize, driverMaxPacketSize)
// and respecting the flow-control window (share - totalSent). The
// returned Task completes once every chunk has been queued. If the
// window is exhausted mid-send, the rest of data is not queued and the
// Task stays pending (ForceShutdown completes it); queuing does not
// resume by itself when a MaxData update widens the window, so the
// remainder goes out only through a further SendBegin call.
func (c *Channel) SendBegin(data []byte, driverMaxPacketSize int) *Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxPkt := c.config.MaxPacketSize
	if driverMaxPacketSize < maxPkt {
		maxPkt = driverMaxPacketSize
	}

	t := NewTask(domain.TaskSend, len(data))
	if c.state != domain.ChannelConnected {
		t.Complete(domain.TriggerDisconnect, domain.NewError(domain.KindInvalidChannelState, "channel not connected"))
		return t
	}

	off := 0
	for off < len(data) {
		if c.config.FlowControlEnabled {
			var window uint64
			if c.share != nil {
				window = *c.share
			}
			if c.totalSent >= window {
				break // stall until peer advertises more window
			}
			avail := window - c.totalSent
			chunk := maxPkt
			if uint64(chunk) > avail {
				chunk = int(avail)
			}
			if chunk > len(data)-off {
				chunk = len(data) - off
			}
			if chunk == 0 {
				break
			}
			c.queuePacketLocked(data[off : off+chunk])
			off += chunk
			c.totalSent += uint64(chunk)
		} else {
			chunk := maxPkt
			if chunk > len(data)-off {
				chunk = len(data) - off
			}
			c.queuePacketLocked(data[off : off+chunk])
			off += chunk
			c.totalSent += uint64(chunk)
		}
	}

	if off == len(data) {
		t.Complete(domain.TriggerSendBufferEmpty, nil)
	} else {
		// Remainder stalled on flow control; the task is left pending and
		// the caller is expected to re-invoke SendBegin with data[off:]
		// once HandleMaxData widens the window.
		c.tasks = append(c.tasks, t)
	}
	return t
}

func (c *Channel) queuePacketLocked(body []byte) {
	c.sendQueue = append(c.sendQueue, Packet{
		Header: Header{
			Signature:     domain.SignatureData,
			SequenceOrOff: uint32(c.totalSent),
			BodySize:      uint32(len(body)),
			Version:       c.version,
			Type:          domain.PacketData,
			Channel:       c.internal,
		},
		Body: body,
	})
}

// PendingPackets drains and returns every packet currently queued for
// send on this channel (used by Mux.QueryNextPacket).
func (c *Channel) PendingPackets() []Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sendQueue
	c.sendQueue = nil
	return out
}

// HasPending reports whether the channel has packets queued for send.
func (c *Channel) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sendQueue) > 0
}

// QueueErrorOnce enqueues a single Error packet if one is not already
// outstanding; at most one outstanding error packet per channel is kept.
func (c *Channel) QueueErrorOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errorQueued {
		return
	}
	c.errorQueued = true
	c.sendQueue = append(c.sendQueue, Packet{
		Header: Header{
			Signature: domain.SignatureData,
			Version:   c.version,
			Type:      domain.PacketError,
			Channel:   c.internal,
		},
	})
}
