package htclow

import (
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/hipc-systems/hipc-core/domain"
)

func channelKey(id domain.ChannelInternal) []byte {
	return []byte{uint8(id.ModuleID), id.Reserved, id.ChannelID}
}

// Mux owns the ChannelInternal -> Channel map and the global data-channel
// send policy. The map is kept as an immutable radix tree, swapped under
// mu so QueryNextPacket (send-thread only) can read a stable snapshot
// while Open/Close (any caller) mutate concurrently.
type Mux struct {
	mu       sync.Mutex
	channels *iradix.Tree

	driverMaxPacketSize int
	metrics             *Metrics
	unknownErrors       map[domain.ChannelInternal]bool
}

// NewMux constructs an empty Mux.
func NewMux(driverMaxPacketSize int, metrics *Metrics) *Mux {
	return &Mux{channels: iradix.New(), driverMaxPacketSize: driverMaxPacketSize, metrics: metrics}
}

// Open registers a new channel, failing with ChannelAlreadyExist if one
// is already registered under the same ChannelInternal.
func (m *Mux) Open(id domain.ChannelInternal, cfg domain.ChannelConfig) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := channelKey(id)
	if _, ok := m.channels.Get(key); ok {
		return nil, domain.NewError(domain.KindChannelAlreadyExist, "channel %+v already exists", id)
	}
	ch := NewChannel(id, cfg)
	tree, _, _ := m.channels.Insert(key, ch)
	m.channels = tree
	return ch, nil
}

// Close unregisters a channel, force-shutting it down first.
func (m *Mux) Close(id domain.ChannelInternal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := channelKey(id)
	v, ok := m.channels.Get(key)
	if !ok {
		return domain.NewError(domain.KindChannelNotExist, "channel %+v does not exist", id)
	}
	tree, _, _ := m.channels.Delete(key)
	m.channels = tree
	v.(*Channel).ForceShutdown()
	return nil
}

// Lookup returns the channel registered under id, if any.
func (m *Mux) Lookup(id domain.ChannelInternal) (*Channel, bool) {
	m.mu.Lock()
	tree := m.channels
	m.mu.Unlock()

	v, ok := tree.Get(channelKey(id))
	if !ok {
		return nil, false
	}
	return v.(*Channel), true
}

// SetAllControlConnected propagates the control service's connectedness
// to every registered channel.
func (m *Mux) SetAllControlConnected(connected bool) {
	m.mu.Lock()
	tree := m.channels
	m.mu.Unlock()

	tree.Root().Walk(func(key []byte, val interface{}) bool {
		val.(*Channel).SetControlConnected(connected)
		return false
	})
}

// AllChannelsConnectable reports whether every registered channel is
// still in its pre-connect phase — Unconnectable or Connectable, opened
// but not yet connected — which is the condition ctrl.Service's
// ReadyFromTarget send is gated behind. Control connectedness (and with
// it Connectable) only reaches the channels once Ready is reached, so
// Unconnectable channels pass the gate too.
func (m *Mux) AllChannelsConnectable() bool {
	m.mu.Lock()
	tree := m.channels
	m.mu.Unlock()

	ready := true
	tree.Root().Walk(func(key []byte, val interface{}) bool {
		if s := val.(*Channel).State(); s != domain.ChannelConnectable && s != domain.ChannelUnconnectable {
			ready = false
			return true
		}
		return false
	})
	return ready
}

// HandleReceivedPacket routes an inbound data-signature packet to its
// channel, or enqueues an Error reply if the channel is unknown.
func (m *Mux) HandleReceivedPacket(p Packet) {
	ch, ok := m.Lookup(p.Header.Channel)
	if !ok {
		m.enqueueErrorForUnknownChannel(p.Header.Channel)
		return
	}

	var err error
	switch p.Header.Type {
	case domain.PacketData:
		err = ch.HandleData(p)
	case domain.PacketMaxData:
		err = ch.HandleMaxData(p)
	case domain.PacketError:
		if s := ch.State(); s == domain.ChannelConnected || s == domain.ChannelDisconnected {
			ch.ForceShutdown()
		}
		if m.metrics != nil {
			m.metrics.packetsReceived.WithLabelValues("Error").Inc()
		}
		return
	default:
		err = domain.NewError(domain.KindProtocolError, "unexpected data-signature packet type %d", p.Header.Type)
	}

	if m.metrics != nil {
		m.metrics.packetsReceived.WithLabelValues(typeLabel(p.Header.Type)).Inc()
	}

	if err != nil {
		ch.ForceShutdown()
	}
}

// enqueueErrorForUnknownChannel records that an Error packet is owed to
// id. An unknown channel has no Channel object to own a send queue, so
// the ids are kept in a set beside the registry (one entry per id, hence
// at most one outstanding Error each), which QueryNextPacket turns into
// Error packets.
func (m *Mux) enqueueErrorForUnknownChannel(id domain.ChannelInternal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unknownErrors == nil {
		m.unknownErrors = map[domain.ChannelInternal]bool{}
	}
	m.unknownErrors[id] = true
}

// PendingUnknownErrors drains the set of channel ids an Error packet is
// owed to because no registered Channel exists for them.
func (m *Mux) PendingUnknownErrors() []domain.ChannelInternal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChannelInternal, 0, len(m.unknownErrors))
	for id := range m.unknownErrors {
		out = append(out, id)
	}
	m.unknownErrors = nil
	return out
}

// QueryNextPacket (send-thread only) returns one Error packet per pending
// unknown channel id plus every packet queued on the registered
// channels, removing them from their queues.
func (m *Mux) QueryNextPacket() []Packet {
	m.mu.Lock()
	tree := m.channels
	m.mu.Unlock()
	unknown := m.PendingUnknownErrors()

	var out []Packet
	for _, id := range unknown {
		out = append(out, Packet{Header: Header{
			Signature: domain.SignatureData,
			Type:      domain.PacketError,
			Channel:   id,
		}})
	}

	tree.Root().Walk(func(key []byte, val interface{}) bool {
		ch := val.(*Channel)
		if ch.HasPending() {
			out = append(out, ch.PendingPackets()...)
		}
		return false
	})
	return out
}

func typeLabel(t domain.PacketType) string {
	switch t {
	case domain.PacketData:
		return "Data"
	case domain.PacketMaxData:
		return "MaxData"
	case domain.PacketError:
		return "Error"
	default:
		return "Unknown"
	}
}
