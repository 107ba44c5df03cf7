package ctrl

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hipc-systems/hipc-core/domain"
)

// Packet mirrors htclow.Packet without importing package htclow, which
// would create an import cycle (htclow.Manager imports ctrl). htclow's
// Manager converts between the two field by field when it receives and
// sends control packets.
type Packet struct {
	Type    domain.PacketType
	Channel domain.ChannelInternal
	Share   uint64
	Seq     uint32
	Body    []byte
}

// OurProtocolVersion is the target's own protocol version, included in
// the beacon and the ReadyFromTarget channel list.
const OurProtocolVersion = 5

// Service implements the always-present control conversation: handshake,
// supported-channels exchange, sleep/resume, disconnect, and the beacon
// query/response pair.
type Service struct {
	mu sync.Mutex

	sm *StateMachine

	beacon         Beacon
	targetChannels []ServiceChannelDescriptor
	hostChannels   []ServiceChannelDescriptor

	// prior/posterior implement a two-priority send policy:
	// DisconnectFromTarget always drains first.
	prior     []Packet
	posterior []Packet

	seq uint32

	// onConnectedChange notifies the data mux when control connectedness
	// flips, so ChannelUnconnectable<->Connectable tracks it; set by the
	// owning Manager to avoid an import cycle between htclow and
	// htclow/ctrl.
	onConnectedChange func(connected bool)

	// channelsReadyToSend reports whether every target service channel is
	// still in its pre-connect phase, the condition TryReadyInternal's
	// IsPossibleToSendReady gates a ReadyFromTarget send behind; set by
	// the owning Manager for the same import-cycle reason as above. A nil
	// value (no Manager wired, e.g. in a unit test) is treated as always
	// ready.
	channelsReadyToSend func() bool
}

// NewService constructs a control service advertising the given beacon
// identity and the set of data-channels the target itself offers.
func NewService(beacon Beacon, targetChannels []ServiceChannelDescriptor) *Service {
	return &Service{
		sm:             NewStateMachine(),
		beacon:         beacon,
		targetChannels: targetChannels,
	}
}

func (s *Service) State() *StateMachine { return s.sm }

func (s *Service) SetOnConnectedChange(fn func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnectedChange = fn
}

// SetChannelsReadyToSend wires the gate a ReadyFromTarget send is held
// behind: fn must report whether every target service channel is still
// in its pre-connect phase.
func (s *Service) SetChannelsReadyToSend(fn func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelsReadyToSend = fn
}

// OnDriverConnected is called by the listener thread once driver.Connect
// succeeds.
func (s *Service) OnDriverConnected() {
	_ = s.sm.Transition(domain.StateDriverConnected)
}

// OnDriverDisconnected is called once the workers exit and the driver is
// shut down.
func (s *Service) OnDriverDisconnected() {
	_ = s.sm.Transition(domain.StateDriverDisconnected)
	s.notifyConnected(false)
}

func (s *Service) notifyConnected(connected bool) {
	s.mu.Lock()
	fn := s.onConnectedChange
	s.mu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

// HandleInbound processes one control-signature packet received from the
// host, dispatching by packet type. Any enqueue it performs goes onto
// prior/posterior for the send thread to drain.
func (s *Service) HandleInbound(p Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p.Type {
	case domain.PacketConnectFromHost:
		if err := s.sm.Transition(domain.StateSentConnectFromHost); err != nil {
			return s.fail(err)
		}
		s.enqueuePosteriorLocked(Packet{Type: domain.PacketConnectFromTarget, Body: s.beacon.Encode()})
		return nil

	case domain.PacketReadyFromHost:
		chans, err := decodeChannels(p.Body)
		if err != nil {
			return s.fail(domain.NewError(domain.KindProtocolError, "malformed ReadyFromHost body: %v", err))
		}
		if hostVer := hostProtocolVersion(chans); hostVer < OurProtocolVersion {
			return s.fail(domain.NewError(domain.KindProtocolError,
				"host protocol version %d is lower than ours (%d)", hostVer, OurProtocolVersion))
		}
		s.hostChannels = chans
		if err := s.sm.Transition(domain.StateSentReadyFromHost); err != nil {
			return s.fail(err)
		}
		s.tryReadyLocked()
		return nil

	case domain.PacketSuspendFromHost:
		if err := s.sm.Transition(domain.StateEnterSleep); err != nil {
			return s.fail(err)
		}
		return nil

	case domain.PacketResumeFromHost:
		if s.sm.Current() != domain.StateSentResumeFromTarget {
			return s.fail(domain.NewError(domain.KindProtocolError, "unexpected ResumeFromHost in state %s", s.sm.Current()))
		}
		if err := s.sm.Transition(domain.StateReady); err != nil {
			return s.fail(err)
		}
		return nil

	case domain.PacketDisconnectFromHost:
		if err := s.sm.Transition(domain.StateDisconnected); err != nil {
			return s.fail(err)
		}
		s.notifyConnected(false)
		return nil

	case domain.PacketBeaconQuery:
		s.enqueuePosteriorLocked(Packet{Type: domain.PacketBeaconResponse, Body: s.beacon.Encode()})
		return nil

	default:
		return s.fail(domain.NewError(domain.KindProtocolError, "unexpected control packet type %d", p.Type))
	}
}

// HandleProtocolError forces the control state machine into Error and
// enqueues a single DisconnectFromTarget, for callers (e.g. the packet
// decoder) that reject a malformed control packet before HandleInbound
// ever sees it.
func (s *Service) HandleProtocolError(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail(cause)
}

// fail forces the state machine into Error, enqueues one
// DisconnectFromTarget, and notifies every channel of the disconnect so
// no Send/Receive task on an open channel is left waiting forever on a
// control protocol error. Always called with s.mu already held, so the
// notification goes straight through onConnectedChange rather than via
// notifyConnected (which would re-lock s.mu).
func (s *Service) fail(cause error) error {
	_ = s.sm.Transition(domain.StateError)
	s.prior = append(s.prior, Packet{Type: domain.PacketDisconnectFromTarget, Seq: s.seq})
	s.seq++
	logrus.WithError(cause).Warn("htclow/ctrl: control protocol error, disconnecting")
	if s.onConnectedChange != nil {
		s.onConnectedChange(false)
	}
	return domain.NewError(domain.KindProtocolError, "htcctrl: %v", cause)
}

// hostProtocolVersion recovers the protocol version the host advertised
// in a ReadyFromHost channel list, every entry of which carries the same
// negotiated version (mirroring how targetChannels are uniformly
// stamped with OurProtocolVersion via withProtocolVersion). A list with
// no explicit version set (the zero value, or an empty list) means the
// host's descriptor never carried an override, so the prior negotiated
// version holds rather than dropping to 0 — mirroring UpdateServiceChannels
// initializing its parsed version to the unchanged current value before
// a real override gets applied.
func hostProtocolVersion(chans []ServiceChannelDescriptor) int {
	if len(chans) == 0 || chans[0].Version <= 0 {
		return OurProtocolVersion
	}
	return chans[0].Version
}

// tryReadyLocked sends ReadyFromTarget if the channels gate allows it;
// called both right after a ReadyFromHost is accepted and, if the gate
// held it back then, whenever the owning Manager learns the gate may
// now pass (a channel finished opening, etc).
func (s *Service) tryReadyLocked() {
	if s.channelsReadyToSend != nil && !s.channelsReadyToSend() {
		return
	}
	s.enqueuePosteriorLocked(Packet{
		Type: domain.PacketReadyFromTarget,
		Body: encodeChannels(withProtocolVersion(s.targetChannels, OurProtocolVersion)),
	})
}

// TryReady re-attempts sending ReadyFromTarget; a no-op unless the
// service is still waiting to send one (state SentReadyFromHost).
func (s *Service) TryReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sm.Current() == domain.StateSentReadyFromHost {
		s.tryReadyLocked()
	}
}

func (s *Service) enqueuePosteriorLocked(p Packet) {
	p.Seq = s.seq
	s.seq++
	s.posterior = append(s.posterior, p)
}

func withProtocolVersion(chans []ServiceChannelDescriptor, v int) []ServiceChannelDescriptor {
	out := make([]ServiceChannelDescriptor, len(chans))
	copy(out, chans)
	for i := range out {
		out[i].Version = v
	}
	return out
}

// QueryNextPacket returns the next packet due to be sent — prior before
// posterior, FIFO within a class — without popping it.
func (s *Service) QueryNextPacket() (Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prior) > 0 {
		return s.prior[0], true
	}
	if len(s.posterior) > 0 {
		return s.posterior[0], true
	}
	return Packet{}, false
}

// RemovePacket pops whatever QueryNextPacket last returned and applies
// the type-dependent post-send state transition, if any.
func (s *Service) RemovePacket() {
	s.mu.Lock()
	var sent Packet
	if len(s.prior) > 0 {
		sent = s.prior[0]
		s.prior = s.prior[1:]
	} else if len(s.posterior) > 0 {
		sent = s.posterior[0]
		s.posterior = s.posterior[1:]
	} else {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	switch sent.Type {
	case domain.PacketConnectFromTarget:
		_ = s.sm.Transition(domain.StateConnected)
	case domain.PacketReadyFromTarget:
		if s.sm.Current() == domain.StateSentReadyFromHost {
			_ = s.sm.Transition(domain.StateReady)
			s.notifyConnected(true)
		}
	case domain.PacketResumeFromTarget:
		if s.sm.Current() == domain.StateExitSleep {
			_ = s.sm.Transition(domain.StateSentResumeFromTarget)
		}
	case domain.PacketDisconnectFromTarget:
		_ = s.sm.Transition(domain.StateDisconnected)
		s.notifyConnected(false)
	}
}

// BeginSuspend is the target-local entry point for initiating the
// Ready -> SentSuspendFromTarget arc, driven locally (by the host OS
// entering system sleep) rather than by an inbound packet.
func (s *Service) BeginSuspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sm.Transition(domain.StateSentSuspendFromTarget); err != nil {
		return err
	}
	s.enqueuePosteriorLocked(Packet{Type: domain.PacketSuspendFromTarget})
	return nil
}

// EnterSleepComplete is the target-local notification that it has
// finished quiescing (EnterSleep -> Sleep).
func (s *Service) EnterSleepComplete() error {
	return s.sm.Transition(domain.StateSleep)
}

// BeginExitSleep is the target-local trigger that wakes the link back up
// (Sleep -> ExitSleep), followed by a posterior ResumeFromTarget.
func (s *Service) BeginExitSleep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sm.Transition(domain.StateExitSleep); err != nil {
		return err
	}
	s.enqueuePosteriorLocked(Packet{Type: domain.PacketResumeFromTarget})
	return nil
}
