package domain

// Signature distinguishes control packets from data packets on the wire.
type Signature uint32

const (
	SignatureControl Signature = 0x78825637
	SignatureData     Signature = 0xA79F3540
)

// PacketType enumerates both control packet types and the three synthetic
// data-channel packet kinds (Data, MaxData, Error) used internally when
// routing received data-signature packets.
type PacketType uint16

const (
	PacketConnectFromHost      PacketType = 16
	PacketConnectFromTarget    PacketType = 17
	PacketReadyFromHost        PacketType = 18
	PacketReadyFromTarget      PacketType = 19
	PacketSuspendFromHost      PacketType = 20
	PacketSuspendFromTarget    PacketType = 21
	PacketResumeFromHost       PacketType = 22
	PacketResumeFromTarget     PacketType = 23
	PacketDisconnectFromHost   PacketType = 24
	PacketDisconnectFromTarget PacketType = 25
	PacketBeaconQuery          PacketType = 28
	PacketBeaconResponse       PacketType = 29
	PacketInformationFromTarget PacketType = 33

	PacketData    PacketType = 256
	PacketMaxData PacketType = 257
	PacketError   PacketType = 258
)

var packetTypeNames = map[PacketType]string{
	PacketConnectFromHost:       "ConnectFromHost",
	PacketConnectFromTarget:     "ConnectFromTarget",
	PacketReadyFromHost:         "ReadyFromHost",
	PacketReadyFromTarget:       "ReadyFromTarget",
	PacketSuspendFromHost:       "SuspendFromHost",
	PacketSuspendFromTarget:     "SuspendFromTarget",
	PacketResumeFromHost:        "ResumeFromHost",
	PacketResumeFromTarget:      "ResumeFromTarget",
	PacketDisconnectFromHost:    "DisconnectFromHost",
	PacketDisconnectFromTarget:  "DisconnectFromTarget",
	PacketBeaconQuery:           "BeaconQuery",
	PacketBeaconResponse:        "BeaconResponse",
	PacketInformationFromTarget: "InformationFromTarget",
	PacketData:                  "Data",
	PacketMaxData:               "MaxData",
	PacketError:                 "Error",
}

func (t PacketType) String() string {
	if n, ok := packetTypeNames[t]; ok {
		return n
	}
	return "Unknown"
}

// ModuleID identifies the owning module of a channel.
type ModuleID uint8

const (
	ModuleHtcctrl ModuleID = 0
	ModuleHtcfs   ModuleID = 1
	ModuleHtcmisc ModuleID = 2
	ModuleHtcs    ModuleID = 3
)

// ChannelInternal identifies a channel.
type ChannelInternal struct {
	ModuleID  ModuleID
	Reserved  uint8
	ChannelID uint8
}

// ControlState is one of the thirteen control-service states.
type ControlState int

const (
	StateDriverDisconnected ControlState = iota
	StateDriverConnected
	StateSentConnectFromHost
	StateConnected
	StateSentReadyFromHost
	StateReady
	StateSentSuspendFromTarget
	StateEnterSleep
	StateSleep
	StateExitSleep
	StateSentResumeFromTarget
	StateDisconnected
	StateError
)

func (s ControlState) String() string {
	names := [...]string{
		"DriverDisconnected", "DriverConnected", "SentConnectFromHost",
		"Connected", "SentReadyFromHost", "Ready", "SentSuspendFromTarget",
		"EnterSleep", "Sleep", "ExitSleep", "SentResumeFromTarget",
		"Disconnected", "Error",
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// ChannelState is the data-channel state machine: a channel tracks
// connectability independently of whether it has an active connect in
// progress.
type ChannelState int

const (
	ChannelUnconnectable ChannelState = iota
	ChannelConnectable
	ChannelConnected
	ChannelDisconnected
)

func (s ChannelState) String() string {
	names := [...]string{"Unconnectable", "Connectable", "Connected", "Disconnected"}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// ChannelConfig holds per-channel configuration.
type ChannelConfig struct {
	MaxPacketSize         int
	InitialCounterMaxData uint64
	FlowControlEnabled    bool
	HandshakeEnabled      bool
	ReceiveBufferCapacity int
	SendBufferCapacity    int
}

// Trigger is the reason a Task's completion event fired.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerSendBufferEmpty
	TriggerReceiveData
	TriggerDisconnect
	TriggerConnectReady
	TriggerCancelled
)

func (t Trigger) String() string {
	names := [...]string{"None", "SendBufferEmpty", "ReceiveData", "Disconnect", "ConnectReady", "Cancelled"}
	if int(t) < 0 || int(t) >= len(names) {
		return "Unknown"
	}
	return names[t]
}

// TaskKind enumerates the outstanding asynchronous operations a channel
// can have in flight.
type TaskKind int

const (
	TaskConnect TaskKind = iota
	TaskFlush
	TaskSend
	TaskReceive
)

const (
	// ControlBodyMax and DataBodyMax bound a packet's body_size.
	ControlBodyMax = 0x1000
	DataBodyMax    = 0x3E000
)
