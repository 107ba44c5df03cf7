package domain

import "context"

// HosVer is a firmware/host-version ordinal used to select dispatch-table
// entries by applicability range.
type HosVer uint32

const (
	HosVerMin HosVer = 0
	HosVerMax HosVer = ^HosVer(0)
)

// CmdID identifies a command within a service's dispatch table.
type CmdID uint32

// ArgKind enumerates the argument categories a command signature is built
// from.
type ArgKind int

const (
	ArgInData ArgKind = iota
	ArgOutData
	ArgBuffer
	ArgInHandle
	ArgOutHandle
	ArgInObject
	ArgOutObject
	// ArgInProcessID marks a command as needing the caller's process id;
	// Dispatch rejects the request unless the transport attached one.
	ArgInProcessID
)

// BufferDirection and BufferMode classify a Buffer-kind argument.
type BufferDirection int

const (
	BufferIn BufferDirection = iota
	BufferOut
)

type BufferMode int

const (
	BufferModeMapAlias BufferMode = iota
	BufferModePointer
	BufferModeAutoSelect
)

// BufferAttr carries the per-buffer attributes.
type BufferAttr struct {
	Direction        BufferDirection
	Mode             BufferMode
	FixedSize        int // 0 means "not fixed"; consult recv-pointer-size array
	AllowsNonSecure  bool
	AllowsNonDevice  bool
}

// BufferArg is one resolved Buffer-kind argument handed to a handler:
// Data is the backing bytes after Dispatch has bridged Map-alias
// (passed through as-is from the transport), Pointer (carved from the
// session's pointer buffer), or Auto-select (resolved to one of the two)
// resolution.
type BufferArg struct {
	Attr BufferAttr
	Data []byte
}

// ServiceObject is a polymorphic value exposing a fixed, compile-time-known
// set of commands. The dispatch handler for a given CmdID is located via
// the service's DispatchTable, not a method on this interface.
type ServiceObject interface {
	// TypeTag uniquely identifies the service's DispatchTable, and is used
	// for safe downcasting when a caller supplies an expected service type.
	TypeTag() string
}

// HandlerFunc performs the actual method call for one dispatch-table
// entry. It receives the transient per-request DispatchContext and
// returns an error (nil on success).
type HandlerFunc func(ctx context.Context, dc *DispatchContext) error

// DispatchEntry is one row of a DispatchTable.
type DispatchEntry struct {
	HosVerLow  HosVer
	HosVerHigh HosVer
	CmdID      CmdID
	Handler    HandlerFunc
	// Meta carries the cmif package's computed *cmif.Layout for this
	// command, opaque here to avoid an import cycle (cmif already
	// imports domain). Dispatch type-asserts it back.
	Meta interface{}
}

// MatchesVersion reports whether the entry's applicability range contains
// the given host version.
func (e DispatchEntry) MatchesVersion(v HosVer) bool {
	return v >= e.HosVerLow && v <= e.HosVerHigh
}

// DomainObjectID names a service object inside a Domain; zero is reserved
// as Invalid.
type DomainObjectID uint32

const InvalidDomainObjectID DomainObjectID = 0

// DispatchContext is the transient per-request value threaded through the
// dispatch algorithm.
type DispatchContext struct {
	// RawRequest is the raw bytes of the request's "raw data" area that
	// follow the CMIF in-header (and, on a domain session, the domain
	// sub-header).
	RawRequest []byte
	// InData is the slice of RawRequest holding the fixed in-data area,
	// sized and laid out per the command's Layout; ArgInData arguments
	// are read from it via cmif.DecodeInData.
	InData []byte
	// ReplyBuf accumulates the reply's raw bytes as the handler builds it.
	// ArgOutData arguments are written into it via cmif.EncodeOutData,
	// which grows it to the command's full out-data size on first use.
	ReplyBuf []byte

	// InObjects holds the resolved domain objects named by ArgInObject
	// arguments, in argument-declaration order.
	InObjects []ServiceObject

	// Buffers holds the resolved Buffer-kind arguments, in
	// argument-declaration order (parallel to the command's
	// Layout.BufferIndices).
	Buffers []BufferArg

	// OutHandles is filled in by the handler, in declaration order, for
	// ArgOutHandle arguments; Dispatch copies it into the Response.
	OutHandles []uint32
	// PointerBuffer is the session's scratch region carved from the high
	// end downward for Out-pointer arguments. PointerHead is the current
	// carve boundary.
	PointerBuffer []byte
	PointerHead   int

	CmdID   CmdID
	Token   uint32
	HosVer  HosVer

	CopyHandles []uint32
	MoveHandles []uint32

	// Object is the ServiceObject the request is being dispatched against
	// (the session's own object, or a domain-resident object named by a
	// DomainObjectID).
	Object ServiceObject

	// Session is the owning session; never nil.
	Session SessionIface

	// ClientProcessID is set when the transport enclosed the sender's
	// process id.
	ClientProcessID  uint64
	HasClientProcess bool

	// OutObjects accumulates the holders produced by the handler for
	// out-object arguments; the dispatcher resolves them into move-handles
	// or DomainObjectIDs in step (h).
	OutObjects []OutObjectResult
}

// OutObjectResult is one out-object produced by a handler.
type OutObjectResult struct {
	Holder *ServiceObjectHolder
}

// ServiceObjectHolder is a reference-counted handle owning a ServiceObject
// together with the DispatchTable that is its runtime type identity.
type ServiceObjectHolder struct {
	object ServiceObject
	table  *DispatchTable
	refs   int32
}

// NewServiceObjectHolder wraps object with a non-nil table; table acts as
// the runtime type identity and must never be nil.
func NewServiceObjectHolder(object ServiceObject, table *DispatchTable) *ServiceObjectHolder {
	if table == nil {
		panic("cmif: ServiceObjectHolder requires a non-nil dispatch table")
	}
	return &ServiceObjectHolder{object: object, table: table, refs: 1}
}

func (h *ServiceObjectHolder) Object() ServiceObject   { return h.object }
func (h *ServiceObjectHolder) Table() *DispatchTable   { return h.table }

// TypeTag lets a holder itself stand in as a ServiceObject (its table's
// tag), which is what makes a MITM forward target — always registered as
// a holder — assignable through the ServiceObject-typed
// SessionIface.ForwardService return value.
func (h *ServiceObjectHolder) TypeTag() string { return h.table.TypeTag }

// Is reports whether this holder's dispatch table matches the one a
// caller expects, enabling safe downcasting.
func (h *ServiceObjectHolder) Is(table *DispatchTable) bool { return h.table == table }

// DispatchTable is an immutable ordered sequence of dispatch entries, one
// per service type.
type DispatchTable struct {
	TypeTag string
	Entries []DispatchEntry
}

// Lookup scans the table for the first entry whose CmdID equals cmd and
// whose version range contains v, in declaration order. Overlapping
// version ranges for the same CmdID are expected to be disjoint in
// practice, but this function always returns the first match regardless.
func (t *DispatchTable) Lookup(cmd CmdID, v HosVer) (DispatchEntry, bool) {
	for _, e := range t.Entries {
		if e.CmdID == cmd && e.MatchesVersion(v) {
			return e, true
		}
	}
	return DispatchEntry{}, false
}

// SessionIface is the subset of Session behavior cmif's dispatch path
// needs without importing the cmif package (avoids an import cycle with
// domain).
type SessionIface interface {
	ID() string
	IsMitm() bool
	ForwardService() (ServiceObject, bool)
}
