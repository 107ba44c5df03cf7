package cmif

import (
	"context"

	"github.com/hipc-systems/hipc-core/domain"
)

// domainSubHeader is the 16-byte sub-header present immediately after the
// CMIF in-header on every request against a domain session.
type domainSubHeader struct {
	Op           DomainControlOp
	InObjectCnt  uint8
	DataSize     uint16
	ObjectID     domain.DomainObjectID
	Padding      uint32
}

const domainSubHeaderSize = 16

// BufferInput is the wire-provided half of one Buffer-kind argument: the
// bytes a Map-alias (or Auto-select resolved to Map-alias) argument
// carries, in either direction. Pointer-mode arguments are carved from
// the session's PointerBuffer instead and ignore this.
type BufferInput struct {
	Data []byte
}

// Request is a fully-parsed inbound CMIF message, ready for Dispatch.
type Request struct {
	Session *Session
	HosVer  domain.HosVer
	Raw     []byte // full message: in-header, optional domain sub-header, data (handle/buffer descriptors already stripped upstream into the fields below)

	CopyHandles []uint32
	MoveHandles []uint32

	// InObjectIDs names, in argument-declaration order, the domain
	// objects an ArgInObject argument resolves to. Only valid against a
	// domain session.
	InObjectIDs []domain.DomainObjectID

	// Buffers supplies, in argument-declaration order, the wire side of
	// every ArgBuffer argument (see BufferInput).
	Buffers []BufferInput

	ClientProcessID  uint64
	HasClientProcess bool

	// PointerBuffer is the session's scratch area, if any, reused
	// across requests on this session.
	PointerBuffer []byte

	// SessionManager registers the new Session an ArgOutObject produces
	// on a non-domain session; required whenever the dispatched command
	// declares one.
	SessionManager *ServerSessionManager
}

// Response is the result of a successful Dispatch: raw out-header plus
// whatever data/handles the handler produced.
type Response struct {
	Raw []byte

	// OutHandles are the raw ArgOutHandle values the handler produced, in
	// declaration order.
	OutHandles []uint32

	// MoveHandles are newly registered Session ids standing in for the
	// move-handle a non-domain ArgOutObject produces, in dc.OutObjects
	// order. A domain session instead registers its out-objects in its
	// Domain and reports them in OutObjectIDs, so this is only ever
	// populated for non-domain sessions.
	MoveHandles []string

	// OutObjectIDs are the DomainObjectIDs a domain session assigned to
	// the handler's out-objects, in dc.OutObjects order.
	OutObjectIDs []domain.DomainObjectID
}

// Dispatch runs the full request-to-reply pipeline for one inbound
// message:
//
//	(a) parse the in-header (and, for a domain session, the domain
//	    sub-header) to recover cmd id, token, and the target object id;
//	(b) resolve the target ServiceObject, routing domain-control requests
//	    (a non-zero sub-header opcode) to HandleDomainControl instead of a
//	    handler;
//	(c) look up the dispatch-table entry for (cmd id, HosVer);
//	(d) on UnknownCommand for a MITM session, forward to the session's
//	    forward target's table instead of failing;
//	(e) validate the resolved entry's arity against the caller-supplied
//	    handle counts;
//	(f) build the transient DispatchContext, carving the pointer buffer
//	    for every out-pointer argument before the handler runs;
//	(g) invoke the handler;
//	(h) on success, assemble the out-header and resolve any OutObjects
//	    the handler produced into domain object ids (domain session,
//	    reported in Response.OutObjectIDs) or into new sessions registered
//	    with req.SessionManager (non-domain session, reported in
//	    Response.MoveHandles).
func Dispatch(ctx context.Context, req *Request) (*Response, error) {
	inHdr, err := DecodeInHeader(req.Raw)
	if err != nil {
		return nil, domain.NewError(domain.KindProtocolError, "cmif: %v", err)
	}
	body := req.Raw[HeaderSize:]

	var targetID domain.DomainObjectID = domain.InvalidDomainObjectID
	dom, isDomainSession := req.Session.Domain()
	if isDomainSession {
		sub, err := decodeDomainSubHeader(body)
		if err != nil {
			return nil, err
		}
		body = body[domainSubHeaderSize:]
		if sub.Op != DomainControlInvalid {
			// Domain-control request: not routed through a handler at all.
			// HandleDomainControl takes the domain's lock itself.
			err := HandleDomainControl(dom, sub.Op, sub.ObjectID)
			if err != nil {
				return nil, err
			}
			return &Response{Raw: buildOutHeader(inHdr.Token, nil)}, nil
		}
		targetID = sub.ObjectID
	}

	holder, ok := req.Session.Resolve(targetID)
	if !ok {
		return nil, domain.NewError(domain.KindDomainObjectNotFound,
			"cmif: object %d not found on session %s", targetID, req.Session.ID())
	}

	entry, ok := holder.Table().Lookup(domain.CmdID(inHdr.CmdID), req.HosVer)
	if !ok {
		if target, isMitm := req.Session.ForwardService(); isMitm {
			if fwHolder, fwOK := asHolder(target); fwOK {
				if fwEntry, fwFound := fwHolder.Table().Lookup(domain.CmdID(inHdr.CmdID), req.HosVer); fwFound {
					holder, entry, ok = fwHolder, fwEntry, true
				}
			}
		}
	}
	if !ok {
		return nil, domain.NewError(domain.KindUnknownCommand,
			"cmif: no handler for cmd %d at hosver %d", inHdr.CmdID, req.HosVer)
	}

	layout, _ := entry.Meta.(*Layout)
	if layout == nil {
		layout, err = BuildLayout(nil)
		if err != nil {
			return nil, err
		}
	}

	// (e) arity validation: the caller-supplied handle/object/buffer
	// counts and process-id attachment must match what the command
	// declares, before any of it is handed to the handler.
	if len(req.CopyHandles)+len(req.MoveHandles) != layout.NumInHandles {
		return nil, domain.NewError(domain.KindProtocolError,
			"cmif: cmd %d wants %d in-handles, got %d", inHdr.CmdID, layout.NumInHandles,
			len(req.CopyHandles)+len(req.MoveHandles))
	}
	if len(req.InObjectIDs) != layout.NumInObjects {
		return nil, domain.NewError(domain.KindProtocolError,
			"cmif: cmd %d wants %d in-objects, got %d", inHdr.CmdID, layout.NumInObjects, len(req.InObjectIDs))
	}
	if len(req.Buffers) != layout.NumBuffers {
		return nil, domain.NewError(domain.KindProtocolError,
			"cmif: cmd %d wants %d buffers, got %d", inHdr.CmdID, layout.NumBuffers, len(req.Buffers))
	}
	if layout.HasClientProcessID && !req.HasClientProcess {
		return nil, domain.NewError(domain.KindProtocolError,
			"cmif: cmd %d requires a client process id, none attached", inHdr.CmdID)
	}
	if len(body) < layout.InDataSize {
		return nil, domain.NewError(domain.KindProtocolError,
			"cmif: cmd %d in-data area too short: got %d need %d", inHdr.CmdID, len(body), layout.InDataSize)
	}

	dc := &domain.DispatchContext{
		RawRequest:       body,
		InData:           body[:layout.InDataSize],
		CopyHandles:      req.CopyHandles,
		MoveHandles:      req.MoveHandles,
		CmdID:            domain.CmdID(inHdr.CmdID),
		Token:            inHdr.Token,
		HosVer:           req.HosVer,
		Object:           holder.Object(),
		Session:          req.Session,
		ClientProcessID:  req.ClientProcessID,
		HasClientProcess: req.HasClientProcess,
	}
	ResetPointerBuffer(dc, req.PointerBuffer)

	// (c continued) in-object resolution: every ArgInObject names a
	// domain object that must already live in this session's domain.
	if layout.NumInObjects > 0 {
		if !isDomainSession {
			return nil, domain.NewError(domain.KindProtocolError,
				"cmif: cmd %d takes in-objects on a non-domain session", inHdr.CmdID)
		}
		dc.InObjects = make([]domain.ServiceObject, len(req.InObjectIDs))
		for i, id := range req.InObjectIDs {
			h, ok := dom.Get(id)
			if !ok {
				return nil, domain.NewError(domain.KindDomainObjectNotFound,
					"cmif: in-object %d not found", id)
			}
			dc.InObjects[i] = h.Object()
		}
	}

	// buffer resolution: Map-alias buffers pass the transport-supplied
	// bytes straight through; Pointer out-buffers are carved from the
	// session's pointer buffer; Auto-select picks Pointer for an
	// out-buffer when a fixed size is declared and the pointer buffer has
	// room, Map-alias otherwise (and always Map-alias for an in-buffer).
	if layout.NumBuffers > 0 {
		dc.Buffers = make([]domain.BufferArg, layout.NumBuffers)
		for i, specIndex := range layout.BufferIndices {
			attr := layout.Specs[specIndex].Attr
			mode := attr.Mode
			if mode == domain.BufferModeAutoSelect {
				if attr.Direction == domain.BufferOut && attr.FixedSize > 0 && attr.FixedSize <= dc.PointerHead {
					mode = domain.BufferModePointer
				} else {
					mode = domain.BufferModeMapAlias
				}
			}
			switch {
			case mode == domain.BufferModePointer && attr.Direction == domain.BufferOut:
				if attr.FixedSize <= 0 {
					return nil, domain.NewError(domain.KindProtocolError,
						"cmif: cmd %d out-pointer buffer %d has no fixed size", inHdr.CmdID, i)
				}
				carved, err := CarvePointerBuffer(dc, attr.FixedSize)
				if err != nil {
					return nil, err
				}
				dc.Buffers[i] = domain.BufferArg{Attr: attr, Data: carved}
			default:
				dc.Buffers[i] = domain.BufferArg{Attr: attr, Data: req.Buffers[i].Data}
			}
		}
	}

	if err := entry.Handler(ctx, dc); err != nil {
		return nil, err
	}

	// (h) handle writing: the handler fills OutHandles in declaration
	// order for every ArgOutHandle argument.
	if len(dc.OutHandles) != layout.NumOutHandles {
		return nil, domain.NewError(domain.KindProtocolError,
			"cmif: cmd %d handler produced %d out-handles, wanted %d",
			inHdr.CmdID, len(dc.OutHandles), layout.NumOutHandles)
	}
	if len(dc.OutObjects) != layout.NumOutObjects {
		return nil, domain.NewError(domain.KindProtocolError,
			"cmif: cmd %d handler produced %d out-objects, wanted %d",
			inHdr.CmdID, len(dc.OutObjects), layout.NumOutObjects)
	}

	resp := &Response{Raw: buildOutHeader(inHdr.Token, dc.ReplyBuf), OutHandles: dc.OutHandles}

	if isDomainSession {
		dom.Lock()
		for _, out := range dc.OutObjects {
			id, err := dom.allocateLocked(out.Holder)
			if err != nil {
				dom.Unlock()
				return nil, err
			}
			resp.OutObjectIDs = append(resp.OutObjectIDs, id)
		}
		dom.Unlock()
	} else if len(dc.OutObjects) > 0 {
		if req.SessionManager == nil {
			return nil, domain.NewError(domain.KindPreconditionViolation,
				"cmif: cmd %d produced an out-object but no SessionManager was supplied", inHdr.CmdID)
		}
		resp.MoveHandles = make([]string, len(dc.OutObjects))
		for i, out := range dc.OutObjects {
			s := req.SessionManager.Create(out.Holder, req.Session.PointerBufferSize())
			resp.MoveHandles[i] = s.ID()
		}
	}

	return resp, nil
}

func decodeDomainSubHeader(body []byte) (domainSubHeader, error) {
	if len(body) < domainSubHeaderSize {
		return domainSubHeader{}, domain.NewError(domain.KindProtocolError,
			"cmif: short domain sub-header: %d bytes", len(body))
	}
	return domainSubHeader{
		Op:          DomainControlOp(body[0]),
		InObjectCnt: body[1],
		DataSize:    uint16(body[2]) | uint16(body[3])<<8,
		ObjectID:    domain.DomainObjectID(uint32(body[4]) | uint32(body[5])<<8 | uint32(body[6])<<16 | uint32(body[7])<<24),
	}, nil
}

func buildOutHeader(token uint32, data []byte) []byte {
	buf := make([]byte, HeaderSize+len(data))
	Header{Version: 1, Token: token}.EncodeOut(buf)
	copy(buf[HeaderSize:], data)
	return buf
}

// asHolder downcasts a forward target ServiceObject to its holder form.
// Forward targets are always registered as holders by the MITM wiring
// code, never bare ServiceObjects, so this only fails for a
// misconfigured session.
func asHolder(obj domain.ServiceObject) (*domain.ServiceObjectHolder, bool) {
	h, ok := obj.(*domain.ServiceObjectHolder)
	return h, ok
}
