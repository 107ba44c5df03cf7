package cmif

import (
	"sort"

	"github.com/hipc-systems/hipc-core/domain"
)

// Hard limits enforced by BuildLayout on a command's signature.
const (
	MaxBuffers       = 8
	MaxInHandles     = 8
	MaxOutHandlesAndObjects = 8
	MaxArgs          = 32
)

// ArgSpec describes one argument of a command's signature, in the order
// the handler's Go signature declares them (not wire order).
type ArgSpec struct {
	Kind ArgKind
	// Size and Align apply to ArgInData/ArgOutData only.
	Size  int
	Align int
	// Attr applies to ArgBuffer only.
	Attr domain.BufferAttr
}

type ArgKind = domain.ArgKind

const (
	ArgInData      = domain.ArgInData
	ArgOutData     = domain.ArgOutData
	ArgBuffer      = domain.ArgBuffer
	ArgInHandle    = domain.ArgInHandle
	ArgOutHandle   = domain.ArgOutHandle
	ArgInObject    = domain.ArgInObject
	ArgOutObject   = domain.ArgOutObject
	ArgInProcessID = domain.ArgInProcessID
)

// dataSlot is one InData/OutData argument along with its position among
// ArgSpec.
type dataSlot struct {
	specIndex int
	size      int
	align     int
	offset    int
}

// Layout is the computed wire layout for one command: per-argument
// offsets into the raw in/out-data area, plus the per-kind argument
// counts Dispatch validates a request against.
type Layout struct {
	Specs []ArgSpec

	InDataOffsets  map[int]int // specIndex -> offset within in-data area
	OutDataOffsets map[int]int
	InDataSize     int
	OutDataSize    int

	NumBuffers     int
	NumInHandles   int
	NumOutHandles  int
	NumInObjects   int
	NumOutObjects  int
	BufferIndices  []int // specIndex, in argument-declaration order

	// HasClientProcessID is true when one ArgInProcessID argument is
	// declared; Dispatch rejects a request lacking an attached process id
	// against such a command (the ClientProcessID cross-check).
	HasClientProcessID bool
}

// BuildLayout computes offsets for every InData/OutData argument
// (stable sort by descending alignment, as the wire format packs larger
// fields first to avoid padding) and validates the signature against the
// fixed per-command limits.
func BuildLayout(specs []ArgSpec) (*Layout, error) {
	if len(specs) > MaxArgs {
		return nil, domain.NewError(domain.KindPreconditionViolation,
			"cmif: command has %d arguments, limit is %d", len(specs), MaxArgs)
	}

	l := &Layout{
		Specs:          specs,
		InDataOffsets:  map[int]int{},
		OutDataOffsets: map[int]int{},
	}

	var inSlots, outSlots []dataSlot
	for i, s := range specs {
		switch s.Kind {
		case ArgInData:
			inSlots = append(inSlots, dataSlot{specIndex: i, size: s.Size, align: s.Align})
		case ArgOutData:
			outSlots = append(outSlots, dataSlot{specIndex: i, size: s.Size, align: s.Align})
		case ArgBuffer:
			l.NumBuffers++
			l.BufferIndices = append(l.BufferIndices, i)
		case ArgInHandle:
			l.NumInHandles++
		case ArgOutHandle:
			l.NumOutHandles++
		case ArgInObject:
			l.NumInObjects++
		case ArgOutObject:
			l.NumOutObjects++
		case ArgInProcessID:
			l.HasClientProcessID = true
		}
	}

	if l.NumBuffers > MaxBuffers {
		return nil, domain.NewError(domain.KindPreconditionViolation,
			"cmif: command has %d buffers, limit is %d", l.NumBuffers, MaxBuffers)
	}
	if l.NumInHandles > MaxInHandles {
		return nil, domain.NewError(domain.KindPreconditionViolation,
			"cmif: command has %d in-handles, limit is %d", l.NumInHandles, MaxInHandles)
	}
	if l.NumOutHandles+l.NumOutObjects > MaxOutHandlesAndObjects {
		return nil, domain.NewError(domain.KindPreconditionViolation,
			"cmif: command has %d out-handles+out-objects, limit is %d",
			l.NumOutHandles+l.NumOutObjects, MaxOutHandlesAndObjects)
	}

	l.InDataSize = layoutDataSlots(inSlots, l.InDataOffsets)
	l.OutDataSize = layoutDataSlots(outSlots, l.OutDataOffsets)
	return l, nil
}

// layoutDataSlots stable-sorts slots by descending alignment (largest
// first) and assigns each the next alignment-satisfying offset, returning
// the total aligned size of the area.
func layoutDataSlots(slots []dataSlot, offsets map[int]int) int {
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].align > slots[j].align
	})
	off := 0
	for _, s := range slots {
		align := s.align
		if align < 1 {
			align = 1
		}
		off = AlignUp(off, align)
		offsets[s.specIndex] = off
		off += s.size
	}
	return AlignUp(off, 4)
}
