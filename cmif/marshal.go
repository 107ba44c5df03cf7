package cmif

import "github.com/hipc-systems/hipc-core/domain"

// DecodeInData copies the ArgInData argument at specIndex out of dc's
// in-data area into dst, which must be exactly the argument's declared
// size. Handlers call this once per ArgInData argument instead of
// indexing into the raw request themselves.
func DecodeInData(dc *domain.DispatchContext, layout *Layout, specIndex int, dst []byte) error {
	spec := layout.Specs[specIndex]
	if spec.Kind != ArgInData {
		return domain.NewError(domain.KindPreconditionViolation, "cmif: arg %d is not ArgInData", specIndex)
	}
	if len(dst) != spec.Size {
		return domain.NewError(domain.KindPreconditionViolation,
			"cmif: dst is %d bytes, arg %d wants %d", len(dst), specIndex, spec.Size)
	}
	off := layout.InDataOffsets[specIndex]
	if off+spec.Size > len(dc.InData) {
		return domain.NewError(domain.KindProtocolError,
			"cmif: in-data area too short for arg %d", specIndex)
	}
	copy(dst, dc.InData[off:off+spec.Size])
	return nil
}

// EncodeOutData writes src into the reply's out-data area at the offset
// Layout computed for specIndex, growing dc.ReplyBuf to the command's
// full out-data size on first use so writes at any offset land correctly
// regardless of call order.
func EncodeOutData(dc *domain.DispatchContext, layout *Layout, specIndex int, src []byte) error {
	spec := layout.Specs[specIndex]
	if spec.Kind != ArgOutData {
		return domain.NewError(domain.KindPreconditionViolation, "cmif: arg %d is not ArgOutData", specIndex)
	}
	if len(src) != spec.Size {
		return domain.NewError(domain.KindPreconditionViolation,
			"cmif: src is %d bytes, arg %d wants %d", len(src), specIndex, spec.Size)
	}
	if len(dc.ReplyBuf) < layout.OutDataSize {
		grown := make([]byte, layout.OutDataSize)
		copy(grown, dc.ReplyBuf)
		dc.ReplyBuf = grown
	}
	off := layout.OutDataOffsets[specIndex]
	copy(dc.ReplyBuf[off:off+spec.Size], src)
	return nil
}
