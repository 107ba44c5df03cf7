package cmif

import "github.com/hipc-systems/hipc-core/domain"

// CarvePointerBuffer reserves n bytes, 16-byte aligned, from the high end
// of dc's pointer buffer for an out-pointer argument, returning the
// carved slice. The buffer is carved downward so that buffers allocated
// earlier in argument order end up at higher addresses, matching the
// order a receiving client lays its pointer buffer out in.
func CarvePointerBuffer(dc *domain.DispatchContext, n int) ([]byte, error) {
	aligned := AlignUp(n, 16)
	if aligned > dc.PointerHead {
		return nil, domain.NewError(domain.KindPointerBufferTooSmall,
			"cmif: pointer buffer has %d bytes left, need %d", dc.PointerHead, aligned)
	}
	dc.PointerHead -= aligned
	return dc.PointerBuffer[dc.PointerHead : dc.PointerHead+n], nil
}

// ResetPointerBuffer points dc at buf with the carve boundary at the tail,
// ready for CarvePointerBuffer calls during a single dispatch.
func ResetPointerBuffer(dc *domain.DispatchContext, buf []byte) {
	dc.PointerBuffer = buf
	dc.PointerHead = len(buf)
}
