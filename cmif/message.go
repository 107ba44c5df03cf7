// Package cmif implements the IPC Dispatch Core: CMIF message framing,
// per-command layout computation, the dispatch algorithm, and domain
// (multi-object) session management.
package cmif

import (
	"encoding/binary"
	"fmt"
)

// InMagic and OutMagic identify a CMIF in-header ('SFCI') and out-header
// ('SFCO') respectively.
const (
	InMagic  uint32 = 0x49434653
	OutMagic uint32 = 0x4f434653
)

// HeaderSize is the fixed size of a CMIF in/out-header: magic, version,
// cmd_id, token, each a u32.
const HeaderSize = 16

// Header is the CMIF in-header or out-header; cmd_id is meaningful only
// on the in-header side, but both sides share the same wire shape.
type Header struct {
	Magic   uint32
	Version uint32
	CmdID   uint32
	Token   uint32
}

// EncodeIn serializes an in-header into dst (at least HeaderSize bytes).
func (h Header) EncodeIn(dst []byte) {
	h.Magic = InMagic
	h.encode(dst)
}

// EncodeOut serializes an out-header into dst (at least HeaderSize bytes).
func (h Header) EncodeOut(dst []byte) {
	h.Magic = OutMagic
	h.encode(dst)
}

func (h Header) encode(dst []byte) {
	_ = dst[HeaderSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], h.Magic)
	binary.LittleEndian.PutUint32(dst[4:8], h.Version)
	binary.LittleEndian.PutUint32(dst[8:12], h.CmdID)
	binary.LittleEndian.PutUint32(dst[12:16], h.Token)
}

// DecodeInHeader parses an in-header from src, verifying the magic.
func DecodeInHeader(src []byte) (Header, error) {
	h, err := decodeHeader(src)
	if err != nil {
		return Header{}, err
	}
	if h.Magic != InMagic {
		return Header{}, fmt.Errorf("cmif: bad in-header magic 0x%x", h.Magic)
	}
	return h, nil
}

// DecodeOutHeader parses an out-header from src, verifying the magic.
func DecodeOutHeader(src []byte) (Header, error) {
	h, err := decodeHeader(src)
	if err != nil {
		return Header{}, err
	}
	if h.Magic != OutMagic {
		return Header{}, fmt.Errorf("cmif: bad out-header magic 0x%x", h.Magic)
	}
	return h, nil
}

func decodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, fmt.Errorf("cmif: short header: %d bytes", len(src))
	}
	return Header{
		Magic:   binary.LittleEndian.Uint32(src[0:4]),
		Version: binary.LittleEndian.Uint32(src[4:8]),
		CmdID:   binary.LittleEndian.Uint32(src[8:12]),
		Token:   binary.LittleEndian.Uint32(src[12:16]),
	}, nil
}

// AlignUp rounds n up to the next multiple of align (align must be a
// power of two).
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// HeaderPadding is the distance from the start of the transport's raw
// data area to the 16-byte-aligned offset the CMIF header begins at.
const HeaderPadding = 0x10
