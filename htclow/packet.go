// Package htclow implements the HTC low-level multiplexed transport: a
// framed bidirectional byte stream carrying one control conversation
// plus any number of flow-controlled data channels.
package htclow

import (
	"encoding/binary"
	"fmt"

	"github.com/hipc-systems/hipc-core/domain"
)

// HeaderSize is the on-wire size of Header: four u32s, one
// s16, one u16, the 4-byte channel struct, and one u64.
const HeaderSize = 4 + 4 + 4 + 4 + 2 + 2 + 4 + 8

// Header is the fixed packet header shared by control and data packets.
type Header struct {
	Signature     domain.Signature
	SequenceOrOff uint32
	Reserved      uint32
	BodySize      uint32
	Version       int16
	Type          domain.PacketType
	Channel       domain.ChannelInternal
	Share         uint64
}

// Encode serializes h into dst (which must be at least HeaderSize bytes)
// using the wire's little-endian layout.
func (h Header) Encode(dst []byte) {
	_ = dst[HeaderSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], uint32(h.Signature))
	binary.LittleEndian.PutUint32(dst[4:8], h.SequenceOrOff)
	binary.LittleEndian.PutUint32(dst[8:12], h.Reserved)
	binary.LittleEndian.PutUint32(dst[12:16], h.BodySize)
	binary.LittleEndian.PutUint16(dst[16:18], uint16(h.Version))
	binary.LittleEndian.PutUint16(dst[18:20], uint16(h.Type))
	dst[20] = h.Channel.ChannelID
	dst[21] = h.Channel.Reserved
	dst[22] = uint8(h.Channel.ModuleID)
	dst[23] = 0
	binary.LittleEndian.PutUint64(dst[24:32], h.Share)
}

// DecodeHeader parses a Header from src (which must be at least
// HeaderSize bytes). Round-tripping Encode/DecodeHeader produces
// byte-identical fields.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, fmt.Errorf("htclow: short header: %d bytes", len(src))
	}
	var h Header
	h.Signature = domain.Signature(binary.LittleEndian.Uint32(src[0:4]))
	h.SequenceOrOff = binary.LittleEndian.Uint32(src[4:8])
	h.Reserved = binary.LittleEndian.Uint32(src[8:12])
	h.BodySize = binary.LittleEndian.Uint32(src[12:16])
	h.Version = int16(binary.LittleEndian.Uint16(src[16:18]))
	h.Type = domain.PacketType(binary.LittleEndian.Uint16(src[18:20]))
	h.Channel = domain.ChannelInternal{
		ChannelID: src[20],
		Reserved:  src[21],
		ModuleID:  domain.ModuleID(src[22]),
	}
	h.Share = binary.LittleEndian.Uint64(src[24:32])
	return h, nil
}

// Packet is a Header plus its body.
type Packet struct {
	Header Header
	Body   []byte
}

// controlZeroBodyTypes is the set of control packet types the wire allows
// with body_size == 0.
var controlZeroBodyTypes = map[domain.PacketType]bool{
	domain.PacketConnectFromHost:    true,
	domain.PacketSuspendFromHost:    true,
	domain.PacketResumeFromHost:     true,
	domain.PacketDisconnectFromHost: true,
	domain.PacketBeaconQuery:        true,
}

// Validate enforces the wire-level invariants that are independent of
// channel or control state: signature-appropriate version, body-size
// bounds, and the zero-body-size allowlist for control packets.
func (p Packet) Validate() error {
	switch p.Header.Signature {
	case domain.SignatureControl:
		if p.Header.Version != 1 {
			return domain.NewError(domain.KindProtocolError, "control packet version %d != 1", p.Header.Version)
		}
		if len(p.Body) == 0 && !controlZeroBodyTypes[p.Header.Type] {
			return domain.NewError(domain.KindProtocolError, "control packet type %d requires non-empty body", p.Header.Type)
		}
		if len(p.Body) > domain.ControlBodyMax {
			return domain.NewError(domain.KindProtocolError, "control body_size %d exceeds max %d", len(p.Body), domain.ControlBodyMax)
		}
	case domain.SignatureData:
		if len(p.Body) > domain.DataBodyMax {
			return domain.NewError(domain.KindProtocolError, "data body_size %d exceeds max %d", len(p.Body), domain.DataBodyMax)
		}
	default:
		return domain.NewError(domain.KindProtocolError, "unknown packet signature 0x%x", uint32(p.Header.Signature))
	}
	return nil
}
