package htclow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hipc-systems/hipc-core/domain"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Signature:     domain.SignatureData,
		SequenceOrOff: 0x1000,
		Reserved:      0,
		BodySize:      42,
		Version:       3,
		Type:          domain.PacketData,
		Channel:       domain.ChannelInternal{ModuleID: domain.ModuleHtcfs, Reserved: 0, ChannelID: 7},
		Share:         0xDEADBEEF,
	}

	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestValidateControlZeroBodyAllowlist(t *testing.T) {
	allowed := []domain.PacketType{
		domain.PacketConnectFromHost, domain.PacketSuspendFromHost,
		domain.PacketResumeFromHost, domain.PacketDisconnectFromHost,
		domain.PacketBeaconQuery,
	}
	for _, typ := range allowed {
		p := Packet{Header: Header{Signature: domain.SignatureControl, Version: 1, Type: typ}}
		assert.NoError(t, p.Validate(), "type %v should allow empty body", typ)
	}

	rejected := Packet{Header: Header{Signature: domain.SignatureControl, Version: 1, Type: domain.PacketReadyFromHost}}
	assert.Error(t, rejected.Validate())
}

func TestValidateDataBodyMax(t *testing.T) {
	ok := Packet{Header: Header{Signature: domain.SignatureData}, Body: make([]byte, domain.DataBodyMax)}
	assert.NoError(t, ok.Validate())

	bad := Packet{Header: Header{Signature: domain.SignatureData}, Body: make([]byte, domain.DataBodyMax+1)}
	assert.Error(t, bad.Validate())
}

func TestValidateUnknownSignature(t *testing.T) {
	p := Packet{Header: Header{Signature: 0xDEAD}}
	assert.Error(t, p.Validate())
}
