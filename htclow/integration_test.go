package htclow

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hipc-systems/hipc-core/domain"
	"github.com/hipc-systems/hipc-core/htclow/ctrl"
)

// hostSide is a minimal stand-in for the host end of the link: it reads
// and writes raw framed packets over a net.Conn the way a real HTC host
// would, without depending on package ctrl's target-side Service.
type hostSide struct {
	conn io.ReadWriter
}

func (h *hostSide) readPacket(t *testing.T) Packet {
	t.Helper()
	hdrBuf := make([]byte, HeaderSize)
	_, err := io.ReadFull(h.conn, hdrBuf)
	require.NoError(t, err)
	hdr, err := DecodeHeader(hdrBuf)
	require.NoError(t, err)
	var body []byte
	if hdr.BodySize > 0 {
		body = make([]byte, hdr.BodySize)
		_, err := io.ReadFull(h.conn, body)
		require.NoError(t, err)
	}
	return Packet{Header: hdr, Body: body}
}

func (h *hostSide) writePacket(t *testing.T, p Packet) {
	t.Helper()
	buf := make([]byte, HeaderSize+len(p.Body))
	p.Header.BodySize = uint32(len(p.Body))
	p.Header.Encode(buf)
	copy(buf[HeaderSize:], p.Body)
	_, err := h.conn.Write(buf)
	require.NoError(t, err)
}

func (h *hostSide) sendControl(t *testing.T, typ domain.PacketType, body []byte) {
	t.Helper()
	h.writePacket(t, Packet{Header: Header{Signature: domain.SignatureControl, Version: 1, Type: typ}, Body: body})
}

// TestEndToEndBeaconHandshakeAndDataEcho drives a target-side Manager
// across a net.Pipe against a hand-rolled host, reproducing the beacon
// query, the connect/ready handshake, and a flow-controlled data
// exchange in one run.
func TestEndToEndBeaconHandshakeAndDataEcho(t *testing.T) {
	targetConn, hostConn := net.Pipe()
	defer targetConn.Close()
	defer hostConn.Close()

	driver := NewPipeDriver(targetConn, 0x1000)
	svc := ctrl.NewService(ctrl.Beacon{Spec: "nx", Conn: "usb", HW: "icosa", Name: "target", SN: "0", FW: "1.0.0", Prot: ctrl.OurProtocolVersion}, nil)
	metrics := NewMetrics(nil)
	mux := NewMux(0x1000, metrics)
	chID := domain.ChannelInternal{ModuleID: domain.ModuleHtcfs, ChannelID: 0}
	ch, err := mux.Open(chID, domain.ChannelConfig{
		MaxPacketSize:         0x1000,
		HandshakeEnabled:      true,
		FlowControlEnabled:    true,
		ReceiveBufferCapacity: 0x4000,
	})
	require.NoError(t, err)

	mgr := NewManager(driver, svc, mux, metrics)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	host := &hostSide{conn: hostConn}

	// Scenario 1: beacon query/response.
	host.sendControl(t, domain.PacketBeaconQuery, nil)
	resp := host.readPacket(t)
	require.Equal(t, domain.PacketBeaconResponse, resp.Header.Type)
	var beacon map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body, &beacon))
	assert.Equal(t, "target", beacon["Name"])

	// Scenario 2: handshake to Ready.
	host.sendControl(t, domain.PacketConnectFromHost, nil)
	connectResp := host.readPacket(t)
	require.Equal(t, domain.PacketConnectFromTarget, connectResp.Header.Type)

	host.sendControl(t, domain.PacketReadyFromHost, []byte("[]"))
	readyResp := host.readPacket(t)
	require.Equal(t, domain.PacketReadyFromTarget, readyResp.Header.Type)

	require.Eventually(t, func() bool {
		return svc.State().Current() == domain.StateReady
	}, time.Second, time.Millisecond)

	// Ready propagates control-connectedness to the channel registry, so
	// by now the channel has moved from Unconnectable to Connectable and
	// an explicit connect can proceed.
	require.Eventually(t, func() bool {
		return ch.State() == domain.ChannelConnectable
	}, time.Second, time.Millisecond)
	require.NoError(t, ch.ConnectBegin())
	ch.ConnectEnd(1)

	// Connecting a handshake-enabled channel advertises its initial
	// receive window.
	maxData := host.readPacket(t)
	require.Equal(t, domain.SignatureData, maxData.Header.Signature)
	require.Equal(t, domain.PacketMaxData, maxData.Header.Type)
	assert.Equal(t, uint64(0x4000), maxData.Header.Share)

	// Scenario 3: flow-controlled data echo — host grants a window, target
	// sends data chunked to the configured packet size.
	host.writePacket(t, Packet{
		Header: Header{Signature: domain.SignatureData, Version: 1, Type: domain.PacketMaxData, Channel: chID, Share: 0x2000},
	})

	task := ch.SendBegin(make([]byte, 0x1800), 0x1000)

	first := host.readPacket(t)
	assert.Equal(t, domain.PacketData, first.Header.Type)
	assert.LessOrEqual(t, len(first.Body), 0x1000)

	second := host.readPacket(t)
	assert.Equal(t, domain.PacketData, second.Header.Type)

	<-task.Done()
	trigger, sendErr := task.Result()
	assert.Equal(t, domain.TriggerSendBufferEmpty, trigger)
	assert.NoError(t, sendErr)
}
