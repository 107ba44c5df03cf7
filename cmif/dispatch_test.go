package cmif

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hipc-systems/hipc-core/domain"
)

const cmdPing domain.CmdID = 1
const cmdOnlyOnMitmTarget domain.CmdID = 2

func pingHandler(_ context.Context, dc *domain.DispatchContext) error {
	dc.ReplyBuf = []byte{0xAA, 0xBB}
	return nil
}

func newRawRequest(cmd domain.CmdID, token uint32) []byte {
	buf := make([]byte, HeaderSize)
	Header{Version: 1, CmdID: uint32(cmd), Token: token}.EncodeIn(buf)
	return buf
}

func TestDispatchCallsHandlerAndBuildsOutHeader(t *testing.T) {
	table, _, err := BuildTable("pingService", []CommandSpec{
		{CmdID: cmdPing, HosVerHigh: domain.HosVerMax, Handler: pingHandler},
	})
	require.NoError(t, err)

	holder := domain.NewServiceObjectHolder(fakeService{}, table)
	session := NewSession(holder, 0)

	req := &Request{Session: session, HosVer: 1, Raw: newRawRequest(cmdPing, 42)}
	resp, err := Dispatch(context.Background(), req)
	require.NoError(t, err)

	outHdr, err := DecodeOutHeader(resp.Raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), outHdr.Token)
	assert.Equal(t, []byte{0xAA, 0xBB}, resp.Raw[HeaderSize:])
}

func TestDispatchUnknownCommandFails(t *testing.T) {
	table, _, err := BuildTable("pingService", []CommandSpec{
		{CmdID: cmdPing, HosVerHigh: domain.HosVerMax, Handler: pingHandler},
	})
	require.NoError(t, err)
	session := NewSession(domain.NewServiceObjectHolder(fakeService{}, table), 0)

	req := &Request{Session: session, HosVer: 1, Raw: newRawRequest(domain.CmdID(999), 1)}
	_, err = Dispatch(context.Background(), req)
	require.Error(t, err)
	kind, _ := domain.ErrorKind(err)
	assert.Equal(t, domain.KindUnknownCommand, kind)
}

func TestDispatchForwardsUnknownCommandToMitmTarget(t *testing.T) {
	ownTable, _, err := BuildTable("front", []CommandSpec{
		{CmdID: cmdPing, HosVerHigh: domain.HosVerMax, Handler: pingHandler},
	})
	require.NoError(t, err)
	targetTable, _, err := BuildTable("back", []CommandSpec{
		{CmdID: cmdOnlyOnMitmTarget, HosVerHigh: domain.HosVerMax, Handler: pingHandler},
	})
	require.NoError(t, err)

	targetHolder := domain.NewServiceObjectHolder(fakeService{}, targetTable)
	session := NewSession(domain.NewServiceObjectHolder(fakeService{}, ownTable), 0)
	session.SetMitmTarget(targetHolder)

	req := &Request{Session: session, HosVer: 1, Raw: newRawRequest(cmdOnlyOnMitmTarget, 7)}
	resp, err := Dispatch(context.Background(), req)
	require.NoError(t, err)
	outHdr, err := DecodeOutHeader(resp.Raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), outHdr.Token)
}

func TestDispatchAgainstDomainSessionRoutesToNamedObject(t *testing.T) {
	table, _, err := BuildTable("pingService", []CommandSpec{
		{CmdID: cmdPing, HosVerHigh: domain.HosVerMax, Handler: pingHandler},
	})
	require.NoError(t, err)

	session := NewSession(domain.NewServiceObjectHolder(fakeService{}, table), 0)
	_, rootID, err := session.ConvertToDomain(0)
	require.NoError(t, err)

	raw := make([]byte, HeaderSize+domainSubHeaderSize)
	Header{Version: 1, CmdID: uint32(cmdPing), Token: 5}.EncodeIn(raw)
	sub := raw[HeaderSize:]
	sub[0] = byte(DomainControlInvalid)
	sub[4] = byte(rootID)

	req := &Request{Session: session, HosVer: 1, Raw: raw}
	resp, err := Dispatch(context.Background(), req)
	require.NoError(t, err)
	outHdr, err := DecodeOutHeader(resp.Raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), outHdr.Token)
}

func TestDispatchDomainControlCloseDoesNotInvokeHandler(t *testing.T) {
	table, _, err := BuildTable("pingService", []CommandSpec{
		{CmdID: cmdPing, HosVerHigh: domain.HosVerMax, Handler: pingHandler},
	})
	require.NoError(t, err)

	session := NewSession(domain.NewServiceObjectHolder(fakeService{}, table), 0)
	dom, rootID, err := session.ConvertToDomain(0)
	require.NoError(t, err)

	raw := make([]byte, HeaderSize+domainSubHeaderSize)
	Header{Version: 1, Token: 1}.EncodeIn(raw)
	sub := raw[HeaderSize:]
	sub[0] = byte(DomainControlClose)
	sub[4] = byte(rootID)

	req := &Request{Session: session, HosVer: 1, Raw: raw}
	_, err = Dispatch(context.Background(), req)
	require.NoError(t, err)

	_, ok := dom.Get(rootID)
	assert.False(t, ok, "Close should have freed the object")
}
