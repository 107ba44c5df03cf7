package htclow

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPDriverConnectAcceptsAndTransfers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	driver := NewTCPDriver(ln, 0x1000)

	dialDone := make(chan net.Conn, 1)
	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		dialDone <- conn
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, driver.Connect(ctx))

	hostConn := <-dialDone
	defer hostConn.Close()

	_, err = hostConn.Write([]byte("hello!!!"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	require.NoError(t, driver.Receive(ctx, buf))
	assert.Equal(t, "hello!!!", string(buf))

	require.NoError(t, driver.Send(ctx, []byte("world!!!")))
	readBack := make([]byte, 8)
	_, err = hostConn.Read(readBack)
	require.NoError(t, err)
	assert.Equal(t, "world!!!", string(readBack))

	require.NoError(t, driver.Shutdown())
}

func TestTCPDriverConnectRespectsContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	driver := NewTCPDriver(ln, 0x1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = driver.Connect(ctx)
	require.Error(t, err)
}
