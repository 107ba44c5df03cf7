package pm

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hipc-systems/hipc-core/domain"
)

func TestOSProcessSourceObservesRealExit(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())

	src := NewOSProcessSource(cmd.Process.Pid, domain.ProcessRunning)

	select {
	case <-src.Signal():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit signal")
	}

	state, err := src.Query()
	require.NoError(t, err)
	require.Equal(t, domain.ProcessTerminated, state)
	require.NoError(t, src.Close())
}
