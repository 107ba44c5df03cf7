package pm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hipc-systems/hipc-core/domain"
)

func TestNewProcessInfoSeedsFlags(t *testing.T) {
	pi := NewProcessInfo(42, newFakeSource(), domain.FlagApplication|domain.FlagSignalOnExit)
	assert.Equal(t, uint64(42), pi.ProcessID)
	assert.True(t, pi.Flags().Has(domain.FlagApplication))
	assert.True(t, pi.Flags().Has(domain.FlagSignalOnExit))
	assert.Equal(t, domain.ProcessState(0), pi.State())
}
