package pm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hipc-systems/hipc-core/domain"
)

func TestResourcePoolReserveAndUnwindPreserveInvariant(t *testing.T) {
	pool, err := NewResourcePool(100, 20, 80)
	require.NoError(t, err)

	require.NoError(t, pool.Reserve(10))
	total, system, application := pool.Snapshot()
	assert.Equal(t, uint64(100), total)
	assert.Equal(t, uint64(30), system)
	assert.Equal(t, uint64(70), application)
	assert.LessOrEqual(t, system+application, total)

	require.NoError(t, pool.Unwind(10))
	_, system, application = pool.Snapshot()
	assert.Equal(t, uint64(20), system)
	assert.Equal(t, uint64(80), application)
}

func TestResourcePoolRejectsOversizedInitialSplit(t *testing.T) {
	_, err := NewResourcePool(100, 60, 60)
	require.Error(t, err)
	kind, _ := domain.ErrorKind(err)
	assert.Equal(t, domain.KindPreconditionViolation, kind)
}

func TestResourcePoolReserveFailsWhenApplicationTooSmall(t *testing.T) {
	pool, err := NewResourcePool(100, 20, 80)
	require.NoError(t, err)

	err = pool.Reserve(81)
	require.Error(t, err)
	kind, _ := domain.ErrorKind(err)
	assert.Equal(t, domain.KindOutOfMemory, kind)

	// A failed Reserve must not have mutated the pool.
	_, system, application := pool.Snapshot()
	assert.Equal(t, uint64(20), system)
	assert.Equal(t, uint64(80), application)
}

func TestResourcePoolUnwindSignalsAvailable(t *testing.T) {
	pool, err := NewResourcePool(100, 20, 80)
	require.NoError(t, err)
	require.NoError(t, pool.Reserve(10))

	require.NoError(t, pool.Unwind(10))
	select {
	case <-pool.Available():
	default:
		t.Fatal("Unwind should have signaled Available")
	}
}

func TestLaunchBoostUnwindAllReturnsFullAmount(t *testing.T) {
	pool, err := NewResourcePool(100, 20, 80)
	require.NoError(t, err)

	boost, err := NewLaunchBoost(pool, 5, 3)
	require.NoError(t, err)
	_, system, application := pool.Snapshot()
	assert.Equal(t, uint64(28), system)
	assert.Equal(t, uint64(72), application)

	require.NoError(t, boost.UnwindAll())
	_, system, application = pool.Snapshot()
	assert.Equal(t, uint64(20), system)
	assert.Equal(t, uint64(80), application)
}
