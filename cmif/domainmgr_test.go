package cmif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hipc-systems/hipc-core/domain"
)

func dummyTable(tag string) *domain.DispatchTable {
	return &domain.DispatchTable{TypeTag: tag}
}

func TestDomainAllocateGetFree(t *testing.T) {
	d := NewDomain(0)
	h := domain.NewServiceObjectHolder(fakeService{}, dummyTable("svc"))

	id, err := d.Allocate(h)
	require.NoError(t, err)
	assert.NotEqual(t, domain.InvalidDomainObjectID, id)

	got, ok := d.Get(id)
	require.True(t, ok)
	assert.Same(t, h, got)

	require.NoError(t, d.Free(id))
	_, ok = d.Get(id)
	assert.False(t, ok)
}

func TestDomainFreeUnknownFails(t *testing.T) {
	d := NewDomain(0)
	err := d.Free(domain.DomainObjectID(99))
	require.Error(t, err)
	kind, _ := domain.ErrorKind(err)
	assert.Equal(t, domain.KindDomainObjectNotFound, kind)
}

func TestDomainReusesFreedSlotIndex(t *testing.T) {
	d := NewDomain(0)
	h1 := domain.NewServiceObjectHolder(fakeService{}, dummyTable("svc"))
	h2 := domain.NewServiceObjectHolder(fakeService{}, dummyTable("svc"))

	id1, err := d.Allocate(h1)
	require.NoError(t, err)
	require.NoError(t, d.Free(id1))

	id2, err := d.Allocate(h2)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "freed slot index should be reused rather than growing the arena")
	assert.Equal(t, 1, d.Count())
}

func TestDomainRejectsAllocationBeyondCapacity(t *testing.T) {
	d := NewDomain(1)
	h1 := domain.NewServiceObjectHolder(fakeService{}, dummyTable("svc"))
	h2 := domain.NewServiceObjectHolder(fakeService{}, dummyTable("svc"))

	_, err := d.Allocate(h1)
	require.NoError(t, err)

	_, err = d.Allocate(h2)
	require.Error(t, err)
	kind, _ := domain.ErrorKind(err)
	assert.Equal(t, domain.KindOutOfSessionMemory, kind)
}

func TestHandleDomainControlCloseFreesObject(t *testing.T) {
	d := NewDomain(0)
	h := domain.NewServiceObjectHolder(fakeService{}, dummyTable("svc"))
	id, err := d.Allocate(h)
	require.NoError(t, err)

	require.NoError(t, HandleDomainControl(d, DomainControlClose, id))
	_, ok := d.Get(id)
	assert.False(t, ok)
}

func TestHandleDomainControlUnknownOpcodeFails(t *testing.T) {
	d := NewDomain(0)
	err := HandleDomainControl(d, DomainControlOp(200), domain.InvalidDomainObjectID)
	require.Error(t, err)
	kind, _ := domain.ErrorKind(err)
	assert.Equal(t, domain.KindUnknownCommand, kind)
}

type fakeService struct{}

func (fakeService) TypeTag() string { return "fakeService" }
