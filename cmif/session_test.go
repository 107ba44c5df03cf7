package cmif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hipc-systems/hipc-core/domain"
)

func TestSessionResolveNonDomain(t *testing.T) {
	h := domain.NewServiceObjectHolder(fakeService{}, dummyTable("svc"))
	s := NewSession(h, 0x1000)

	got, ok := s.Resolve(domain.InvalidDomainObjectID)
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.False(t, s.IsDomain())
}

func TestSessionConvertToDomainMovesRootObject(t *testing.T) {
	h := domain.NewServiceObjectHolder(fakeService{}, dummyTable("svc"))
	s := NewSession(h, 0)

	dom, id, err := s.ConvertToDomain(0)
	require.NoError(t, err)
	assert.True(t, s.IsDomain())

	got, ok := dom.Get(id)
	require.True(t, ok)
	assert.Same(t, h, got)

	resolved, ok := s.Resolve(id)
	require.True(t, ok)
	assert.Same(t, h, resolved)
}

func TestSessionConvertToDomainTwiceFails(t *testing.T) {
	s := NewSession(domain.NewServiceObjectHolder(fakeService{}, dummyTable("svc")), 0)
	_, _, err := s.ConvertToDomain(0)
	require.NoError(t, err)

	_, _, err = s.ConvertToDomain(0)
	require.Error(t, err)
	kind, _ := domain.ErrorKind(err)
	assert.Equal(t, domain.KindPreconditionViolation, kind)
}

func TestSessionMitmForwarding(t *testing.T) {
	s := NewSession(domain.NewServiceObjectHolder(fakeService{}, dummyTable("svc")), 0)
	assert.False(t, s.IsMitm())
	_, ok := s.ForwardService()
	assert.False(t, ok)

	target := domain.NewServiceObjectHolder(fakeService{}, dummyTable("target"))
	s.SetMitmTarget(target)

	assert.True(t, s.IsMitm())
	got, ok := s.ForwardService()
	require.True(t, ok)
	assert.Same(t, domain.ServiceObject(target), got)
}

func TestServerSessionManagerCreateGetClose(t *testing.T) {
	m := NewServerSessionManager()
	s := m.Create(domain.NewServiceObjectHolder(fakeService{}, dummyTable("svc")), 0)
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	m.Close(s.ID())
	_, ok = m.Get(s.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
}
