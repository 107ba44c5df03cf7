package cmif

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hipc-systems/hipc-core/domain"
)

// Session is one server-side IPC session: a single non-domain object, or
// a domain once ConvertToDomain has run. A session in MITM mode forwards
// every unrecognized command to a host-side stand-in instead of failing
// it, so a privileged service can transparently wrap a target service.
type Session struct {
	id string

	mu         sync.Mutex
	holder     *domain.ServiceObjectHolder // non-domain object; nil once converted
	dom        *Domain                     // non-nil once this session is a domain
	rootID     domain.DomainObjectID       // domain object id of the original holder, once converted

	mitmTarget domain.ServiceObject
	isMitm     bool

	pointerBufferSize int
}

// NewSession wraps holder in a fresh session identified by a random id.
func NewSession(holder *domain.ServiceObjectHolder, pointerBufferSize int) *Session {
	return &Session{
		id:                uuid.NewString(),
		holder:            holder,
		pointerBufferSize: pointerBufferSize,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) IsMitm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isMitm
}

// SetMitmTarget switches the session into MITM mode: any command the
// session's own dispatch table rejects with UnknownCommand is instead
// forwarded to target.
func (s *Session) SetMitmTarget(target domain.ServiceObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mitmTarget = target
	s.isMitm = true
}

func (s *Session) ForwardService() (domain.ServiceObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isMitm {
		return nil, false
	}
	return s.mitmTarget, true
}

// IsDomain reports whether ConvertToDomain has run for this session.
func (s *Session) IsDomain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dom != nil
}

// ConvertToDomain moves the session's single object into a freshly
// created Domain as object 1 and returns that domain and id; the session
// is thereafter a domain session and every request against it must name
// a DomainObjectID. A session already converted cannot be converted
// again; a MITM session is converted like any other.
func (s *Session) ConvertToDomain(capacity int) (*Domain, domain.DomainObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dom != nil {
		return nil, domain.InvalidDomainObjectID, domain.NewError(domain.KindPreconditionViolation,
			"cmif: session %s is already a domain", s.id)
	}
	d := NewDomain(capacity)
	id, err := d.Allocate(s.holder)
	if err != nil {
		return nil, domain.InvalidDomainObjectID, err
	}
	s.dom = d
	s.rootID = id
	s.holder = nil
	return d, id, nil
}

// Resolve returns the object a dispatch targets: either the session's
// single object (non-domain session) or, for a domain session, the
// object named by id.
func (s *Session) Resolve(id domain.DomainObjectID) (*domain.ServiceObjectHolder, bool) {
	s.mu.Lock()
	dom := s.dom
	holder := s.holder
	s.mu.Unlock()
	if dom != nil {
		return dom.Get(id)
	}
	return holder, holder != nil
}

// Domain returns the session's Domain and true once ConvertToDomain has
// run, else (nil, false).
func (s *Session) Domain() (*Domain, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dom, s.dom != nil
}

func (s *Session) PointerBufferSize() int { return s.pointerBufferSize }

// ServerSessionManager tracks every live server-side session by id, the
// way a listening service needs to in order to route an inbound request
// to the right Session without the transport itself knowing about
// sessions.
type ServerSessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewServerSessionManager() *ServerSessionManager {
	return &ServerSessionManager{sessions: make(map[string]*Session)}
}

// Create registers a new session around holder and returns it.
func (m *ServerSessionManager) Create(holder *domain.ServiceObjectHolder, pointerBufferSize int) *Session {
	s := NewSession(holder, pointerBufferSize)
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s
}

func (m *ServerSessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close removes a session from the registry. The caller is responsible
// for releasing whatever object references the session held.
func (m *ServerSessionManager) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func (m *ServerSessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
