package pkgserver

import (
	"sync"

	"github.com/google/uuid"

	"github.com/DorAlter/postguard/pkg/identity"
)

// SessionStatus is the lifecycle state of an attribute-disclosure
// session running against the external identity provider (IRMA/Yivi).
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionDone      SessionStatus = "done"
	SessionCancelled SessionStatus = "cancelled"
	SessionTimeout   SessionStatus = "timeout"
)

// SessionProvider is the narrow contract pkgserver needs from whatever
// drives the actual disclosure protocol. The IRMA/Yivi protocol itself
// is out of scope (spec.md §1); this interface is the seam a real
// adapter plugs into.
type SessionProvider interface {
	// StartSession begins a disclosure session asking the user to prove
	// every conjunct in want, returning an opaque session token.
	StartSession(want identity.Policy) (token string, err error)
	// Status reports a session's current lifecycle state.
	Status(token string) (SessionStatus, error)
	// Result returns the attributes the user actually disclosed and had
	// verified, once Status reports SessionDone. It is an error to call
	// this before the session is done.
	Result(token string) ([]identity.Attribute, error)
}

// InMemoryProvider is a SessionProvider fake: every session stays open
// until the caller completes it with Approve (with the attributes to
// report as disclosed) or ends it with Cancel, letting pkgserver's HTTP surface and containment check be exercised
// for real in tests without an actual IRMA/Yivi deployment.
type InMemoryProvider struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
}

type fakeSession struct {
	status  SessionStatus
	granted []identity.Attribute
}

// NewInMemoryProvider constructs an empty InMemoryProvider.
func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{sessions: make(map[string]*fakeSession)}
}

func (p *InMemoryProvider) StartSession(want identity.Policy) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	token := uuid.NewString()
	p.sessions[token] = &fakeSession{status: SessionOpen}
	return token, nil
}

func (p *InMemoryProvider) Status(token string) (SessionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return s.status, nil
}

func (p *InMemoryProvider) Result(token string) ([]identity.Attribute, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[token]
	if !ok {
		return nil, ErrUnknownToken
	}
	if s.status != SessionDone {
		return nil, ErrSessionNotDone
	}
	return s.granted, nil
}

// Approve marks token as successfully disclosed with the given
// attributes, as if the user had completed the IRMA/Yivi flow — the
// test-only hook InMemoryProvider exists for.
func (p *InMemoryProvider) Approve(token string, granted []identity.Attribute) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[token]; ok {
		s.status = SessionDone
		s.granted = granted
	}
}

// Cancel marks token as cancelled by the user.
func (p *InMemoryProvider) Cancel(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[token]; ok {
		s.status = SessionCancelled
	}
}
