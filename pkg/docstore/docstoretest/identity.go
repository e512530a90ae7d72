package docstoretest

import (
	"context"
	"sync"

	"chattersync/pkg/domain"
)

// Identity is a scriptable identity provider. SignInAnonymously issues
// NextUID unless Err is set.
type Identity struct {
	mu      sync.Mutex
	current *domain.Identity
	err     error
	nextUID string
	signIns int
}

// SignedIn returns a provider that already holds uid.
func SignedIn(uid string) *Identity {
	return &Identity{current: &domain.Identity{UID: uid, Anonymous: true}}
}

// SignedOut returns a provider that issues nextUID on sign-in.
func SignedOut(nextUID string) *Identity {
	return &Identity{nextUID: nextUID}
}

// FailSignIn makes sign-in return err.
func (p *Identity) FailSignIn(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *Identity) SignIns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signIns
}

func (p *Identity) CurrentIdentity() (domain.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return domain.Identity{}, false
	}
	return *p.current, true
}

func (p *Identity) SignInAnonymously(context.Context) (domain.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signIns++
	if p.current != nil {
		return *p.current, nil
	}
	if p.err != nil {
		return domain.Identity{}, p.err
	}
	p.current = &domain.Identity{UID: p.nextUID, Anonymous: true}
	return *p.current, nil
}
