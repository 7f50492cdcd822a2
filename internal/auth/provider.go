package auth

import (
	"context"
	"sync"
)

// Provider holds the current process identity and fans identity changes out to
// subscribers. It is the concrete implementation of the identity-change
// notification contract the session manager consumes; tests substitute their
// own fake.
type Provider struct {
	mu          sync.Mutex
	current     Identity
	subscribers []func(Identity)
}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Current() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe registers fn for every subsequent identity change. There is no
// unsubscribe; subscriptions live as long as the process.
func (p *Provider) Subscribe(fn func(Identity)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// SignIn installs an authenticated identity and notifies subscribers.
func (p *Provider) SignIn(identity Identity) {
	p.set(identity)
}

// SignOut returns the process to the anonymous baseline and notifies
// subscribers. Durable data belonging to the signed-out user is untouched.
func (p *Provider) SignOut(_ context.Context) error {
	p.set(Anonymous())
	return nil
}

func (p *Provider) set(next Identity) {
	p.mu.Lock()
	p.current = next
	subs := make([]func(Identity), len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}
