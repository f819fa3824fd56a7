package registry

import (
	"errors"
	"sync"
)

// ErrNotConnected is returned when an identity has no live channel.
var ErrNotConnected = errors.New("identity not connected")

// Channel is one live bidirectional connection. The registry resolves
// destinations; it never delivers messages itself.
type Channel interface {
	Send(v interface{}) error
	Close() error
}

// Registry maps logical identities (driver id, user id) to their live
// channel and back. One channel per identity: a later Bind for the same
// identity supersedes the previous channel. The registry is lifecycle
// scoped, constructed at service start so tests get isolated instances.
type Registry struct {
	mu      sync.RWMutex
	forward map[string]Channel
	reverse map[Channel]string
}

func New() *Registry {
	return &Registry{
		forward: make(map[string]Channel),
		reverse: make(map[Channel]string),
	}
}

// Bind attaches a channel to an identity, invalidating any previous binding
// for that identity in the same step. The superseded channel is returned so
// the caller can close it outside the lock; nil when there was none.
func (r *Registry) Bind(identity string, ch Channel) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.forward[identity]
	if prev != nil {
		delete(r.reverse, prev)
	}
	r.forward[identity] = ch
	r.reverse[ch] = identity
	return prev
}

// ChannelFor resolves the current channel for an identity.
func (r *Registry) ChannelFor(identity string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.forward[identity]
	if !ok {
		return nil, ErrNotConnected
	}
	return ch, nil
}

// IdentityFor is the reverse lookup, used on disconnect and for targeted
// cleanup.
func (r *Registry) IdentityFor(ch Channel) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.reverse[ch]
	return id, ok
}

// Unbind removes both directions in one atomic step. After it returns the
// identity can no longer resolve to the closed channel. A channel that was
// already superseded only removes itself, not the identity's live binding.
func (r *Registry) Unbind(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.reverse[ch]
	if !ok {
		return
	}
	delete(r.reverse, ch)
	if r.forward[id] == ch {
		delete(r.forward, id)
	}
}

// Send resolves and delivers in one call. Delivery errors are the caller's
// to interpret; the binding is left alone since the read loop owns teardown.
func (r *Registry) Send(identity string, v interface{}) error {
	ch, err := r.ChannelFor(identity)
	if err != nil {
		return err
	}
	return ch.Send(v)
}
