package softphone

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
)

var ErrNotMounted = errors.New("softphone: no phone mounted for identity")

// Registry holds one Phone per authenticated identity for the HTTP surface.
type Registry struct {
	newPhone NewPhoneFunc

	mu     sync.Mutex
	phones map[Identity]*Phone
}

// NewPhoneFunc builds the phone for id. ctx is the mounting request's context.
type NewPhoneFunc func(ctx context.Context, id Identity) (*Phone, error)

// NewRegistry uses newPhone to build a phone the first time an identity mounts.
func NewRegistry(newPhone NewPhoneFunc) *Registry {
	return &Registry{newPhone: newPhone, phones: make(map[Identity]*Phone)}
}

// Get returns the phone for id.
func (r *Registry) Get(id Identity) (*Phone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.phones[id]
	if !ok {
		return nil, ErrNotMounted
	}
	return p, nil
}

// Mount returns the phone for id, creating and mounting it when needed. A
// phone whose initialization failed stays registered (disconnected) so the
// caller can still render it; the error is returned alongside.
func (r *Registry) Mount(ctx context.Context, id Identity) (*Phone, error) {
	if id == "" {
		return nil, ErrNoIdentity
	}
	r.mu.Lock()
	p, ok := r.phones[id]
	if !ok {
		var err error
		p, err = r.newPhone(ctx, id)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.phones[id] = p
	}
	r.mu.Unlock()

	return p, p.SetIdentity(ctx, id)
}

// Unmount tears down and forgets the phone for id.
func (r *Registry) Unmount(id Identity) error {
	r.mu.Lock()
	p, ok := r.phones[id]
	delete(r.phones, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotMounted
	}
	return p.Unmount()
}

// Close unmounts every phone.
func (r *Registry) Close() error {
	r.mu.Lock()
	phones := r.phones
	r.phones = make(map[Identity]*Phone)
	r.mu.Unlock()

	var err error
	for _, p := range phones {
		err = multierr.Append(err, p.Unmount())
	}
	return err
}

// Len reports the number of registered phones.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.phones)
}
