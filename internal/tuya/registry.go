package tuya

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// RegistryOptions holds configuration for creating a session registry.
type RegistryOptions struct {
	// Opener creates transports for new sessions. Required.
	Opener Opener

	// Session is applied to every session opened by the registry.
	Session Options

	// Workers bounds concurrent blocking transport I/O across all sessions.
	// Zero leaves I/O unbounded.
	Workers int
}

// Registry owns the sessions of one host integration, keyed by unique id.
// It is created by the host and passed to the components that need it.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	opener Opener
	opts   Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Opener == nil {
		return nil, fmt.Errorf("opener is required")
	}

	sessOpts := opts.Session
	if opts.Workers > 0 && sessOpts.Limiter == nil {
		sessOpts.Limiter = semaphore.NewWeighted(int64(opts.Workers))
	}

	return &Registry{
		opener:   opts.Opener,
		opts:     sessOpts,
		sessions: make(map[string]*Session),
	}, nil
}

// Setup opens a session for id and registers it under its unique id.
// Returns ErrSessionExists if one is already registered.
func (r *Registry) Setup(ctx context.Context, id Identity) (*Session, error) {
	uid := id.UniqueID()

	r.mu.RLock()
	_, exists := r.sessions[uid]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, uid)
	}

	if r.opts.Logger != nil {
		r.opts.Logger.Info("creating device session", "device", uid, "name", id.Name)
	}

	s, err := Open(ctx, r.opener, id, r.opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.sessions[uid]; exists {
		r.mu.Unlock()
		s.Close() //nolint:errcheck // Lost the race; discard the duplicate
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, uid)
	}
	r.sessions[uid] = s
	count := len(r.sessions)
	r.mu.Unlock()

	sessionsActive.Set(float64(count))
	return s, nil
}

// Get returns the session registered under uid.
func (r *Registry) Get(uid string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, uid)
	}
	return s, nil
}

// Delete unregisters and closes the session under uid.
func (r *Registry) Delete(uid string) error {
	r.mu.Lock()
	s, ok := r.sessions[uid]
	delete(r.sessions, uid)
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, uid)
	}

	sessionsActive.Set(float64(count))
	if r.opts.Logger != nil {
		r.opts.Logger.Info("deleting device session", "device", uid)
	}
	return s.Close()
}

// List returns all sessions ordered by unique id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		return strings.Compare(a.UniqueID(), b.UniqueID())
	})
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close closes every session and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	sessionsActive.Set(0)

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
