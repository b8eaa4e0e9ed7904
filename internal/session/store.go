package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// maxIDAllocAttempts bounds the collision-retry loop in idAllocator,
// mirroring the teacher's DiscriminatorAllocator safety net against a
// degenerate all-allocated state.
const maxIDAllocAttempts = 100

// ErrIDSpaceExhausted is returned when the allocator cannot find a free,
// nonzero id after maxIDAllocAttempts tries.
var ErrIDSpaceExhausted = errors.New("session: id space exhausted")

// idAllocator hands out unique nonzero 32-bit ids using a monotonic counter
// that falls back to scanning for a free slot on wraparound, matching
// spec §3's "uniqueness and monotonic allocation (skipping 0 and
// collisions)" invariant for both Session and Connection identities.
type idAllocator struct {
	mu        sync.Mutex
	next      uint32
	allocated map[uint32]struct{}
}

func newIDAllocator() *idAllocator {
	return &idAllocator{allocated: make(map[uint32]struct{})}
}

func (a *idAllocator) allocate() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for attempt := 0; attempt < maxIDAllocAttempts; attempt++ {
		a.next++
		if a.next == 0 {
			a.next = 1
		}
		if _, used := a.allocated[a.next]; used {
			continue
		}
		a.allocated[a.next] = struct{}{}
		return a.next, nil
	}
	return 0, ErrIDSpaceExhausted
}

func (a *idAllocator) release(id uint32) {
	a.mu.Lock()
	delete(a.allocated, id)
	a.mu.Unlock()
}

// randomCookie returns an n-character cookie drawn from crypto/rand over an
// alphanumeric alphabet, used for the 50-char ogon/backend cookies and
// reusing the teacher's crypto/rand-for-identifiers idiom
// (DiscriminatorAllocator) at string rather than uint32 granularity.
func randomCookie(n int) (string, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, n)
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("session: generate cookie: %w", err)
	}
	for i, b := range raw {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf), nil
}

// Store is the process-wide session registry (spec §2 "Session store").
// It owns id allocation and supports lookup by id, user, domain, host and
// state, per spec §2's "session lookup by id/user/domain/host/state".
type Store struct {
	mu       sync.RWMutex
	byID     map[uint32]*Session
	ids      *idAllocator
	notifier Notifier
	binder   ModuleBinder
}

// NewStore constructs an empty session store. notifier/binder are passed
// through to every Session it creates.
func NewStore(notifier Notifier, binder ModuleBinder) *Store {
	return &Store{
		byID:     make(map[uint32]*Session),
		ids:      newIDAllocator(),
		notifier: notifier,
		binder:   binder,
	}
}

// Create allocates a fresh session id, builds its two 50-char attach
// cookies, starts its executor, and registers it in the store — the full
// sequence from spec §3's lifecycle summary short of token registration
// (the caller, internal/token's store, does that once it has the Session
// back).
func (st *Store) Create(ctx context.Context, permissionMask uint32) (*Session, error) {
	id, err := st.ids.allocate()
	if err != nil {
		return nil, err
	}
	ogonCookie, err := randomCookie(50)
	if err != nil {
		st.ids.release(id)
		return nil, err
	}
	backendCookie, err := randomCookie(50)
	if err != nil {
		st.ids.release(id)
		return nil, err
	}

	s, err := New(ctx, Config{
		ID:             id,
		Notifier:       st.notifier,
		Binder:         st.binder,
		PermissionMask: permissionMask,
		OgonCookie:     ogonCookie,
		BackendCookie:  backendCookie,
	})
	if err != nil {
		st.ids.release(id)
		return nil, err
	}

	st.mu.Lock()
	st.byID[id] = s
	st.mu.Unlock()
	return s, nil
}

// Lookup returns the session registered under id, if any.
func (st *Store) Lookup(id uint32) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.byID[id]
	return s, ok
}

// FindByUser returns every currently registered session for the given
// user/domain pair, most-recently-created first. Used by the logon flow's
// single-session and reconnect policies.
func (st *Store) FindByUser(user, domain string) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []*Session
	for _, s := range st.byID {
		id := s.Identity()
		if id.User == user && id.Domain == domain {
			out = append(out, s)
		}
	}
	return out
}

// FindByUserAndHost is FindByUser further constrained to sessions whose
// recorded client host matches, for the reconnect.fromSameClient policy.
func (st *Store) FindByUserAndHost(user, domain, clientHost string) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []*Session
	for _, s := range st.byID {
		id := s.Identity()
		if id.User == user && id.Domain == domain && id.ClientHost == clientHost {
			out = append(out, s)
		}
	}
	return out
}

// FindByState returns every registered session currently in the given
// connect-state.
func (st *Store) FindByState(state State) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []*Session
	for _, s := range st.byID {
		if s.State() == state {
			out = append(out, s)
		}
	}
	return out
}

// All returns a snapshot of every registered session.
func (st *Store) All() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.byID))
	for _, s := range st.byID {
		out = append(out, s)
	}
	return out
}

// Remove tears a session down: stops its executor (aborting queued tasks),
// unregisters its id, and removes it from the store. It does not touch the
// permission store's token binding or module lifecycle — internal/token
// and internal/module each observe removal and clean up their own state.
func (st *Store) Remove(id uint32) {
	st.mu.Lock()
	s, ok := st.byID[id]
	if ok {
		delete(st.byID, id)
	}
	st.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	st.ids.release(id)
}

// Len reports how many sessions are currently registered.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}
