// Package lock guards against two verifications running for the same user at
// once. Acquisition never blocks; a busy user is rejected, not queued.
package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"

	dErrors "qrverify/pkg/domain-errors"
)

// ErrAlreadyInProgress is returned when the user already holds a lease.
var ErrAlreadyInProgress = dErrors.New(dErrors.CodeConflict, "verification already in progress")

// Registry tracks which users have a verification in flight. Each lease
// carries a token so a stale Release cannot drop a newer holder's entry.
type Registry struct {
	mu   sync.Mutex
	held map[string]uuid.UUID
	now  func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		held: make(map[string]uuid.UUID),
		now:  time.Now,
	}
}

// Lease is proof of acquisition. Release it exactly once, typically with defer.
type Lease struct {
	UserID     string
	Token      uuid.UUID
	AcquiredAt time.Time

	registry *Registry
	once     sync.Once
}

// Acquire takes the lease for userID or returns ErrAlreadyInProgress.
func (r *Registry) Acquire(userID string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.held[userID]; busy {
		return nil, ErrAlreadyInProgress
	}

	token := uuid.New()
	r.held[userID] = token
	return &Lease{
		UserID:     userID,
		Token:      token,
		AcquiredAt: r.now(),
		registry:   r,
	}, nil
}

// Release frees the lease. Calling it more than once is a no-op.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.registry.release(l.UserID, l.Token)
	})
}

func (r *Registry) release(userID string, token uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.held[userID]; ok && current == token {
		delete(r.held, userID)
	}
}

// Held reports whether userID currently holds a lease.
func (r *Registry) Held(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[userID]
	return ok
}

// Len returns the number of in-flight verifications.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}
