package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker keeps leases in process memory. It is only safe when a
// single router process is running.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]Lease
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]Lease),
		now:    time.Now,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if err := validate(name, ttl); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[name]; ok && now.Before(held.ExpiresAt) {
		return nil, unavailable(name)
	}

	lease := Lease{Name: name, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	l.leases[name] = lease
	return &lease, nil
}

func (l *MemoryLocker) Release(_ context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.leases[lease.Name]; ok && held.Token == lease.Token {
		delete(l.leases, lease.Name)
	}
	return nil
}
