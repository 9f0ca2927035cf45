// Package lock provides named, expiring mutual-exclusion leases shared by
// every worker process of the router.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/LeventeLantos/sms-router/internal/model"
)

const (
	// SweepName guards the periodic retry sweep.
	SweepName = "resend_messages"

	DefaultSendTTL  = 60 * time.Second
	DefaultSweepTTL = 300 * time.Second
)

// SendName is the lease name guarding the dispatch of one message.
func SendName(messageID int64) string {
	return fmt.Sprintf("send_message_%d", messageID)
}

// Lease is a held lock. Token identifies the holder so that a release after
// expiry cannot drop somebody else's lease.
type Lease struct {
	Name      string
	Token     string
	ExpiresAt time.Time
}

type Locker interface {
	// Acquire takes the named lease without blocking. It returns
	// model.ErrLockUnavailable when another holder owns a live lease.
	Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error)
	// Release drops the lease if it is still owned by the caller.
	Release(ctx context.Context, lease *Lease) error
}

func unavailable(name string) error {
	return fmt.Errorf("lease %q: %w", name, model.ErrLockUnavailable)
}

func validate(name string, ttl time.Duration) error {
	if name == "" {
		return fmt.Errorf("%w: lease name is required", model.ErrValidation)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: lease ttl must be > 0", model.ErrValidation)
	}
	return nil
}
