package apps

import (
	"context"

	"github.com/LeventeLantos/sms-router/internal/identity"
	"github.com/LeventeLantos/sms-router/internal/router"
)

const BlacklistName = "blacklist"

// Blacklist silences a set of identities in both directions.
type Blacklist struct {
	blocked map[string]struct{}
}

func NewBlacklist(identities []string) *Blacklist {
	b := &Blacklist{blocked: make(map[string]struct{}, len(identities))}
	for _, raw := range identities {
		if id := identity.Normalize(raw); id != "" {
			b.blocked[id] = struct{}{}
		}
	}
	return b
}

func (b *Blacklist) Name() string { return BlacklistName }

func (b *Blacklist) Blocked(ident string) bool {
	_, ok := b.blocked[ident]
	return ok
}

func (b *Blacklist) Filter(_ context.Context, msg *router.IncomingMessage) (bool, error) {
	return b.Blocked(msg.Connection.Identity), nil
}

func (b *Blacklist) Outgoing(_ context.Context, msg *router.OutgoingMessage) (bool, error) {
	return !b.Blocked(msg.Connection.Identity), nil
}
