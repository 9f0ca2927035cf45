// Package apps contains the built-in router apps and resolves configured
// app names to instances.
package apps

import (
	"fmt"

	"github.com/LeventeLantos/sms-router/internal/model"
	"github.com/LeventeLantos/sms-router/internal/router"
)

type Options struct {
	// Blacklist lists sender identities the blacklist app drops.
	Blacklist []string
}

// Build returns the apps named in names, in that order.
func Build(names []string, opts Options) ([]router.App, error) {
	out := make([]router.App, 0, len(names))
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("%w: app %q listed twice", model.ErrConfiguration, name)
		}
		seen[name] = true

		switch name {
		case EchoName:
			out = append(out, Echo{})
		case BlacklistName:
			out = append(out, NewBlacklist(opts.Blacklist))
		default:
			return nil, fmt.Errorf("%w: unknown app %q", model.ErrConfiguration, name)
		}
	}
	return out, nil
}
