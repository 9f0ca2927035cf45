package apps

import (
	"context"
	"errors"
	"testing"

	"github.com/LeventeLantos/sms-router/internal/model"
	"github.com/LeventeLantos/sms-router/internal/router"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	got, err := Build([]string{"blacklist", "echo"}, Options{Blacklist: []string{"+250 788"}})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(got) != 2 || got[0].Name() != "blacklist" || got[1].Name() != "echo" {
		t.Fatalf("unexpected apps: %v", got)
	}

	if _, err := Build([]string{"nope"}, Options{}); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for unknown app, got %v", err)
	}
	if _, err := Build([]string{"echo", "echo"}, Options{}); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for duplicate app, got %v", err)
	}
}

func TestEcho_Handle(t *testing.T) {
	t.Parallel()

	in := &router.IncomingMessage{Connection: model.Connection{Identity: "1"}, Text: "test"}

	ok, err := Echo{}.Handle(context.Background(), in)
	if err != nil || !ok {
		t.Fatalf("expected echo to handle, got %v %v", ok, err)
	}
}

func TestBlacklist(t *testing.T) {
	t.Parallel()

	b := NewBlacklist([]string{"+250-788", ""})
	ctx := context.Background()

	blocked := model.Connection{Backend: "kannel", Identity: "250788"}
	allowed := model.Connection{Backend: "kannel", Identity: "111"}

	if drop, _ := b.Filter(ctx, &router.IncomingMessage{Connection: blocked}); !drop {
		t.Fatalf("expected blacklisted sender to be filtered")
	}
	if drop, _ := b.Filter(ctx, &router.IncomingMessage{Connection: allowed}); drop {
		t.Fatalf("expected other sender to pass")
	}
	if send, _ := b.Outgoing(ctx, &router.OutgoingMessage{Connection: blocked}); send {
		t.Fatalf("expected outgoing to blacklisted identity to be vetoed")
	}
	if send, _ := b.Outgoing(ctx, &router.OutgoingMessage{Connection: allowed}); !send {
		t.Fatalf("expected outgoing to other identity to be allowed")
	}
}
