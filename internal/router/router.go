package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LeventeLantos/sms-router/internal/identity"
	"github.com/LeventeLantos/sms-router/internal/metrics"
	"github.com/LeventeLantos/sms-router/internal/model"
	"github.com/LeventeLantos/sms-router/internal/queue"
	"github.com/LeventeLantos/sms-router/internal/repo"
)

type Store interface {
	repo.ConnectionRepository
	repo.MessageRepository
}

// Router runs inbound messages through the app phases and persists every
// message it sees or creates.
type Router struct {
	store     Store
	apps      []App
	submitter queue.Submitter
	metrics   *metrics.Metrics
}

// New builds a Router over a fixed, ordered app list. A nil submitter
// disables asynchronous sending: outbound messages stay Queued for relays
// polling the outbox.
func New(store Store, apps []App, submitter queue.Submitter, m *metrics.Metrics) *Router {
	if m == nil {
		m = metrics.New()
	}
	return &Router{
		store:     store,
		apps:      apps,
		submitter: submitter,
		metrics:   m,
	}
}

func (r *Router) Apps() []App {
	return r.apps
}

func (r *Router) HandleIncoming(ctx context.Context, backend, sender, text string) (*model.Message, error) {
	if backend == "" {
		return nil, fmt.Errorf("%w: backend is required", model.ErrValidation)
	}
	ident := identity.Normalize(sender)
	if ident == "" {
		return nil, fmt.Errorf("%w: sender %q has no usable characters", model.ErrValidation, sender)
	}

	conn, err := r.store.GetOrCreateConnection(ctx, backend, ident)
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}

	msg := &model.Message{
		Connection: conn,
		Text:       text,
		Direction:  model.Incoming,
		Status:     model.Received,
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store incoming: %w", err)
	}
	r.metrics.Incoming.Inc()

	in := &IncomingMessage{Connection: conn, Text: text, Message: msg}
	app, filtered := r.runIncomingPhases(ctx, in)
	if filtered {
		// a filtered message never produces replies, even ones queued before the veto
		in.responses = nil
	}
	if app != "" {
		if err := r.store.SetApplication(ctx, msg.ID, app); err != nil {
			return nil, fmt.Errorf("set application: %w", err)
		}
		msg.Application = &app
	}

	handled, err := r.store.Transition(ctx, msg.ID, model.Handled)
	if err != nil {
		return nil, fmt.Errorf("mark handled: %w", err)
	}
	handled.Responses = make([]model.Message, 0, len(in.responses))

	for _, resp := range in.responses {
		out, err := r.HandleOutgoing(ctx, resp, &msg.ID, msg.AppName())
		if err != nil {
			return nil, fmt.Errorf("store response: %w", err)
		}
		handled.Responses = append(handled.Responses, *out)
	}
	return handled, nil
}

// runIncomingPhases returns the name of the app that handled the message,
// if any, and whether a filter stopped processing.
func (r *Router) runIncomingPhases(ctx context.Context, in *IncomingMessage) (string, bool) {
	for _, app := range r.apps {
		f, ok := app.(Filterer)
		if !ok {
			continue
		}
		if r.call(app, "filter", in.Message.ID, func() (bool, error) { return f.Filter(ctx, in) }) {
			slog.Info("incoming message filtered", "message_id", in.Message.ID, "app", app.Name(), "message", in.Message.String())
			return "", true
		}
	}

	for _, app := range r.apps {
		h, ok := app.(Handler)
		if !ok {
			continue
		}
		if r.call(app, "handle", in.Message.ID, func() (bool, error) { return h.Handle(ctx, in) }) {
			return app.Name(), false
		}
	}

	for _, app := range r.apps {
		d, ok := app.(Defaulter)
		if !ok {
			continue
		}
		if r.call(app, "default", in.Message.ID, func() (bool, error) { return d.Default(ctx, in) }) {
			break
		}
	}
	return "", false
}

// call runs one app phase. Errors and panics are logged and count as
// "did not handle".
func (r *Router) call(app App, phase string, messageID int64, fn func() (bool, error)) (handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("app phase panic recovered",
				"app", app.Name(), "phase", phase, "message_id", messageID, "panic", rec)
			handled = false
		}
	}()

	ok, err := fn()
	if err != nil {
		slog.Error("app phase failed", "app", app.Name(), "phase", phase, "message_id", messageID, "err", err)
		return false
	}
	return ok
}

// allowed runs the outgoing phase. A failing app does not veto.
func (r *Router) allowed(ctx context.Context, out *OutgoingMessage) (bool, string) {
	for _, app := range r.apps {
		f, ok := app.(OutgoingFilter)
		if !ok {
			continue
		}

		send := true
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("app phase panic recovered", "app", app.Name(), "phase", "outgoing", "panic", rec)
				}
			}()
			ok, err := f.Outgoing(ctx, out)
			if err != nil {
				slog.Error("app phase failed", "app", app.Name(), "phase", "outgoing", "err", err)
				return
			}
			send = ok
		}()

		if !send {
			return false, app.Name()
		}
	}
	return true, ""
}

// HandleOutgoing persists an outbound message, Cancelled when an app vetoed
// it and Queued otherwise, and submits queued messages for sending.
func (r *Router) HandleOutgoing(ctx context.Context, out OutgoingMessage, inResponseTo *int64, application string) (*model.Message, error) {
	send, vetoedBy := r.allowed(ctx, &out)

	msg := &model.Message{
		Connection:   out.Connection,
		Text:         out.Text,
		Direction:    model.Outgoing,
		Status:       model.Queued,
		InResponseTo: inResponseTo,
	}
	if application != "" {
		msg.Application = &application
	}
	if !send {
		msg.Status = model.Cancelled
		slog.Info("outgoing message vetoed", "app", vetoedBy, "message", msg.String())
	}

	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	r.metrics.Outgoing.WithLabelValues(msg.Status.Name()).Inc()

	if send {
		r.submit(ctx, msg.ID)
	}
	return msg, nil
}

// AddOutgoing sends text to conn outside of any conversation.
func (r *Router) AddOutgoing(ctx context.Context, conn model.Connection, text string) (*model.Message, error) {
	return r.HandleOutgoing(ctx, OutgoingMessage{Connection: conn, Text: text}, nil, "")
}

// CanSend re-runs the outgoing phase for a stored message.
func (r *Router) CanSend(ctx context.Context, id int64) (bool, error) {
	msg, err := r.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	send, _ := r.allowed(ctx, &OutgoingMessage{Connection: msg.Connection, Text: msg.Text})
	return send, nil
}

// MarkDelivered records a delivery report. Repeated reports are no-ops.
func (r *Router) MarkDelivered(ctx context.Context, id int64) (*model.Message, error) {
	msg, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Status == model.Delivered {
		return msg, nil
	}

	delivered, err := r.store.Transition(ctx, id, model.Delivered)
	if errors.Is(err, model.ErrInvalidTransition) {
		// a concurrent report may have won the guarded update
		current, getErr := r.store.Get(ctx, id)
		if getErr == nil && current.Status == model.Delivered {
			return current, nil
		}
	}
	return delivered, err
}

func (r *Router) Outbox(ctx context.Context, backend string) ([]model.Message, error) {
	return r.store.Outbox(ctx, backend)
}

func (r *Router) submit(ctx context.Context, id int64) {
	if r.submitter == nil {
		return
	}
	if err := r.submitter.Submit(ctx, id); err != nil {
		// the message stays Queued; the retry sweep picks it up once stale
		slog.Warn("send job not queued", "message_id", id, "err", err)
	}
}
