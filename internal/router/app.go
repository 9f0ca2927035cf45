package router

import (
	"context"

	"github.com/LeventeLantos/sms-router/internal/model"
)

// App is a message-processing plugin. It takes part in a phase by
// implementing the matching capability interface below.
type App interface {
	Name() string
}

// Filterer runs first. Returning true stops all further processing of the
// inbound message.
type Filterer interface {
	Filter(ctx context.Context, msg *IncomingMessage) (bool, error)
}

// Handler claims an inbound message by returning true; later handlers and
// the default phase are skipped.
type Handler interface {
	Handle(ctx context.Context, msg *IncomingMessage) (bool, error)
}

// Defaulter runs only when no Handler claimed the message.
type Defaulter interface {
	Default(ctx context.Context, msg *IncomingMessage) (bool, error)
}

// OutgoingFilter may veto an outbound message by returning false.
type OutgoingFilter interface {
	Outgoing(ctx context.Context, msg *OutgoingMessage) (bool, error)
}

type IncomingMessage struct {
	Connection model.Connection
	Text       string
	// Message is the persisted inbound row.
	Message *model.Message

	responses []OutgoingMessage
}

// Respond queues a reply to the sender. Replies are sent after all phases
// finish, in the order they were queued.
func (m *IncomingMessage) Respond(text string) {
	m.responses = append(m.responses, OutgoingMessage{
		Connection: m.Connection,
		Text:       text,
	})
}

type OutgoingMessage struct {
	Connection model.Connection
	Text       string
}
