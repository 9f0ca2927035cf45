package repo

import (
	"context"
	"time"

	"github.com/LeventeLantos/sms-router/internal/model"
)

// ConnectionRepository is the lookup side of the connection directory.
type ConnectionRepository interface {
	GetOrCreateConnection(ctx context.Context, backend, identity string) (model.Connection, error)
	GetConnection(ctx context.Context, id int64) (model.Connection, error)
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	Get(ctx context.Context, id int64) (*model.Message, error)
	GetMany(ctx context.Context, ids []int64) ([]model.Message, error)
	Responses(ctx context.Context, parentID int64) ([]model.Message, error)
	SetApplication(ctx context.Context, id int64, app string) error

	// Transition moves a message to status `to`, failing with
	// model.ErrInvalidTransition when the state machine forbids it.
	Transition(ctx context.Context, id int64, to model.Status) (*model.Message, error)

	// Claim atomically moves an outgoing Queued or Errored message to Locked.
	// A Locked message whose last update is not after staleBefore is taken
	// over; any other Locked message yields model.ErrAlreadyClaimed.
	Claim(ctx context.Context, id int64, staleBefore time.Time) (*model.Message, error)

	MarkSent(ctx context.Context, id int64, at time.Time) error

	// RecordFailure sets the failure status and appends the DeliveryError row
	// in one transaction.
	RecordFailure(ctx context.Context, id int64, to model.Status, log string) error
	CountDeliveryErrors(ctx context.Context, id int64) (int, error)
	DeliveryErrors(ctx context.Context, id int64) ([]model.DeliveryError, error)

	// ListOutgoing returns ids of outgoing messages in status whose last
	// update is not after updatedBefore (ignored when zero), oldest first.
	ListOutgoing(ctx context.Context, status model.Status, updatedBefore time.Time, limit int) ([]int64, error)
	Outbox(ctx context.Context, backend string) ([]model.Message, error)
}

type BatchRepository interface {
	// MassText creates one batch and one outgoing message per connection in
	// a single transaction and returns the created messages.
	MassText(ctx context.Context, text string, conns []model.Connection, status, batchStatus model.Status) (*model.MessageBatch, []model.Message, error)
	GetBatch(ctx context.Context, id int64) (*model.MessageBatch, error)
	// ReleaseBatch moves the batch's Processing messages to Queued.
	ReleaseBatch(ctx context.Context, batchID int64) ([]int64, error)
}

type Store interface {
	ConnectionRepository
	MessageRepository
	BatchRepository
}
