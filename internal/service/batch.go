package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/LeventeLantos/sms-router/internal/metrics"
	"github.com/LeventeLantos/sms-router/internal/model"
	"github.com/LeventeLantos/sms-router/internal/queue"
	"github.com/LeventeLantos/sms-router/internal/repo"
)

// BatchEvent is published after a mass text has been committed.
type BatchEvent struct {
	BatchID  int64
	Messages []model.Message
	// Status is the status the messages were created in.
	Status      model.Status
	BatchStatus model.Status
}

type BatchSubscriber func(ctx context.Context, ev BatchEvent) error

type subscription struct {
	name string
	fn   BatchSubscriber
}

// BatchSender creates mass texts and tells subscribers about them.
type BatchSender struct {
	store   repo.BatchRepository
	metrics *metrics.Metrics

	mu          sync.RWMutex
	subscribers []subscription
}

func NewBatchSender(store repo.BatchRepository, m *metrics.Metrics) *BatchSender {
	if m == nil {
		m = metrics.New()
	}
	return &BatchSender{store: store, metrics: m}
}

func (b *BatchSender) Subscribe(name string, fn BatchSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscription{name: name, fn: fn})
}

// MassText creates one batch holding one message per distinct connection.
// Zero statuses default to Processing for messages and Queued for the
// batch. Subscribers run synchronously after commit; their failures are
// logged only.
func (b *BatchSender) MassText(ctx context.Context, text string, conns []model.Connection, status, batchStatus model.Status) (*model.MessageBatch, []model.Message, error) {
	if status == "" {
		status = model.Processing
	}
	if batchStatus == "" {
		batchStatus = model.Queued
	}
	if !status.Valid() || !batchStatus.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown status", model.ErrValidation)
	}

	unique := dedupConnections(conns)
	if len(unique) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one connection is required", model.ErrValidation)
	}

	batch, msgs, err := b.store.MassText(ctx, text, unique, status, batchStatus)
	if err != nil {
		return nil, nil, err
	}
	b.metrics.Batches.Inc()
	b.metrics.Outgoing.WithLabelValues(status.Name()).Add(float64(len(msgs)))

	slog.Info("mass text created", "batch_id", batch.ID, "messages", len(msgs))
	b.publish(ctx, BatchEvent{BatchID: batch.ID, Messages: msgs, Status: status, BatchStatus: batchStatus})
	return batch, msgs, nil
}

func (b *BatchSender) publish(ctx context.Context, ev BatchEvent) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers...)
	b.mu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("batch subscriber panic recovered", "subscriber", s.name, "batch_id", ev.BatchID, "panic", r)
				}
			}()
			if err := s.fn(ctx, ev); err != nil {
				slog.Error("batch subscriber failed", "subscriber", s.name, "batch_id", ev.BatchID, "err", err)
			}
		}()
	}
}

func dedupConnections(conns []model.Connection) []model.Connection {
	seen := make(map[int64]struct{}, len(conns))
	out := make([]model.Connection, 0, len(conns))
	for _, c := range conns {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// DispatchBatch releases a new batch's Processing messages to Queued and
// submits every queued message for sending. A nil submitter only releases.
func DispatchBatch(store repo.BatchRepository, submitter queue.Submitter) BatchSubscriber {
	return func(ctx context.Context, ev BatchEvent) error {
		released, err := store.ReleaseBatch(ctx, ev.BatchID)
		if err != nil {
			return fmt.Errorf("release batch %d: %w", ev.BatchID, err)
		}
		if submitter == nil {
			return nil
		}

		ids := released
		for _, m := range ev.Messages {
			if m.Status == model.Queued {
				ids = append(ids, m.ID)
			}
		}

		for _, id := range ids {
			if err := submitter.Submit(ctx, id); err != nil {
				slog.Warn("send job not queued", "message_id", id, "batch_id", ev.BatchID, "err", err)
			}
		}
		return nil
	}
}
