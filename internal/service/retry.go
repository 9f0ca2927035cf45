package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/sms-router/internal/metrics"
	"github.com/LeventeLantos/sms-router/internal/model"
	"github.com/LeventeLantos/sms-router/internal/queue"
)

const (
	DefaultSweepLimit = 100
	DefaultStaleAfter = 5 * time.Minute
)

type RetryStore interface {
	RecordFailure(ctx context.Context, id int64, to model.Status, log string) error
	CountDeliveryErrors(ctx context.Context, id int64) (int, error)
	ListOutgoing(ctx context.Context, status model.Status, updatedBefore time.Time, limit int) ([]int64, error)
}

// RetryScheduler decides what happens to a message after a failed send and
// periodically resubmits messages that need another attempt.
type RetryScheduler struct {
	store      RetryStore
	submitter  queue.Submitter
	limit      int
	staleAfter time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewRetryScheduler(store RetryStore, submitter queue.Submitter, limit int, staleAfter time.Duration, m *metrics.Metrics) *RetryScheduler {
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if m == nil {
		m = metrics.New()
	}
	return &RetryScheduler{
		store:      store,
		submitter:  submitter,
		limit:      limit,
		staleAfter: staleAfter,
		metrics:    m,
		now:        time.Now,
	}
}

// StaleBefore is the cutoff after which a Queued or Locked message is
// considered abandoned.
func (r *RetryScheduler) StaleBefore() time.Time {
	return r.now().Add(-r.staleAfter)
}

// RecordFailure appends a delivery error for m and moves it to Errored, or
// to PermanentlyFailed once the attempt budget is spent. Configuration
// errors fail the message at once.
func (r *RetryScheduler) RecordFailure(ctx context.Context, m *model.Message, log string, cause error) (model.Status, error) {
	previous, err := r.store.CountDeliveryErrors(ctx, m.ID)
	if err != nil {
		return "", fmt.Errorf("count delivery errors: %w", err)
	}

	log += fmt.Sprintf("Failure #%d\n\n", previous+1)
	log += fmt.Sprintf("Error: %v\n\n", cause)

	retriesLeft := model.MaxSendAttempts - 1 - previous
	status := model.Errored
	if retriesLeft <= 0 || !model.Retryable(cause) {
		status = model.PermanentlyFailed
		log += "Permanent failure, will not retry."
	} else {
		log += fmt.Sprintf("Will retry %d more time(s).", retriesLeft)
	}

	if err := r.store.RecordFailure(ctx, m.ID, status, log); err != nil {
		return "", fmt.Errorf("record failure: %w", err)
	}

	slog.Warn("sms send failed",
		"message_id", m.ID,
		"attempt", previous+1,
		"status", status.Name(),
		"err", cause,
	)
	return status, nil
}

type SweepResult struct {
	Errored int
	Queued  int
	Locked  int
}

func (s SweepResult) Total() int {
	return s.Errored + s.Queued + s.Locked
}

// Sweep resubmits up to limit messages of each kind: every Errored message,
// and Queued or Locked messages that have not moved for staleAfter. The
// caller is expected to hold the sweep lease.
func (r *RetryScheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if r.submitter == nil {
		return res, nil
	}

	stale := r.StaleBefore()
	subsets := []struct {
		kind   string
		status model.Status
		before time.Time
		count  *int
	}{
		{"errored", model.Errored, time.Time{}, &res.Errored},
		{"queued", model.Queued, stale, &res.Queued},
		{"locked", model.Locked, stale, &res.Locked},
	}

	for _, sub := range subsets {
		ids, err := r.store.ListOutgoing(ctx, sub.status, sub.before, r.limit)
		if err != nil {
			return res, fmt.Errorf("list %s messages: %w", sub.kind, err)
		}

		for _, id := range ids {
			if err := r.submitter.Submit(ctx, id); err != nil {
				slog.Warn("sweep resubmit failed", "message_id", id, "kind", sub.kind, "err", err)
				if errors.Is(err, queue.ErrQueueFull) || ctx.Err() != nil {
					break
				}
				continue
			}
			*sub.count++
		}
		r.metrics.Resubmitted.WithLabelValues(sub.kind).Add(float64(*sub.count))
	}

	slog.Info("retry sweep completed", "errored", res.Errored, "queued", res.Queued, "locked", res.Locked)
	return res, nil
}
