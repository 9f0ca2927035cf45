package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/sms-router/internal/lock"
	"github.com/LeventeLantos/sms-router/internal/metrics"
	"github.com/LeventeLantos/sms-router/internal/model"
)

type Claimer interface {
	Claim(ctx context.Context, id int64, staleBefore time.Time) (*model.Message, error)
}

// Dispatcher runs send jobs. Jobs may arrive more than once; the
// per-message lease and the store claim make duplicates no-ops.
type Dispatcher struct {
	locker   lock.Locker
	store    Claimer
	sender   *Sender
	retry    *RetryScheduler
	leaseTTL time.Duration
	metrics  *metrics.Metrics
}

func NewDispatcher(locker lock.Locker, store Claimer, sender *Sender, retry *RetryScheduler, leaseTTL time.Duration, m *metrics.Metrics) *Dispatcher {
	if leaseTTL <= 0 {
		leaseTTL = lock.DefaultSendTTL
	}
	if m == nil {
		m = metrics.New()
	}
	return &Dispatcher{
		locker:   locker,
		store:    store,
		sender:   sender,
		retry:    retry,
		leaseTTL: leaseTTL,
		metrics:  m,
	}
}

// Dispatch attempts delivery of message id once. It returns nil when the job
// was skipped because another worker owns the message or the message no
// longer needs sending.
func (d *Dispatcher) Dispatch(ctx context.Context, id int64) error {
	lease, err := d.locker.Acquire(ctx, lock.SendName(id), d.leaseTTL)
	if errors.Is(err, model.ErrLockUnavailable) {
		slog.Debug("send skipped, lease held elsewhere", "message_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire send lease: %w", err)
	}
	defer func() {
		if err := d.locker.Release(context.WithoutCancel(ctx), lease); err != nil {
			slog.Warn("failed to release send lease", "message_id", id, "err", err)
		}
	}()

	msg, err := d.store.Claim(ctx, id, d.retry.StaleBefore())
	switch {
	case errors.Is(err, model.ErrAlreadyClaimed), errors.Is(err, model.ErrInvalidTransition):
		slog.Debug("send skipped", "message_id", id, "reason", err)
		return nil
	case err != nil:
		return fmt.Errorf("claim message %d: %w", id, err)
	}

	out, sendErr := d.sender.Send(ctx, msg)
	if sendErr == nil {
		d.metrics.SendAttempts.WithLabelValues("sent").Inc()
		return nil
	}

	status, err := d.retry.RecordFailure(ctx, msg, out.Log, sendErr)
	if err != nil {
		return err
	}
	d.metrics.SendAttempts.WithLabelValues(status.Name()).Inc()
	return nil
}

// Handle adapts Dispatch to a queue handler.
func (d *Dispatcher) Handle(ctx context.Context, id int64) {
	if err := d.Dispatch(ctx, id); err != nil {
		slog.Error("send job failed", "message_id", id, "err", err)
	}
}
