package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/sms-router/internal/cache"
	"github.com/LeventeLantos/sms-router/internal/client"
	"github.com/LeventeLantos/sms-router/internal/model"
)

type Gateway interface {
	Send(ctx context.Context, p client.Params) (*client.Result, error)
}

type SentMarker interface {
	MarkSent(ctx context.Context, id int64, at time.Time) error
}

// Outcome of one gateway attempt. Log is the diagnostic text kept with a
// delivery error when the attempt fails.
type Outcome struct {
	Body string
	Log  string
}

// Sender hands one message to the SMS gateway. It marks the message Sent on
// success and leaves failure accounting to the caller.
type Sender struct {
	gateway  Gateway
	store    SentMarker
	receipts cache.ReceiptCache
	now      func() time.Time
}

func NewSender(gateway Gateway, store SentMarker) *Sender {
	return &Sender{
		gateway: gateway,
		store:   store,
		now:     time.Now,
	}
}

// WithReceipts keeps the gateway answer of every sent message in c.
func (s *Sender) WithReceipts(c cache.ReceiptCache) *Sender {
	s.receipts = c
	return s
}

func (s *Sender) Send(ctx context.Context, m *model.Message) (Outcome, error) {
	out := Outcome{Log: fmt.Sprintf("Sending message: [%d]\n", m.ID)}

	res, err := s.gateway.Send(ctx, client.Params{
		Backend:   m.Connection.Backend,
		Recipient: m.Connection.Identity,
		Text:      m.Text,
		ID:        m.ID,
	})
	if res != nil {
		out.Log += fmt.Sprintf("%s %s\n", m.Connection.Backend, res.URL)
		if res.StatusCode != 0 {
			out.Log += fmt.Sprintf("Status Code: %d\nBody: %s\n", res.StatusCode, res.Body)
		}
		out.Body = res.Body
	}
	if err != nil {
		return out, err
	}

	sentAt := s.now()
	if err := s.store.MarkSent(ctx, m.ID, sentAt); err != nil {
		return out, fmt.Errorf("mark sent: %w", err)
	}
	slog.Info("sms sent", "message_id", m.ID, "backend", m.Connection.Backend, "status_code", res.StatusCode)

	if s.receipts != nil {
		err := s.receipts.StoreReceipt(ctx, cache.Receipt{
			MessageID: m.ID,
			Backend:   m.Connection.Backend,
			Response:  res.Body,
			SentAt:    sentAt,
		})
		if err != nil {
			slog.Warn("failed to store send receipt", "message_id", m.ID, "err", err)
		}
	}
	return out, nil
}
