package cache

import (
	"context"
	"time"
)

// Receipt is what the gateway answered when a message was sent.
type Receipt struct {
	MessageID int64     `json:"messageId"`
	Backend   string    `json:"backend"`
	Response  string    `json:"response"`
	SentAt    time.Time `json:"sentAt"`
}

type ReceiptCache interface {
	StoreReceipt(ctx context.Context, r Receipt) error
	Receipt(ctx context.Context, messageID int64) (*Receipt, error)
}
