package model

import "time"

type Direction string

const (
	Incoming Direction = "I"
	Outgoing Direction = "O"
)

type Status string

const (
	Received          Status = "R"
	Handled           Status = "H"
	Processing        Status = "P"
	Locked            Status = "L"
	Queued            Status = "Q"
	Sent              Status = "S"
	Delivered         Status = "D"
	Cancelled         Status = "C"
	Errored           Status = "E"
	PermanentlyFailed Status = "F"
)

// DefaultPriority is the priority assigned to every message the router creates.
const DefaultPriority = 10

// MaxSendAttempts bounds delivery of a single message: the initial attempt
// plus two retries.
const MaxSendAttempts = 3

type Connection struct {
	ID       int64  `db:"id" json:"id"`
	Backend  string `db:"backend" json:"backend"`
	Identity string `db:"identity" json:"identity"`
}

type Message struct {
	ID           int64      `db:"id"`
	Connection   Connection `db:"connection"`
	Text         string     `db:"text"`
	Direction    Direction  `db:"direction"`
	Status       Status     `db:"status"`
	Date         time.Time  `db:"date"`
	Updated      time.Time  `db:"updated"`
	SentAt       *time.Time `db:"sent"`
	DeliveredAt  *time.Time `db:"delivered"`
	Priority     int        `db:"priority"`
	InResponseTo *int64     `db:"in_response_to_id"`
	Application  *string    `db:"application"`
	BatchID      *int64     `db:"batch_id"`

	// Responses is filled by the router for inbound messages; it is not persisted.
	Responses []Message `db:"-"`
}

type MessageBatch struct {
	ID     int64   `db:"id" json:"id"`
	Status Status  `db:"status" json:"status"`
	Name   *string `db:"name" json:"name,omitempty"`
}

type DeliveryError struct {
	ID        int64     `db:"id" json:"id"`
	MessageID int64     `db:"message_id" json:"message_id"`
	Log       string    `db:"log" json:"log"`
	CreatedOn time.Time `db:"created_on" json:"created_on"`
}

func (m *Message) AppName() string {
	if m.Application == nil {
		return ""
	}
	return *m.Application
}

// String crops the text so log lines stay readable.
func (m *Message) String() string {
	text := m.Text
	if runes := []rune(text); len(runes) >= 60 {
		text = string(runes[:57]) + "..."
	}
	toFrom := "to"
	if m.Direction == Incoming {
		toFrom = "from"
	}
	return text + " (" + toFrom + " " + m.Connection.Identity + ")"
}
