package model

import "fmt"

var transitions = map[Status][]Status{
	Received:   {Handled, Cancelled},
	Handled:    {Cancelled},
	Processing: {Queued, Cancelled},
	Queued:     {Locked, Sent, Errored, Delivered, Cancelled},
	Locked:     {Sent, Errored, PermanentlyFailed, Cancelled},
	Sent:       {Delivered, Errored},
	Errored:    {Locked, Sent, PermanentlyFailed, Cancelled},
}

var statusNames = map[Status]string{
	Received:          "received",
	Handled:           "handled",
	Processing:        "processing",
	Locked:            "locked",
	Queued:            "queued",
	Sent:              "sent",
	Delivered:         "delivered",
	Cancelled:         "cancelled",
	Errored:           "errored",
	PermanentlyFailed: "failed",
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) Name() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return string(s)
}

func (s Status) Terminal() bool {
	return s == Delivered || s == Cancelled || s == PermanentlyFailed
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition wrapped with both states when
// from -> to is not in the table.
func CheckTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from.Name(), to.Name())
}

// ParseStatus accepts either the single-letter code or the long name.
func ParseStatus(raw string) (Status, error) {
	if s := Status(raw); s.Valid() {
		return s, nil
	}
	for s, name := range statusNames {
		if name == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
}
