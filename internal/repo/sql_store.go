package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LeventeLantos/sms-router/internal/model"
)

// massTextChunk keeps multi-row inserts well below the Postgres bind
// parameter limit.
const massTextChunk = 500

const selectMessages = `
	SELECT m.id, m.text, m.direction, m.status, m.date, m.updated, m.sent, m.delivered,
	       m.priority, m.in_response_to_id, m.application, m.batch_id,
	       c.id AS "connection.id", c.backend AS "connection.backend", c.identity AS "connection.identity"
	FROM messages m
	JOIN connections c ON c.id = m.connection_id`

type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *SQLStore) GetOrCreateConnection(ctx context.Context, backend, identity string) (model.Connection, error) {
	if backend == "" {
		return model.Connection{}, fmt.Errorf("%w: backend is required", model.ErrValidation)
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO connections (backend, identity) VALUES (?, ?)
		ON CONFLICT (backend, identity) DO NOTHING
	`), backend, identity); err != nil {
		return model.Connection{}, err
	}

	var c model.Connection
	err := s.db.GetContext(ctx, &c, s.db.Rebind(`
		SELECT id, backend, identity FROM connections WHERE backend = ? AND identity = ?
	`), backend, identity)
	return c, err
}

func (s *SQLStore) GetConnection(ctx context.Context, id int64) (model.Connection, error) {
	var c model.Connection
	err := s.db.GetContext(ctx, &c, s.db.Rebind(`SELECT id, backend, identity FROM connections WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("connection %d: %w", id, model.ErrNotFound)
	}
	return c, err
}

func (s *SQLStore) CreateMessage(ctx context.Context, m *model.Message) error {
	now := s.now()
	if m.Date.IsZero() {
		m.Date = now
	}
	m.Updated = now
	if m.Priority == 0 {
		m.Priority = model.DefaultPriority
	}

	return s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO messages (connection_id, text, direction, status, date, updated, priority,
		                      in_response_to_id, application, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		m.Connection.ID,
		m.Text,
		string(m.Direction),
		string(m.Status),
		m.Date,
		m.Updated,
		m.Priority,
		m.InResponseTo,
		m.Application,
		m.BatchID,
	).Scan(&m.ID)
}

func (s *SQLStore) Get(ctx context.Context, id int64) (*model.Message, error) {
	var m model.Message
	err := s.db.GetContext(ctx, &m, s.db.Rebind(selectMessages+` WHERE m.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLStore) GetMany(ctx context.Context, ids []int64) ([]model.Message, error) {
	if len(ids) == 0 {
		return []model.Message{}, nil
	}

	query, args, err := sqlx.In(selectMessages+` WHERE m.id IN (?) ORDER BY m.id ASC`, ids)
	if err != nil {
		return nil, err
	}

	msgs := make([]model.Message, 0, len(ids))
	if err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *SQLStore) Responses(ctx context.Context, parentID int64) ([]model.Message, error) {
	msgs := []model.Message{}
	err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(selectMessages+`
		WHERE m.in_response_to_id = ?
		ORDER BY m.id ASC
	`), parentID)
	return msgs, err
}

func (s *SQLStore) SetApplication(ctx context.Context, id int64, app string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE messages SET application = ?, updated = ? WHERE id = ?
	`), app, s.now(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func (s *SQLStore) Transition(ctx context.Context, id int64, to model.Status) (*model.Message, error) {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.transitionTx(ctx, tx, id, to)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *SQLStore) Claim(ctx context.Context, id int64, staleBefore time.Time) (*model.Message, error) {
	var claimed int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		UPDATE messages
		SET status = ?, updated = ?
		WHERE id = ?
		  AND direction = ?
		  AND (status IN (?, ?) OR (status = ? AND updated <= ?))
		RETURNING id
	`),
		string(model.Locked),
		s.now(),
		id,
		string(model.Outgoing),
		string(model.Queued),
		string(model.Errored),
		string(model.Locked),
		staleBefore.UTC(),
	).Scan(&claimed)

	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == model.Locked {
			return nil, fmt.Errorf("message %d: %w", id, model.ErrAlreadyClaimed)
		}
		return nil, fmt.Errorf("claim message %d: %w: %s -> %s",
			id, model.ErrInvalidTransition, current.Status.Name(), model.Locked.Name())
	}
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, claimed)
}

func (s *SQLStore) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.transitionTx(ctx, tx, id, model.Sent); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE messages SET sent = ? WHERE id = ?`), at.UTC(), id)
		return err
	})
}

func (s *SQLStore) RecordFailure(ctx context.Context, id int64, to model.Status, log string) error {
	if to != model.Errored && to != model.PermanentlyFailed {
		return fmt.Errorf("%w: failure status must be errored or failed, got %s", model.ErrValidation, to.Name())
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.transitionTx(ctx, tx, id, to); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO delivery_errors (message_id, log, created_on) VALUES (?, ?, ?)
		`), id, log, s.now())
		return err
	})
}

func (s *SQLStore) CountDeliveryErrors(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM delivery_errors WHERE message_id = ?`), id)
	return n, err
}

func (s *SQLStore) DeliveryErrors(ctx context.Context, id int64) ([]model.DeliveryError, error) {
	out := []model.DeliveryError{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT id, message_id, log, created_on
		FROM delivery_errors
		WHERE message_id = ?
		ORDER BY id ASC
	`), id)
	return out, err
}

func (s *SQLStore) ListOutgoing(ctx context.Context, status model.Status, updatedBefore time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	query := `SELECT id FROM messages WHERE direction = ? AND status = ?`
	args := []any{string(model.Outgoing), string(status)}
	if !updatedBefore.IsZero() {
		query += ` AND updated <= ?`
		args = append(args, updatedBefore.UTC())
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	ids := []int64{}
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(query), args...)
	return ids, err
}

func (s *SQLStore) Outbox(ctx context.Context, backend string) ([]model.Message, error) {
	query := selectMessages + ` WHERE m.direction = ? AND m.status = ?`
	args := []any{string(model.Outgoing), string(model.Queued)}
	if backend != "" {
		query += ` AND LOWER(c.backend) = LOWER(?)`
		args = append(args, backend)
	}
	query += ` ORDER BY m.priority DESC, m.id ASC`

	msgs := []model.Message{}
	err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(query), args...)
	return msgs, err
}

func (s *SQLStore) MassText(ctx context.Context, text string, conns []model.Connection, status, batchStatus model.Status) (*model.MessageBatch, []model.Message, error) {
	if len(conns) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one connection is required", model.ErrValidation)
	}

	batch := &model.MessageBatch{Status: batchStatus}
	var ids []int64

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.QueryRowxContext(ctx, tx.Rebind(`
			INSERT INTO message_batches (status, name) VALUES (?, ?) RETURNING id
		`), string(batchStatus), batch.Name).Scan(&batch.ID); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		now := s.now()
		for start := 0; start < len(conns); start += massTextChunk {
			end := min(start+massTextChunk, len(conns))

			values := make([]string, 0, end-start)
			args := make([]any, 0, (end-start)*8)
			for _, c := range conns[start:end] {
				values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
				args = append(args, c.ID, text, string(model.Outgoing), string(status), now, now, model.DefaultPriority, batch.ID)
			}

			query := `INSERT INTO messages (connection_id, text, direction, status, date, updated, priority, batch_id) VALUES ` +
				strings.Join(values, ", ") + ` RETURNING id`

			var chunk []int64
			if err := tx.SelectContext(ctx, &chunk, tx.Rebind(query), args...); err != nil {
				return fmt.Errorf("insert batch messages: %w", err)
			}
			ids = append(ids, chunk...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	msgs, err := s.GetMany(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return batch, msgs, nil
}

func (s *SQLStore) GetBatch(ctx context.Context, id int64) (*model.MessageBatch, error) {
	var b model.MessageBatch
	err := s.db.GetContext(ctx, &b, s.db.Rebind(`SELECT id, status, name FROM message_batches WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLStore) ReleaseBatch(ctx context.Context, batchID int64) ([]int64, error) {
	ids := []int64{}
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`
		UPDATE messages
		SET status = ?, updated = ?
		WHERE batch_id = ? AND status = ?
		RETURNING id
	`), string(model.Queued), s.now(), batchID, string(model.Processing))
	return ids, err
}

// transitionTx reads the current status and moves to `to` if the state
// machine allows it. The guarded UPDATE fails the transition when another
// writer changed the status in between.
func (s *SQLStore) transitionTx(ctx context.Context, tx *sqlx.Tx, id int64, to model.Status) error {
	var current model.Status
	err := tx.GetContext(ctx, &current, tx.Rebind(`SELECT status FROM messages WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return err
	}

	if err := model.CheckTransition(current, to); err != nil {
		return fmt.Errorf("message %d: %w", id, err)
	}

	query := `UPDATE messages SET status = ?, updated = ?`
	now := s.now()
	args := []any{string(to), now}
	if to == model.Delivered {
		query += `, delivered = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(current))

	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %d changed concurrently: %w", id, model.ErrInvalidTransition)
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %d: %w", id, model.ErrNotFound)
	}
	return nil
}
