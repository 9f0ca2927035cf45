package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/LeventeLantos/sms-router/internal/cache"
	"github.com/LeventeLantos/sms-router/internal/model"
	"github.com/LeventeLantos/sms-router/internal/scheduler"
)

type MessageRouter interface {
	HandleIncoming(ctx context.Context, backend, sender, text string) (*model.Message, error)
	Outbox(ctx context.Context, backend string) ([]model.Message, error)
	MarkDelivered(ctx context.Context, id int64) (*model.Message, error)
	CanSend(ctx context.Context, id int64) (bool, error)
}

type MassTexter interface {
	MassText(ctx context.Context, text string, conns []model.Connection, status, batchStatus model.Status) (*model.MessageBatch, []model.Message, error)
}

type ConnectionLookup interface {
	GetConnection(ctx context.Context, id int64) (model.Connection, error)
}

type Scheduler interface {
	Start() bool
	Stop() bool
	Status() scheduler.Status
}

type Handler struct {
	router   MessageRouter
	batches  MassTexter
	conns    ConnectionLookup
	sched    Scheduler
	receipts cache.ReceiptCache
	silent   bool
}

// NewHandler wires the HTTP surface. When silent is set, /router/receive
// answers with an empty 200 unless the caller passes echo=true.
func NewHandler(r MessageRouter, b MassTexter, c ConnectionLookup, s Scheduler, silent bool) *Handler {
	return &Handler{router: r, batches: b, conns: c, sched: s, silent: silent}
}

// WithReceipts serves the gateway answers kept for sent messages at
// /router/receipt/:id.
func (h *Handler) WithReceipts(c cache.ReceiptCache) *Handler {
	h.receipts = c
	return h
}

// messageJSON is the wire shape relays and gateways consume.
type messageJSON struct {
	ID        int64  `json:"id"`
	Contact   string `json:"contact"`
	Backend   string `json:"backend"`
	Direction string `json:"direction"`
	Status    string `json:"status"`
	Text      string `json:"text"`
	Date      string `json:"date"`
}

func toJSON(m model.Message) messageJSON {
	return messageJSON{
		ID:        m.ID,
		Contact:   m.Connection.Identity,
		Backend:   m.Connection.Backend,
		Direction: string(m.Direction),
		Status:    string(m.Status),
		Text:      m.Text,
		Date:      m.Date.UTC().Format(time.RFC3339Nano),
	}
}

func toJSONList(msgs []model.Message) []messageJSON {
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toJSON(m))
	}
	return out
}

func (h *Handler) Receive(c echo.Context) error {
	backend := c.QueryParam("backend")
	sender := c.QueryParam("sender")
	if backend == "" || sender == "" {
		return fmt.Errorf("%w: backend and sender are required", model.ErrValidation)
	}

	msg, err := h.router.HandleIncoming(c.Request().Context(), backend, sender, c.QueryParam("message"))
	if err != nil {
		return err
	}

	echoBack, _ := strconv.ParseBool(c.QueryParam("echo"))
	if h.silent && !echoBack {
		return c.NoContent(http.StatusOK)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"message":   toJSON(*msg),
		"responses": toJSONList(msg.Responses),
		"status":    "Message handled.",
	})
}

func (h *Handler) Outbox(c echo.Context) error {
	msgs, err := h.router.Outbox(c.Request().Context(), c.QueryParam("backend"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"outbox": toJSONList(msgs),
		"status": "Outbox follows.",
	})
}

func (h *Handler) Delivered(c echo.Context) error {
	id, err := strconv.ParseInt(c.QueryParam("message_id"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: message_id must be an integer", model.ErrValidation)
	}

	if _, err := h.router.MarkDelivered(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "Message marked as sent."})
}

func (h *Handler) CanSend(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid message id", model.ErrValidation)
	}

	ok, err := h.router.CanSend(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !ok {
		return c.NoContent(http.StatusForbidden)
	}
	return c.NoContent(http.StatusOK)
}

func (h *Handler) Receipt(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid message id", model.ErrValidation)
	}
	if h.receipts == nil {
		return fmt.Errorf("receipt %d: %w", id, model.ErrNotFound)
	}
	r, err := h.receipts.Receipt(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

type massTextRequest struct {
	Text          string  `json:"text"`
	ConnectionIDs []int64 `json:"connection_ids"`
	Status        string  `json:"status"`
	BatchStatus   string  `json:"batch_status"`
}

func (h *Handler) MassText(c echo.Context) error {
	var req massTextRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if req.Text == "" || len(req.ConnectionIDs) == 0 {
		return fmt.Errorf("%w: text and connection_ids are required", model.ErrValidation)
	}

	status, err := optionalStatus(req.Status)
	if err != nil {
		return err
	}
	batchStatus, err := optionalStatus(req.BatchStatus)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	conns := make([]model.Connection, 0, len(req.ConnectionIDs))
	for _, id := range req.ConnectionIDs {
		conn, err := h.conns.GetConnection(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("%w: unknown connection %d", model.ErrValidation, id)
		}
		if err != nil {
			return err
		}
		conns = append(conns, conn)
	}

	batch, msgs, err := h.batches.MassText(ctx, req.Text, conns, status, batchStatus)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"batch":    batch,
		"messages": toJSONList(msgs),
	})
}

func optionalStatus(raw string) (model.Status, error) {
	if raw == "" {
		return "", nil
	}
	return model.ParseStatus(raw)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(c echo.Context) error {
	h.sched.Start()
	return c.JSON(http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStop(c echo.Context) error {
	h.sched.Stop()
	return c.JSON(http.StatusOK, h.sched.Status())
}
