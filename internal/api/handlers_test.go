package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/sms-router/internal/apps"
	"github.com/LeventeLantos/sms-router/internal/cache"
	"github.com/LeventeLantos/sms-router/internal/metrics"
	"github.com/LeventeLantos/sms-router/internal/model"
	"github.com/LeventeLantos/sms-router/internal/repo"
	"github.com/LeventeLantos/sms-router/internal/repo/repotest"
	"github.com/LeventeLantos/sms-router/internal/router"
	"github.com/LeventeLantos/sms-router/internal/scheduler"
	"github.com/LeventeLantos/sms-router/internal/service"
)

type testServer struct {
	e     *echo.Echo
	store *repo.SQLStore
	db    *sqlx.DB
	sched *scheduler.Scheduler
}

type serverOpts struct {
	password  string
	silent    bool
	blacklist []string
	receipts  cache.ReceiptCache
}

func newTestServer(t *testing.T, so serverOpts) *testServer {
	t.Helper()

	store, db := repotest.Open(t)
	m := metrics.New()

	list := []router.App{apps.Echo{}}
	if len(so.blacklist) > 0 {
		list = append([]router.App{apps.NewBlacklist(so.blacklist)}, list...)
	}
	r := router.New(store, list, nil, m)

	batches := service.NewBatchSender(store, m)
	batches.Subscribe("dispatch", service.DispatchBatch(store, nil))

	// Long interval so only the immediate tick happens (noop anyway).
	s, err := scheduler.New(time.Hour, func(context.Context) error { return nil }, scheduler.Options{})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	h := NewHandler(r, batches, store, s, so.silent)
	if so.receipts != nil {
		h.WithReceipts(so.receipts)
	}
	e := NewServer(h, Options{Password: so.password, Registry: m.Registry})
	return &testServer{e: e, store: store, db: db, sched: s}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	ts.e.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()

	if rr.Code != code {
		t.Fatalf("expected status %d, got %d body=%q", code, rr.Code, rr.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	rr := ts.do(t, http.MethodGet, "/v1/health", "")
	expectCode(t, rr, http.StatusOK)

	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	steps := []struct {
		method  string
		path    string
		running bool
	}{
		{http.MethodGet, "/v1/scheduler/status", false},
		{http.MethodPost, "/v1/scheduler/start", true},
		{http.MethodPost, "/v1/scheduler/stop", false},
	}

	for _, step := range steps {
		rr := ts.do(t, step.method, step.path, "")
		expectCode(t, rr, http.StatusOK)

		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running != step.running {
			t.Fatalf("%s: expected running=%v, got %v", step.path, step.running, body)
		}
	}
}

func TestReceiveOutboxDelivered(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	rr := ts.do(t, http.MethodGet, "/router/outbox", "")
	expectCode(t, rr, http.StatusOK)
	if outbox := decodeJSON(t, rr)["outbox"].([]any); len(outbox) != 0 {
		t.Fatalf("expected empty outbox, got %v", outbox)
	}

	rr = ts.do(t, http.MethodGet, "/router/receive?backend=test_backend&sender=2067799294&message=test", "")
	expectCode(t, rr, http.StatusOK)

	body := decodeJSON(t, rr)
	msg := body["message"].(map[string]any)
	if msg["direction"] != "I" || msg["status"] != "H" || msg["backend"] != "test_backend" ||
		msg["contact"] != "2067799294" || msg["text"] != "test" {
		t.Fatalf("unexpected message json: %v", msg)
	}
	if body["status"] != "Message handled." {
		t.Fatalf("unexpected status: %v", body["status"])
	}
	if responses := body["responses"].([]any); len(responses) != 1 {
		t.Fatalf("expected one response, got %v", responses)
	}

	// reading the outbox twice does not drain it
	var out map[string]any
	for i := 0; i < 2; i++ {
		rr = ts.do(t, http.MethodGet, "/router/outbox", "")
		expectCode(t, rr, http.StatusOK)
		outbox := decodeJSON(t, rr)["outbox"].([]any)
		if len(outbox) != 1 {
			t.Fatalf("expected one queued message, got %v", outbox)
		}
		out = outbox[0].(map[string]any)
	}
	if out["direction"] != "O" || out["status"] != "Q" || out["text"] != "echo test" {
		t.Fatalf("unexpected outbox entry: %v", out)
	}

	rr = ts.do(t, http.MethodGet, "/router/delivered", "")
	expectCode(t, rr, http.StatusBadRequest)

	id := strconv.FormatInt(int64(out["id"].(float64)), 10)
	rr = ts.do(t, http.MethodGet, "/router/delivered?message_id="+id, "")
	expectCode(t, rr, http.StatusOK)

	got, err := ts.store.Get(context.Background(), int64(out["id"].(float64)))
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != model.Delivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}

	rr = ts.do(t, http.MethodGet, "/router/outbox", "")
	if outbox := decodeJSON(t, rr)["outbox"].([]any); len(outbox) != 0 {
		t.Fatalf("expected empty outbox after delivery, got %v", outbox)
	}

	rr = ts.do(t, http.MethodGet, "/router/delivered?message_id=9999", "")
	expectCode(t, rr, http.StatusNotFound)
}

func TestDelivered_InvalidTransition(t *testing.T) {
	ts := newTestServer(t, serverOpts{})
	ctx := context.Background()

	conn := repotest.Connection(t, ts.store, "kannel", "1")
	m := repotest.Outgoing(t, ts.store, conn, "hi", model.Queued)
	if err := ts.store.RecordFailure(ctx, m.ID, model.Errored, "boom"); err != nil {
		t.Fatalf("RecordFailure() error: %v", err)
	}

	rr := ts.do(t, http.MethodGet, "/router/delivered?message_id="+strconv.FormatInt(m.ID, 10), "")
	expectCode(t, rr, http.StatusConflict)
}

func TestReceive_EmptyMessage(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	rr := ts.do(t, http.MethodGet, "/router/receive?backend=test_backend&sender=2067799294&message=", "")
	expectCode(t, rr, http.StatusOK)

	msg := decodeJSON(t, rr)["message"].(map[string]any)
	if msg["text"] != "" || msg["status"] != "H" {
		t.Fatalf("unexpected message json: %v", msg)
	}
}

func TestReceive_MissingParams(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	expectCode(t, ts.do(t, http.MethodGet, "/router/receive?sender=1&message=x", ""), http.StatusBadRequest)
	expectCode(t, ts.do(t, http.MethodGet, "/router/receive?backend=b&message=x", ""), http.StatusBadRequest)
}

func TestReceive_Silent(t *testing.T) {
	ts := newTestServer(t, serverOpts{silent: true})

	rr := ts.do(t, http.MethodGet, "/router/receive?backend=b&sender=1&message=x", "")
	expectCode(t, rr, http.StatusOK)
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rr.Body.String())
	}

	rr = ts.do(t, http.MethodGet, "/router/receive?backend=b&sender=1&message=x&echo=true", "")
	expectCode(t, rr, http.StatusOK)
	if _, ok := decodeJSON(t, rr)["message"]; !ok {
		t.Fatalf("expected message json with echo=true")
	}
}

func TestSecurity(t *testing.T) {
	ts := newTestServer(t, serverOpts{password: "foo"})

	expectCode(t, ts.do(t, http.MethodGet, "/router/outbox", ""), http.StatusBadRequest)
	expectCode(t, ts.do(t, http.MethodGet, "/router/outbox?password=bar", ""), http.StatusBadRequest)
	expectCode(t, ts.do(t, http.MethodGet, "/router/outbox?password=foo", ""), http.StatusOK)

	rr := ts.do(t, http.MethodGet, "/router/receive?backend=test_backend&sender=2067799294&message=test", "")
	expectCode(t, rr, http.StatusBadRequest)
	if n := repotest.CountRows(t, ts.db, "messages"); n != 0 {
		t.Fatalf("expected message not to be processed, got %d rows", n)
	}

	rr = ts.do(t, http.MethodGet, "/router/receive?backend=test_backend&sender=2067799294&message=test&password=foo", "")
	expectCode(t, rr, http.StatusOK)
	if n := repotest.CountRows(t, ts.db, "messages"); n != 2 {
		t.Fatalf("expected incoming and outgoing message, got %d rows", n)
	}

	// health checks are not behind the password
	expectCode(t, ts.do(t, http.MethodGet, "/v1/health", ""), http.StatusOK)
}

func TestCanSend(t *testing.T) {
	ts := newTestServer(t, serverOpts{blacklist: []string{"666"}})

	blocked := repotest.Outgoing(t, ts.store, repotest.Connection(t, ts.store, "kannel", "666"), "x", model.Queued)
	allowed := repotest.Outgoing(t, ts.store, repotest.Connection(t, ts.store, "kannel", "777"), "x", model.Queued)

	expectCode(t, ts.do(t, http.MethodGet, "/router/can_send/"+strconv.FormatInt(blocked.ID, 10), ""), http.StatusForbidden)
	expectCode(t, ts.do(t, http.MethodGet, "/router/can_send/"+strconv.FormatInt(allowed.ID, 10), ""), http.StatusOK)
	expectCode(t, ts.do(t, http.MethodGet, "/router/can_send/9999", ""), http.StatusNotFound)
	expectCode(t, ts.do(t, http.MethodGet, "/router/can_send/abc", ""), http.StatusBadRequest)
}

func TestMassText(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	a := repotest.Connection(t, ts.store, "kannel", "1")
	b := repotest.Connection(t, ts.store, "kannel", "2")

	payload := `{"text":"hello all","connection_ids":[` +
		strconv.FormatInt(a.ID, 10) + `,` + strconv.FormatInt(b.ID, 10) + `,` + strconv.FormatInt(a.ID, 10) + `]}`

	rr := ts.do(t, http.MethodPost, "/router/mass_text", payload)
	expectCode(t, rr, http.StatusCreated)

	body := decodeJSON(t, rr)
	if msgs := body["messages"].([]any); len(msgs) != 2 {
		t.Fatalf("expected 2 deduplicated messages, got %v", msgs)
	}

	// the dispatch subscriber released the batch into the outbox
	rr = ts.do(t, http.MethodGet, "/router/outbox", "")
	if outbox := decodeJSON(t, rr)["outbox"].([]any); len(outbox) != 2 {
		t.Fatalf("expected batch messages in outbox, got %v", outbox)
	}

	expectCode(t, ts.do(t, http.MethodPost, "/router/mass_text", `{"text":"x","connection_ids":[9999]}`), http.StatusBadRequest)
	expectCode(t, ts.do(t, http.MethodPost, "/router/mass_text", `{"text":"x","connection_ids":[]}`), http.StatusBadRequest)
	expectCode(t, ts.do(t, http.MethodPost, "/router/mass_text",
		`{"text":"x","connection_ids":[`+strconv.FormatInt(a.ID, 10)+`],"status":"bogus"}`), http.StatusBadRequest)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	expectCode(t, ts.do(t, http.MethodGet, "/router/receive?backend=b&sender=1&message=x", ""), http.StatusOK)

	rr := ts.do(t, http.MethodGet, "/metrics", "")
	expectCode(t, rr, http.StatusOK)

	out := rr.Body.String()
	for _, want := range []string{"router_messages_incoming_total 1", "http_requests_total"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestReceipt(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	receipts := cache.NewRedisCache(rdb, time.Hour)

	ts := newTestServer(t, serverOpts{receipts: receipts})

	err := receipts.StoreReceipt(context.Background(), cache.Receipt{
		MessageID: 7,
		Backend:   "kannel",
		Response:  "0: Accepted for delivery",
		SentAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("StoreReceipt() error: %v", err)
	}

	rr := ts.do(t, http.MethodGet, "/router/receipt/7", "")
	expectCode(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if body["response"] != "0: Accepted for delivery" || body["backend"] != "kannel" {
		t.Fatalf("unexpected receipt json: %v", body)
	}

	expectCode(t, ts.do(t, http.MethodGet, "/router/receipt/8", ""), http.StatusNotFound)
	expectCode(t, ts.do(t, http.MethodGet, "/router/receipt/abc", ""), http.StatusBadRequest)
}

func TestReceipt_WithoutCache(t *testing.T) {
	ts := newTestServer(t, serverOpts{})

	expectCode(t, ts.do(t, http.MethodGet, "/router/receipt/1", ""), http.StatusNotFound)
}
