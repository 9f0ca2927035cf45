package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/LeventeLantos/sms-router/internal/model"
)

const DefaultTimeout = 10 * time.Second

// defaultBackend is the ROUTER_URLS entry used when a backend has no
// template of its own.
const defaultBackend = "default"

// maxBodyBytes caps how much of a gateway response is kept for the
// delivery log.
const maxBodyBytes = 64 << 10

var tokenPattern = regexp.MustCompile(`%%|%\((\w+)\)([sd])`)

// Params are the values substituted into a send URL template.
type Params struct {
	Backend   string
	Recipient string
	Text      string
	ID        int64
}

func (p Params) values() map[string]string {
	return map[string]string{
		"backend":   p.Backend,
		"recipient": p.Recipient,
		"text":      p.Text,
		"id":        strconv.FormatInt(p.ID, 10),
	}
}

// Result describes one gateway exchange. It is returned on failure too,
// filled as far as the request got.
type Result struct {
	URL        string
	StatusCode int
	Body       string
}

type GatewayClient struct {
	single    string
	byBackend map[string]string
	client    *http.Client
}

// NewGatewayClient sends through a single URL template or, when byBackend is
// non-empty, through the template registered for the message's backend.
func NewGatewayClient(single string, byBackend map[string]string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GatewayClient{
		single:    single,
		byBackend: byBackend,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *GatewayClient) template(backend string) (string, error) {
	if len(c.byBackend) == 0 {
		if c.single == "" {
			return "", fmt.Errorf("%w: no router url configured", model.ErrConfiguration)
		}
		return c.single, nil
	}

	if tmpl, ok := c.byBackend[backend]; ok {
		return tmpl, nil
	}
	if tmpl, ok := c.byBackend[defaultBackend]; ok {
		return tmpl, nil
	}
	return "", fmt.Errorf("%w: no router url mapping found for backend %q", model.ErrConfiguration, backend)
}

// BuildURL resolves the template for p.Backend and substitutes the
// query-escaped parameters into it.
func (c *GatewayClient) BuildURL(p Params) (string, error) {
	tmpl, err := c.template(p.Backend)
	if err != nil {
		return "", err
	}
	return expand(tmpl, p.values())
}

func expand(tmpl string, values map[string]string) (string, error) {
	var expandErr error

	out := tokenPattern.ReplaceAllStringFunc(tmpl, func(tok string) string {
		if tok == "%%" {
			return "%"
		}
		m := tokenPattern.FindStringSubmatch(tok)
		name, verb := m[1], m[2]

		v, ok := values[name]
		if !ok {
			if expandErr == nil {
				expandErr = fmt.Errorf("%w: unknown url parameter %q", model.ErrConfiguration, name)
			}
			return tok
		}
		if verb == "d" {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil && expandErr == nil {
				expandErr = fmt.Errorf("%w: url parameter %q is not a number", model.ErrConfiguration, name)
			}
		}
		return url.QueryEscape(v)
	})

	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

// Send performs the gateway GET. Any 2xx status is success; the response
// body is returned in the Result either way.
func (c *GatewayClient) Send(ctx context.Context, p Params) (*Result, error) {
	full, err := c.BuildURL(p)
	if err != nil {
		return nil, err
	}
	res := &Result{URL: full}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return res, fmt.Errorf("%w: invalid router url: %v", model.ErrConfiguration, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return res, fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	res.StatusCode = resp.StatusCode
	res.Body = string(body)
	if err != nil && !errors.Is(err, io.EOF) {
		return res, fmt.Errorf("%w: read body: %v", model.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, fmt.Errorf("%w: received status code: %d body=%q", model.ErrGatewayRejection, resp.StatusCode, res.Body)
	}
	return res, nil
}
