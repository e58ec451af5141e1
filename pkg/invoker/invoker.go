// Package invoker calls registered tools over HTTP.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nstogner/padawan/pkg/caller"
	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/store"
	"github.com/nstogner/padawan/pkg/telemetry"
)

// MissionHeader carries the mission ID on every tool request.
const MissionHeader = "x-padawan-mission"

const maxResponseBytes = 4 << 20

// InvocationError is returned when a tool responds with a non-2xx status.
type InvocationError struct {
	StatusCode int
	Body       string
}

func (e *InvocationError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 500 {
		body = body[:500] + "..."
	}
	return fmt.Sprintf("tool responded with status %d: %s", e.StatusCode, body)
}

// HTTPStatus lets the caller classify the failure.
func (e *InvocationError) HTTPStatus() int { return e.StatusCode }

// NetworkError is returned when the request could not be completed.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("tool request failed: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// Invoker performs tool calls. It is safe for concurrent use.
type Invoker struct {
	client     *http.Client
	caller     *caller.Caller
	tokens     store.TokenStore
	padawanAPI string
	metrics    *telemetry.Metrics
}

// Option customizes an Invoker.
type Option func(*Invoker)

// WithHTTPClient sets the client used for tool requests.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Invoker) { i.client = c }
}

// WithMetrics records tool latency.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(i *Invoker) { i.metrics = m }
}

// New creates an Invoker. tokens may be nil, in which case requests are sent
// without credentials. padawanAPI is substituted for {padawan_api} in URL
// templates.
func New(c *caller.Caller, tokens store.TokenStore, padawanAPI string, opts ...Option) *Invoker {
	i := &Invoker{
		client:     &http.Client{Timeout: 60 * time.Second},
		caller:     c,
		tokens:     tokens,
		padawanAPI: padawanAPI,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke calls the tool on behalf of the mission and returns the observation
// text.
func (i *Invoker) Invoke(ctx context.Context, t domain.Tool, missionID string, args domain.Args) (string, error) {
	start := time.Now()
	defer func() { i.metrics.ObserveTool(t.Name, time.Since(start)) }()

	return caller.Call(ctx, i.caller, "tool", func(ctx context.Context) (string, error) {
		return i.invokeOnce(ctx, t, missionID, args)
	})
}

func (i *Invoker) invokeOnce(ctx context.Context, t domain.Tool, missionID string, args domain.Args) (string, error) {
	req, err := i.buildRequest(ctx, t, missionID, args)
	if err != nil {
		return "", err
	}

	slog.Debug("Invoking tool", "tool", t.Name, "method", req.Method, "url", req.URL.Redacted(), "missionID", missionID)
	resp, err := i.client.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &InvocationError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return string(body), nil
	}
	if t.Format != "" {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var data any
		if err := dec.Decode(&data); err != nil {
			return "", caller.Permanent(fmt.Errorf("decoding tool response: %w", err))
		}
		out, err := RenderFormat(t.Format, data)
		if err != nil {
			return "", caller.Permanent(err)
		}
		return out, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return string(body), nil
	}
	return buf.String(), nil
}

func (i *Invoker) buildRequest(ctx context.Context, t domain.Tool, missionID string, args domain.Args) (*http.Request, error) {
	rendered, used, err := RenderURL(t.API, args, i.padawanAPI)
	if err != nil {
		return nil, caller.Permanent(err)
	}
	u, err := url.Parse(rendered)
	if err != nil {
		return nil, caller.Permanent(fmt.Errorf("parsing tool url: %w", err))
	}

	var rest domain.Args
	for _, a := range args {
		if !used[a.Name] {
			rest = append(rest, a)
		}
	}

	method := strings.ToUpper(t.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if q := encodeQuery(rest); q != "" {
			if u.RawQuery != "" {
				u.RawQuery += "&" + q
			} else {
				u.RawQuery = q
			}
		}
	default:
		b, err := rest.MarshalJSON()
		if err != nil {
			return nil, caller.Permanent(fmt.Errorf("encoding tool arguments: %w", err))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, caller.Permanent(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set(MissionHeader, missionID)

	if i.tokens != nil {
		token, err := i.tokens.Token(ctx, u.Hostname())
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("looking up token for %s: %w", u.Hostname(), err)
		default:
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// encodeQuery encodes args in their original order, one parameter per key.
func encodeQuery(args domain.Args) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, url.QueryEscape(a.Name)+"="+url.QueryEscape(domain.FormatScalar(a.Value)))
	}
	return strings.Join(parts, "&")
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
