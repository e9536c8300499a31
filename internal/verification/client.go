// Package verification is the client side of the verification backend: it
// asks for a code to be mailed, trades a code for an issuance descriptor and
// reports completion.
package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"emailissuer/internal/issuance"
	dErrors "emailissuer/pkg/domain-errors"
	"emailissuer/pkg/email"
	"emailissuer/pkg/enrollapi"
)

const tracerName = "emailissuer/internal/verification"

// Client talks to the backend. It sets no timeout of its own; callers bound
// each call through the context.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clock      func() time.Time
	tracer     trace.Tracer
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithClock sets the clock used to turn Retry-After into a wall-clock time.
func WithClock(clock func() time.Time) Option {
	return func(cl *Client) { cl.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		clock:      time.Now,
		tracer:     otel.Tracer(tracerName),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestCode asks the backend to mail a code to address. No token comes back.
func (c *Client) RequestCode(ctx context.Context, address, locale string) error {
	ctx, span := c.tracer.Start(ctx, "verification.RequestCode")
	defer span.End()
	span.SetAttributes(attribute.String("enroll.locale", locale), attribute.String("enroll.domain", email.Domain(address)))

	err := c.post(ctx, enrollapi.PathSend, enrollapi.SendRequest{Address: address, Locale: locale}, nil)
	return c.finish(span, err)
}

// VerifyToken trades address and code for an issuance descriptor.
func (c *Client) VerifyToken(ctx context.Context, address, code string) (issuance.Descriptor, error) {
	ctx, span := c.tracer.Start(ctx, "verification.VerifyToken")
	defer span.End()
	span.SetAttributes(attribute.String("enroll.domain", email.Domain(address)))

	var resp enrollapi.VerifyResponse
	if err := c.post(ctx, enrollapi.PathVerify, enrollapi.VerifyRequest{Address: address, Token: code}, &resp); err != nil {
		return issuance.Descriptor{}, c.finish(span, err)
	}
	if resp.JWT == "" || resp.SessionURL == "" {
		return issuance.Descriptor{}, c.finish(span, dErrors.New(dErrors.CodeInternal, "verify response missing session"))
	}
	return issuance.Descriptor{SessionURL: resp.SessionURL, StartToken: resp.JWT}, c.finish(span, nil)
}

// NotifyDone tells the backend the attribute was issued. Best effort.
func (c *Client) NotifyDone(ctx context.Context, address string) error {
	ctx, span := c.tracer.Start(ctx, "verification.NotifyDone")
	defer span.End()
	return c.finish(span, c.post(ctx, enrollapi.PathDone, enrollapi.DoneRequest{Address: address}, nil))
}

func (c *Client) finish(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	return err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "verification backend unreachable", "path", path, "error", err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "transport failure")
	}
	defer resp.Body.Close()
	now := c.clock()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "read response")
	}

	if resp.StatusCode/100 != 2 {
		var eb enrollapi.ErrorResponse
		_ = json.Unmarshal(raw, &eb)
		werr := enrollapi.ErrorFromWire(resp.StatusCode, eb, resp.Header, now)
		c.logger.DebugContext(ctx, "verification backend rejected request",
			"path", path, "status", resp.StatusCode, "wire_code", werr.WireCode)
		return werr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "decode response")
	}
	return nil
}
