package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Session status values reported by the wallet server.
const (
	StatusInitialized = "INITIALIZED"
	StatusPairing     = "PAIRING"
	StatusConnected   = "CONNECTED"
	StatusDone        = "DONE"
	StatusCancelled   = "CANCELLED"
	StatusTimeout     = "TIMEOUT"
)

// Pointer is what the wallet app needs to join the session.
type Pointer struct {
	URL        string `json:"u"`
	SessionTyp string `json:"irmaqr"`
}

type startResponse struct {
	SessionPtr Pointer `json:"sessionPtr"`
	Token      string  `json:"token"`
}

// HTTPLauncher starts sessions on a wallet server and polls their status.
type HTTPLauncher struct {
	client       *http.Client
	pollInterval time.Duration
	maxPollErrs  int
	onPointer    func(Pointer)
	logger       *slog.Logger
}

type LauncherOption func(*HTTPLauncher)

func WithHTTPClient(c *http.Client) LauncherOption {
	return func(l *HTTPLauncher) { l.client = c }
}

func WithPollInterval(d time.Duration) LauncherOption {
	return func(l *HTTPLauncher) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithPointerHandler receives the session pointer once the session exists.
func WithPointerHandler(fn func(Pointer)) LauncherOption {
	return func(l *HTTPLauncher) { l.onPointer = fn }
}

func WithLauncherLogger(logger *slog.Logger) LauncherOption {
	return func(l *HTTPLauncher) { l.logger = logger }
}

func NewHTTPLauncher(opts ...LauncherOption) *HTTPLauncher {
	l := &HTTPLauncher{
		client:       &http.Client{Timeout: 15 * time.Second},
		pollInterval: time.Second,
		maxPollErrs:  3,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch posts the signed session request and starts polling.
func (l *HTTPLauncher) Launch(ctx context.Context, d Descriptor) (Session, error) {
	base := strings.TrimSuffix(d.SessionURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/session", strings.NewReader(d.StartToken))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("start session: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var started startResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if started.Token == "" {
		return nil, errors.New("start session: no session token")
	}
	if l.onPointer != nil {
		l.onPointer(started.SessionPtr)
	}

	s := &httpSession{
		launcher:  l,
		statusURL: base + "/session/" + started.Token + "/status",
		deleteURL: base + "/session/" + started.Token,
		result:    make(chan Outcome, 1),
		cancel:    make(chan struct{}),
	}
	go s.poll()
	return s, nil
}

type httpSession struct {
	launcher   *HTTPLauncher
	statusURL  string
	deleteURL  string
	result     chan Outcome
	cancel     chan struct{}
	cancelOnce sync.Once
}

func (s *httpSession) Result() <-chan Outcome { return s.result }

// Cancel stops polling, asks the server to drop the session and reports Cancelled.
func (s *httpSession) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancel)
		go s.abort()
	})
}

func (s *httpSession) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.deleteURL, nil)
	if err != nil {
		return
	}
	resp, err := s.launcher.client.Do(req)
	if err != nil {
		s.launcher.logger.Debug("session abort failed", "error", err)
		return
	}
	resp.Body.Close()
}

func (s *httpSession) poll() {
	ticker := time.NewTicker(s.launcher.pollInterval)
	defer ticker.Stop()

	errs := 0
	for {
		select {
		case <-s.cancel:
			s.result <- Cancelled()
			return
		case <-ticker.C:
		}

		status, err := s.fetchStatus()
		if err != nil {
			errs++
			s.launcher.logger.Debug("session status poll failed", "error", err, "attempt", errs)
			if errs >= s.launcher.maxPollErrs {
				s.result <- Failed("session status unavailable", err)
				return
			}
			continue
		}
		errs = 0

		if out, done := mapStatus(status); done {
			s.result <- out
			return
		}
	}
}

func (s *httpSession) fetchStatus() (string, error) {
	timeout := 10 * time.Second
	if t := s.launcher.client.Timeout; t > 0 {
		timeout = t
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go func() {
		select {
		case <-s.cancel:
			cancel()
		case <-ctx.Done():
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.statusURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.launcher.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	return parseStatus(raw), nil
}

// parseStatus accepts both a JSON string ("DONE") and bare text.
func parseStatus(raw []byte) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(strings.TrimSpace(string(raw)))
}

func mapStatus(status string) (Outcome, bool) {
	switch status {
	case StatusInitialized, StatusPairing, StatusConnected:
		return Outcome{}, false
	case StatusDone:
		return Success(), true
	case StatusCancelled:
		return Cancelled(), true
	case StatusTimeout:
		return Failed("session timed out", nil), true
	default:
		return Failed("unexpected session status "+status, nil), true
	}
}
