package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"emailissuer/internal/mailverify/models"
	"emailissuer/internal/platform/middleware"
	dErrors "emailissuer/pkg/domain-errors"
	"emailissuer/pkg/email"
	"emailissuer/pkg/enrollapi"
	"emailissuer/pkg/platform/httputil"
	"emailissuer/pkg/platform/middleware/metadata"
	"emailissuer/pkg/platform/middleware/requesttime"
	"emailissuer/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=../mocks/handler_mocks.go -package=mocks

// Service is the enrollment backend as the handler sees it.
type Service interface {
	Send(ctx context.Context, cmd models.SendCommand) error
	Verify(ctx context.Context, address, token string) (*models.VerifyResult, error)
	Done(ctx context.Context, address string) error
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	svc      Service
	logger   *slog.Logger
	health   map[string]HealthCheck
	throttle func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithHealthCheck adds a named dependency to GET /api/health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.health[name] = check }
}

// WithThrottle guards the mutating endpoints with a global throttle.
func WithThrottle(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.throttle = mw }
}

func New(svc Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		svc:    svc,
		logger: logger,
		health: make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(metadata.ClientMetadata)
	api.Use(requesttime.Middleware)
	api.Use(middleware.Logger(h.logger))

	api.Get(enrollapi.PathHealth, h.handleHealth)
	api.Group(func(r chi.Router) {
		if h.throttle != nil {
			r.Use(h.throttle)
		}
		r.Post(enrollapi.PathSend, h.handleSend)
		r.Post(enrollapi.PathVerify, h.handleVerify)
		r.Post(enrollapi.PathDone, h.handleDone)
	})

	r.Mount("/", api)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enrollapi.SendRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid send request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	err := h.svc.Send(ctx, models.SendCommand{
		Address: req.Address,
		Locale:  req.Locale,
		IP:      requestcontext.ClientIP(ctx),
	})
	if err != nil {
		h.writeServiceError(ctx, w, "send", req.Address, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, enrollapi.SendResponse{Message: enrollapi.MessageEmailSent})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enrollapi.VerifyRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid verify request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.svc.Verify(ctx, req.Address, req.Token)
	if err != nil {
		h.writeServiceError(ctx, w, "verify", req.Address, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, enrollapi.VerifyResponse{JWT: res.JWT, SessionURL: res.SessionURL})
}

// handleDone always answers 204 so the endpoint cannot be used to probe
// which addresses verified recently.
func (h *Handler) handleDone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enrollapi.DoneRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid done request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	} else if err := h.svc.Done(ctx, req.Address); err != nil {
		h.logger.ErrorContext(ctx, "failed to complete enrollment",
			"request_id", requestcontext.RequestID(ctx),
			"subject", email.Mask(req.Address),
			"error", err.Error(),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err.Error())
			status[name] = "unavailable"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	httputil.WriteJSON(w, code, status)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op, address string, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"op", op,
		"subject", email.Mask(address),
		"error", err.Error(),
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "request failed", attrs...)
	} else {
		h.logger.InfoContext(ctx, "request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
