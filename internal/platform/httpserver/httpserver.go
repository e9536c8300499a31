// Package httpserver builds the API server.
package httpserver

import (
	"log/slog"
	"net/http"
	"time"
)

// Timeouts bound every phase of a request. Enrollment bodies are tiny, so
// headers and bodies get short read windows.
type Timeouts struct {
	ReadHeader time.Duration
	Read       time.Duration
	Write      time.Duration
	Idle       time.Duration
}

// DefaultTimeouts leave room for a slow SMTP relay inside a send request.
var DefaultTimeouts = Timeouts{
	ReadHeader: 5 * time.Second,
	Read:       10 * time.Second,
	Write:      30 * time.Second,
	Idle:       60 * time.Second,
}

// New builds the server. Request headers are capped at 64 KiB and server
// errors go to logger.
func New(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	return NewWithTimeouts(addr, handler, logger, DefaultTimeouts)
}

func NewWithTimeouts(addr string, handler http.Handler, logger *slog.Logger, t Timeouts) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: t.ReadHeader,
		ReadTimeout:       t.Read,
		WriteTimeout:      t.Write,
		IdleTimeout:       t.Idle,
		MaxHeaderBytes:    64 << 10,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
