package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"emailissuer/internal/platform/logger"
)

func TestNewAppliesTimeouts(t *testing.T) {
	srv := New(":0", http.NotFoundHandler(), logger.Discard())

	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 30*time.Second, srv.WriteTimeout)
	assert.Equal(t, 64<<10, srv.MaxHeaderBytes)
	assert.NotNil(t, srv.ErrorLog)

	custom := NewWithTimeouts(":0", http.NotFoundHandler(), logger.Discard(), Timeouts{Read: time.Second})
	assert.Equal(t, time.Second, custom.ReadTimeout)
}
