package mail

import (
	"bytes"
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emailissuer/internal/platform/logger"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	r, err := NewRenderer(loc)
	require.NoError(t, err)
	return r
}

var msg = CodeMessage{
	To:        "alice@example.org",
	Locale:    "nl",
	Code:      "K7PX2M",
	Link:      "https://enroll.example.org/nl/enroll#verify:alice%40example.org:K7PX2M:1767225600",
	ExpiresAt: time.Date(2026, 1, 1, 12, 15, 0, 0, time.UTC),
}

func TestRender(t *testing.T) {
	r := newRenderer(t)

	t.Run("locale template", func(t *testing.T) {
		out, err := r.Render(msg)
		require.NoError(t, err)
		assert.Equal(t, "Uw verificatiecode voor e-mail", out.Subject)
		assert.Contains(t, out.HTML, "K7PX2M")
		assert.Contains(t, out.HTML, "13:15")
		assert.Contains(t, out.HTML, `href="https://enroll.example.org/nl/enroll#verify:alice%40example.org:K7PX2M:1767225600"`)
	})

	t.Run("unknown locale falls back to english", func(t *testing.T) {
		m := msg
		m.Locale = "de"
		out, err := r.Render(m)
		require.NoError(t, err)
		assert.Equal(t, "Your email verification code", out.Subject)
	})

	t.Run("address is escaped", func(t *testing.T) {
		m := msg
		m.To = "<b>x</b>@example.org"
		out, err := r.Render(m)
		require.NoError(t, err)
		assert.NotContains(t, out.HTML, "<b>x</b>")
	})
}

func TestSMTPMailer(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotBody []byte
		gotAuth smtp.Auth
	)
	m := NewSMTPMailer(SMTPConfig{
		Host:     "smtp.example.org",
		Port:     587,
		Username: "mailer",
		Password: "secret",
		From:     "noreply@example.org",
	}, newRenderer(t))
	m.send = func(addr string, a smtp.Auth, _ string, to []string, body []byte) error {
		gotAddr, gotAuth, gotTo, gotBody = addr, a, to, body
		return nil
	}

	require.NoError(t, m.SendCode(context.Background(), msg))
	assert.Equal(t, "smtp.example.org:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, []string{"alice@example.org"}, gotTo)
	assert.True(t, bytes.HasPrefix(gotBody, []byte("From: noreply@example.org\r\n")))
	assert.Contains(t, string(gotBody), "Content-Type: text/html")

	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 busy") }
	assert.ErrorContains(t, m.SendCode(context.Background(), msg), "421 busy")
}

func TestLogMailer(t *testing.T) {
	m := NewLogMailer(newRenderer(t), logger.Discard())
	assert.NoError(t, m.SendCode(context.Background(), msg))
}
