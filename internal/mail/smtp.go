package mail

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig addresses the submission server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer submits mails to an SMTP relay.
type SMTPMailer struct {
	cfg      SMTPConfig
	renderer *Renderer
	send     sendFunc
	clock    func() time.Time
}

func NewSMTPMailer(cfg SMTPConfig, renderer *Renderer) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, renderer: renderer, send: smtp.SendMail, clock: time.Now}
}

func (m *SMTPMailer) SendCode(ctx context.Context, msg CodeMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rendered, err := m.renderer.Render(msg)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	body := m.compose(msg.To, rendered)
	if err := m.send(addr, auth, m.cfg.From, []string{msg.To}, body); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) compose(to string, rendered *Rendered) []byte {
	var b strings.Builder
	b.WriteString("From: " + m.cfg.From + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", rendered.Subject) + "\r\n")
	b.WriteString("Date: " + m.clock().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(rendered.HTML)
	return []byte(b.String())
}
