// Package mail renders and delivers the verification code mail.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"time"
	_ "time/tzdata"

	"emailissuer/pkg/email"
)

//go:embed templates/*.html
var templateFS embed.FS

// DefaultLocale is used when a locale has no template of its own.
const DefaultLocale = "en"

// CodeMessage is one code mail.
type CodeMessage struct {
	To        string
	Locale    string
	Code      string
	Link      string
	ExpiresAt time.Time
}

// Rendered is a ready-to-send mail.
type Rendered struct {
	Subject string
	HTML    string
}

// Renderer holds the parsed per-locale templates.
type Renderer struct {
	templates map[string]*template.Template
	location  *time.Location
}

// NewRenderer parses the embedded templates. Times are shown in loc.
func NewRenderer(loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := &Renderer{templates: make(map[string]*template.Template), location: loc}
	for _, locale := range []string{"en", "nl"} {
		name := "templates/code_" + locale + ".html"
		tmpl, err := template.ParseFS(templateFS, name)
		if err != nil {
			return nil, fmt.Errorf("parse mail template %s: %w", name, err)
		}
		r.templates[locale] = tmpl
	}
	return r, nil
}

// Render fills the template for msg.Locale, falling back to English.
func (r *Renderer) Render(msg CodeMessage) (*Rendered, error) {
	tmpl, ok := r.templates[msg.Locale]
	if !ok {
		tmpl = r.templates[DefaultLocale]
	}
	data := struct {
		Address   string
		Code      string
		Link      template.URL
		ExpiresAt string
	}{
		Address:   msg.To,
		Code:      msg.Code,
		Link:      template.URL(msg.Link),
		ExpiresAt: msg.ExpiresAt.In(r.location).Format("15:04"),
	}

	var subject, body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	if err := tmpl.ExecuteTemplate(&body, "body", data); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}
	return &Rendered{Subject: subject.String(), HTML: body.String()}, nil
}

// LogMailer logs instead of sending. For development.
type LogMailer struct {
	renderer *Renderer
	logger   *slog.Logger
}

func NewLogMailer(renderer *Renderer, logger *slog.Logger) *LogMailer {
	return &LogMailer{renderer: renderer, logger: logger}
}

func (m *LogMailer) SendCode(ctx context.Context, msg CodeMessage) error {
	rendered, err := m.renderer.Render(msg)
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "code mail (not sent)",
		"to", email.Mask(msg.To),
		"subject", rendered.Subject,
		"link", msg.Link,
	)
	return nil
}
