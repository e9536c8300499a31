// Package messages resolves message keys and classified errors into
// user-facing text. Catalogs are embedded YAML files, one per locale.
package messages

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // rate-limit times are rendered in a fixed zone

	"gopkg.in/yaml.v3"

	dErrors "emailissuer/pkg/domain-errors"
)

//go:embed catalogs/*.yaml
var catalogFS embed.FS

// Local message keys. Wire error strings double as keys.
const (
	KeyEmailSent        = "email_sent"
	KeyAddSuccess       = "email_add_success"
	KeyAddCancel        = "email_add_cancel"
	KeyAddError         = "email_add_error"
	KeyEmailInvalid     = "error_email_invalid"
	KeyCodeFormat       = "error_code_format"
	KeyLinkMalformed    = "error_link_malformed"
	KeyLinkExpired      = "error_link_expired"
	KeyRateLimit        = "error_ratelimit"
	KeyRateLimitLater   = "error_ratelimit_later"
	KeyInternal         = "error_internal"
	KeyDefault          = "error_default"
	KeyVerifyingToken   = "verifying_token"
	KeySendingEmail     = "sending_email"
	KeySessionPointer   = "session_pointer"
	DefaultLocale       = "en"
	DefaultTimeZone     = "Europe/Amsterdam"
	rateLimitTimeLayout = "15:04:05"
)

// ErrUnknownLocale is returned by Load for a locale without a catalog.
var ErrUnknownLocale = errors.New("unknown locale")

type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

var (
	loadOnce sync.Once
	catalogs map[string]map[string]string
	loadErr  error
)

func loadAll() {
	catalogs = make(map[string]map[string]string)
	entries, err := catalogFS.ReadDir("catalogs")
	if err != nil {
		loadErr = err
		return
	}
	for _, e := range entries {
		raw, err := catalogFS.ReadFile("catalogs/" + e.Name())
		if err != nil {
			loadErr = err
			return
		}
		var f catalogFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			loadErr = fmt.Errorf("parse %s: %w", e.Name(), err)
			return
		}
		catalogs[f.Locale] = f.Messages
	}
}

// Locales lists the shipped catalogs.
func Locales() []string {
	loadOnce.Do(loadAll)
	out := make([]string, 0, len(catalogs))
	for l := range catalogs {
		out = append(out, l)
	}
	return out
}

// Catalog renders messages for one locale.
type Catalog struct {
	locale     string
	entries    map[string]string
	fallback   map[string]string
	loc        *time.Location
	codeLength int
}

type Option func(*Catalog)

// WithLocation sets the zone rate-limit retry times are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(c *Catalog) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithCodeLength sets the length quoted by the code-format message.
func WithCodeLength(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.codeLength = n
		}
	}
}

// Load returns the catalog for locale. Unknown locales return
// ErrUnknownLocale together with the default catalog.
func Load(locale string, opts ...Option) (*Catalog, error) {
	loadOnce.Do(loadAll)
	if loadErr != nil {
		return nil, loadErr
	}

	loc, err := time.LoadLocation(DefaultTimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone: %w", err)
	}
	c := &Catalog{
		locale:     DefaultLocale,
		entries:    catalogs[DefaultLocale],
		fallback:   catalogs[DefaultLocale],
		loc:        loc,
		codeLength: 6,
	}
	for _, opt := range opts {
		opt(c)
	}

	locale = strings.ToLower(strings.TrimSpace(locale))
	entries, ok := catalogs[locale]
	if !ok {
		return c, fmt.Errorf("%w: %q", ErrUnknownLocale, locale)
	}
	c.locale = locale
	c.entries = entries
	return c, nil
}

// MustLoad is Load that falls back to the default catalog on an unknown locale
// and panics only if the embedded catalogs are broken.
func MustLoad(locale string, opts ...Option) *Catalog {
	c, err := Load(locale, opts...)
	if c == nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Locale() string { return c.locale }

// Text returns the message for key, falling back to the default locale and
// finally to the generic error message.
func (c *Catalog) Text(key string) string {
	if s, ok := c.entries[key]; ok {
		return c.expand(s)
	}
	if s, ok := c.fallback[key]; ok {
		return c.expand(s)
	}
	return c.entries[KeyDefault]
}

// Has reports whether key is a known message.
func (c *Catalog) Has(key string) bool {
	_, ok := c.fallback[key]
	return ok
}

func (c *Catalog) expand(s string) string {
	return strings.ReplaceAll(s, "{length}", fmt.Sprint(c.codeLength))
}

// RetryAt renders a rate-limit message with the wall-clock time the user may
// retry at.
func (c *Catalog) RetryAt(at time.Time) string {
	if at.IsZero() {
		return c.Text(KeyRateLimitLater)
	}
	return strings.ReplaceAll(c.Text(KeyRateLimit), "{time}", at.In(c.loc).Format(rateLimitTimeLayout))
}

// ForError renders a classified error. The wire code, when present, selects
// the message; otherwise the error kind does.
func (c *Catalog) ForError(err error) string {
	if err == nil {
		return ""
	}
	de := dErrors.As(err)
	if de.Code == dErrors.CodeRateLimited {
		return c.RetryAt(de.RetryAt)
	}
	if de.WireCode != "" && c.Has(de.WireCode) {
		return c.Text(de.WireCode)
	}
	switch de.Code {
	case dErrors.CodeValidation:
		return c.Text(KeyEmailInvalid)
	case dErrors.CodeAddressRejected:
		return c.Text("error_email_format")
	case dErrors.CodeTokenInvalid:
		return c.Text("error_token_invalid")
	case dErrors.CodeLinkExpired:
		return c.Text(KeyLinkExpired)
	case dErrors.CodeBotCheckFailed:
		return c.Text("error_captcha_failed")
	case dErrors.CodeIssuanceCancelled:
		return c.Text(KeyAddCancel)
	case dErrors.CodeIssuanceFailed:
		return c.Text(KeyAddError)
	default:
		return c.Text(KeyInternal)
	}
}
