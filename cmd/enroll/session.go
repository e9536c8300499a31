package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"emailissuer/internal/enrollment"
	"emailissuer/internal/issuance"
	"emailissuer/internal/messages"
	"emailissuer/internal/platform/logger"
	"emailissuer/internal/verification"
)

// session is one CLI run: a machine plus the presenter printing its transitions.
type session struct {
	machine *enrollment.Machine
	handoff *issuance.Handoff
	catalog *messages.Catalog
	out     io.Writer
	log     *slog.Logger
	// aborted is set once a transition points at the error destination.
	aborted bool
}

func newSession(v *viper.Viper, out, errOut io.Writer) (*session, error) {
	log := logger.NewWithWriter(errOut, v.GetString("log-level"), "text")

	loc, err := time.LoadLocation(v.GetString("tz"))
	if err != nil {
		return nil, fmt.Errorf("time zone: %w", err)
	}
	codeLength := v.GetInt("code-length")
	catalog, err := messages.Load(v.GetString("locale"), messages.WithLocation(loc), messages.WithCodeLength(codeLength))
	if errors.Is(err, messages.ErrUnknownLocale) {
		log.Warn("unknown locale, using default", "locale", v.GetString("locale"))
	} else if err != nil {
		return nil, err
	}

	s := &session{catalog: catalog, out: out, log: log}

	client := verification.NewClient(v.GetString("api"), verification.WithLogger(log))
	launcher := issuance.NewHTTPLauncher(
		issuance.WithPointerHandler(s.showPointer),
		issuance.WithPollInterval(v.GetDuration("poll-interval")),
		issuance.WithLauncherLogger(log),
	)
	s.handoff = issuance.NewHandoff(launcher, client, issuance.WithLogger(log))
	s.machine = enrollment.New(client, s.handoff,
		enrollment.WithLogger(log),
		enrollment.WithLocale(catalog.Locale()),
		enrollment.WithCodeLength(codeLength),
		enrollment.WithObserver(s.show),
	)
	return s, nil
}

// show prints the message for a resting status. Transient statuses repeat
// what the following resting status says.
func (s *session) show(t enrollment.Transition) {
	if t.Destination == enrollment.DestinationError {
		s.aborted = true
	}
	if t.To.Transient() {
		return
	}
	if t.Warning != nil {
		s.println(s.catalog.ForError(t.Warning))
	}
	switch {
	case t.MessageKey != "":
		s.println(s.catalog.Text(t.MessageKey))
	case t.Err != nil:
		s.println(s.catalog.ForError(t.Err))
	}
}

func (s *session) showPointer(p issuance.Pointer) {
	raw, err := json.Marshal(p)
	if err != nil {
		s.log.Warn("encode session pointer", "error", err)
		return
	}
	s.println(s.catalog.Text(messages.KeySessionPointer))
	s.println(string(raw))
}

func (s *session) println(line string) {
	fmt.Fprintln(s.out, line)
}

// openLink runs the deep-link path to a terminal status.
func (s *session) openLink(ctx context.Context, raw string) error {
	_ = s.machine.OpenLink(ctx, raw)
	return s.finish()
}

// interactive walks the machine from StatusEmpty, prompting on in. "back"
// steps back; end of input aborts.
func (s *session) interactive(ctx context.Context, in io.Reader, address string) error {
	lines := bufio.NewScanner(in)
	prompt := func(label string) (string, bool) {
		fmt.Fprint(s.out, label)
		if !lines.Scan() {
			return "", false
		}
		return strings.TrimSpace(lines.Text()), true
	}

	for !s.machine.Status().Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.aborted {
			return errNotEnrolled
		}

		switch s.machine.Status() {
		case enrollment.StatusEmpty:
			if address == "" {
				label := "E-mail address: "
				if p := s.machine.Prefill(); p != "" {
					label = fmt.Sprintf("E-mail address [%s]: ", p)
				}
				typed, ok := prompt(label)
				if !ok {
					return errNotEnrolled
				}
				address = typed
				if address == "" {
					address = s.machine.Prefill()
				}
			}
			_ = s.machine.Submit(address)
			address = ""

		case enrollment.StatusSubmitted:
			attempt, _ := s.machine.Attempt()
			answer, ok := prompt(fmt.Sprintf("Send a code to %s? [y/back]: ", attempt.Address))
			if !ok {
				return errNotEnrolled
			}
			switch strings.ToLower(answer) {
			case "y", "yes", "":
				s.println(s.catalog.Text(messages.KeySendingEmail))
				_ = s.machine.RequestCode(ctx)
			case "back":
				_ = s.machine.Back()
			}

		case enrollment.StatusAwaitingCode:
			answer, ok := prompt("Code or link (back to go back): ")
			if !ok {
				return errNotEnrolled
			}
			switch {
			case strings.EqualFold(answer, "back"):
				_ = s.machine.Back()
			case strings.Contains(answer, "#"), strings.HasPrefix(answer, "verify:"):
				_ = s.machine.OpenLink(ctx, answer)
			default:
				_ = s.machine.EnterCode(ctx, answer)
			}

		default:
			return fmt.Errorf("unexpected status %s", s.machine.Status())
		}
	}
	return s.finish()
}

func (s *session) finish() error {
	s.handoff.Wait()
	if s.machine.Status() != enrollment.StatusIssuanceSucceeded {
		return errNotEnrolled
	}
	return nil
}
