package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errNotEnrolled ends the process with a non-zero status when the attempt
// did not end with the attribute in the wallet.
var errNotEnrolled = errors.New("email address was not added")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errNotEnrolled) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ENROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "enroll",
		Short:         "Add a verified email address to your wallet",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return v.BindPFlags(cmd.Flags())
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.String("api", "http://localhost:8080", "Base URL of the verification backend")
	flags.String("locale", "en", "Language for mails and messages (en, nl)")
	flags.String("tz", "Europe/Amsterdam", "Time zone rate-limit times are shown in")
	flags.Int("code-length", 6, "Length of the mailed code")
	flags.Duration("poll-interval", time.Second, "How often the issuance session status is polled")
	flags.String("log-level", "warn", "Log level written to stderr")

	cmd.AddCommand(newStartCommand(v))
	cmd.AddCommand(newLinkCommand(v))
	return cmd
}

func newStartCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Enter an address, receive a code and add the address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(v, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return s.interactive(cmd.Context(), cmd.InOrStdin(), v.GetString("address"))
		},
	}
	cmd.Flags().String("address", "", "Address to enroll; prompted for when empty")
	return cmd
}

func newLinkCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "link <url-or-fragment>",
		Short: "Finish an enrollment from the link in the mail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(v, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return s.openLink(cmd.Context(), args[0])
		},
	}
}
