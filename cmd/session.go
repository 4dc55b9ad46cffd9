package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/tabsd/cli"
	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/pkg/daemon"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/spf13/cobra"
)

// NewSessionCmd returns the session command with subcommands.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, inspect and close sessions",
		Long: `Sessions are owned by the user that created them. Every other command that
takes a session id only works for that user.`,
	}

	cmd.AddCommand(newSessionNewCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionCloseCmd())
	cmd.AddCommand(newSessionFlagsCmd())
	cmd.AddCommand(newSessionReferrerCmd())
	cmd.AddCommand(newSessionKeepAliveCmd())
	cmd.AddCommand(newSessionValidateCmd())

	return cmd
}

func newSessionNewCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "new [id]",
		Short: "Register a new session",
		Long: `Register a new session owned by the current user. A random id is generated
when none is given. With --watch the session is closed once this process exits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			id := models.SessionID(uuid.NewString())
			if len(args) == 1 {
				id = models.SessionID(args[0])
			}
			sess, err := client.NewSession(cmd.Context(), id, watch)
			if err != nil {
				return err
			}
			return printResult(cmd, sess, func() {
				fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			})
		}),
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Close the session when this process exits")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			sess, err := client.Session(cmd.Context(), models.SessionID(args[0]))
			if err != nil {
				return err
			}
			return printResult(cmd, sess, func() { printSession(cmd, sess) })
		}),
	}
}

func printSession(cmd *cobra.Command, sess models.Session) {
	t := cli.DefaultTheme
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", t.Bold.Render("Session"), sess.ID)
	fmt.Fprintf(out, "  Owner:      uid %d (pid %d)\n", sess.Owner, sess.OwnerPID)
	if sess.PackageName != "" {
		fmt.Fprintf(out, "  Package:    %s\n", sess.PackageName)
	}
	fmt.Fprintf(out, "  Created:    %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "  Keep-alive: %t\n", sess.KeepAlive)
	fmt.Fprintf(out, "  Watched:    %t\n", sess.Watched)
	if sess.Referrer != "" {
		fmt.Fprintf(out, "  Referrer:   %s\n", sess.Referrer)
	}
	if sess.Prediction.LastPredictedURL != "" {
		fmt.Fprintf(out, "  Predicted:  %s\n", sess.Prediction.LastPredictedURL)
	}
	if len(sess.LinkedOrigins) > 0 {
		fmt.Fprintf(out, "  Origins:    %s\n", strings.Join(sess.LinkedOrigins, ", "))
	}
	printFlags(cmd, sess.Flags)
}

func printFlags(cmd *cobra.Command, flags models.PermissionFlags) {
	t := cli.DefaultTheme
	for _, f := range models.AllFlags {
		value := t.Muted.Render("off")
		if flags.Get(f) {
			value = "on"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %-30s %s\n", f, value)
	}
}

func newSessionCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "close <id>",
		Aliases: []string{"cleanup"},
		Short:   "Close a session and release what it holds",
		Args:    cobra.ExactArgs(1),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			return client.CleanupSession(cmd.Context(), models.SessionID(args[0]))
		}),
	}
}

func newSessionFlagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flags <id> [flag=value...]",
		Short: "Show or change the permission flags of a session",
		Long: `Without assignments the current flags are printed. Each assignment has the
form name=true|false, for example ignore_url_fragments=true.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			id := models.SessionID(args[0])
			flags, err := client.Flags(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, assignment := range args[1:] {
				flag, value, err := parseAssignment(assignment)
				if err != nil {
					return err
				}
				if flags, err = client.SetFlag(cmd.Context(), id, flag, value); err != nil {
					return err
				}
			}
			return printResult(cmd, flags, func() { printFlags(cmd, flags) })
		}),
	}
}

func parseAssignment(s string) (models.Flag, bool, error) {
	name, raw, ok := strings.Cut(s, "=")
	if !ok {
		return "", false, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("expected flag=value, got %q", s))
	}
	flag, err := models.ParseFlag(name)
	if err != nil {
		return "", false, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid flag")
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return "", false, errors.Wrap(err, errors.ErrCodeInvalidInput, fmt.Sprintf("invalid value for %s", name))
	}
	return flag, value, nil
}

func newSessionReferrerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "referrer <id> [url]",
		Short: "Show or set the referrer of a session",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			id := models.SessionID(args[0])
			if len(args) == 2 {
				return client.SetReferrer(cmd.Context(), id, args[1])
			}
			ref, err := client.Referrer(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printResult(cmd, models.ReferrerRequest{Referrer: ref}, func() {
				fmt.Fprintln(cmd.OutOrStdout(), ref)
			})
		}),
	}
}

func newSessionKeepAliveCmd() *cobra.Command {
	var release bool
	cmd := &cobra.Command{
		Use:   "keep-alive <id>",
		Short: "Keep the session owner bound while a page is shown",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			id := models.SessionID(args[0])
			if release {
				return client.DontKeepAlive(cmd.Context(), id)
			}
			return client.KeepAlive(cmd.Context(), id)
		}),
	}
	cmd.Flags().BoolVar(&release, "release", false, "Drop the keep-alive binding instead")
	return cmd
}

func newSessionValidateCmd() *cobra.Command {
	var relation string
	cmd := &cobra.Command{
		Use:   "validate <id> <origin>",
		Short: "Verify that the session's app is associated with an origin",
		Long: `Starts an origin verification. The result is delivered asynchronously as a
relationship_verified event; follow it with 'tabsd watch'.`,
		Args: cobra.ExactArgs(2),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			rel := models.Relation(relation)
			if !rel.Valid() {
				return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown relation %q", relation))
			}
			return client.ValidateRelationship(cmd.Context(), models.SessionID(args[0]), rel, args[1])
		}),
	}
	cmd.Flags().StringVar(&relation, "relation", string(models.RelationUseAsOrigin), "use_as_origin or handle_all_urls")
	return cmd
}
