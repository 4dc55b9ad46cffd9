package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/grovetools/tabsd/cli"
	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/pkg/daemon"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/spf13/cobra"
)

func newTable(headers ...string) *table.Table {
	t := cli.DefaultTheme
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(t.Muted).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return t.Bold.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

// NewStateCmd returns the state command.
func NewStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the daemon's sessions, speculation slot and warmup",
		Args:  cobra.NoArgs,
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			st, err := client.GetState(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, st, func() { printState(cmd, st) })
		}),
	}
}

func printState(cmd *cobra.Command, st *store.State) {
	t := cli.DefaultTheme
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, t.Bold.Render("Speculation"))
	spec := st.Speculation
	if spec.State == models.SpeculationIdle {
		fmt.Fprintln(out, "  idle")
	} else {
		fmt.Fprintf(out, "  %s %s for session %s (%s", spec.State, spec.URL, spec.SessionID, spec.Engine)
		if spec.HiddenTab {
			fmt.Fprint(out, ", hidden tab")
		}
		fmt.Fprintf(out, ", %s ago)\n", time.Since(spec.StartedAt).Round(time.Millisecond))
	}

	fmt.Fprintln(out, t.Bold.Render("Warmup"))
	fmt.Fprintf(out, "  called: %t  finished: %t  calls: %d\n", st.Warmup.Called, st.Warmup.Finished, st.Warmup.Calls)

	fmt.Fprintln(out, t.Bold.Render("Sessions"))
	if len(st.Sessions) == 0 {
		fmt.Fprintln(out, t.Muted.Render("  none"))
		return
	}
	ids := make([]string, 0, len(st.Sessions))
	for id := range st.Sessions {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	tbl := newTable("ID", "OWNER", "PACKAGE", "KEEP-ALIVE", "PREDICTED")
	for _, id := range ids {
		s := st.Sessions[models.SessionID(id)]
		tbl.Row(id, strconv.FormatUint(uint64(s.Owner), 10), s.PackageName,
			strconv.FormatBool(s.KeepAlive), s.Prediction.LastPredictedURL)
	}
	fmt.Fprintln(out, tbl.String())
}

// NewMetricsCmd returns the metrics command.
func NewMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show the metrics recorded since the daemon started",
		Args:  cobra.NoArgs,
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			snap, err := client.GetMetrics(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, snap, func() {
				tbl := newTable("METRIC", "VALUE")
				for _, name := range snap.Names() {
					if c, ok := snap.Events[name]; ok {
						tbl.Row(name, fmt.Sprintf("count=%d sum=%d last=%d", c.Count, c.Sum, c.Last))
						continue
					}
					buckets := make([]string, len(snap.Enumerated[name]))
					for i, n := range snap.Enumerated[name] {
						buckets[i] = strconv.FormatInt(n, 10)
					}
					tbl.Row(name, "["+strings.Join(buckets, " ")+"]")
				}
				fmt.Fprintln(cmd.OutOrStdout(), tbl.String())
			})
		}),
	}
}

// NewWatchCmd returns the watch command.
func NewWatchCmd() *cobra.Command {
	var events bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon updates as they happen",
		Long: `Follow the daemon's state updates over a websocket until interrupted. Each
update is printed as one JSON line with --json.`,
		Args: cobra.NoArgs,
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			updates, err := client.Watch(cmd.Context())
			if err != nil {
				return err
			}
			jsonOut := cli.GetOptions(cmd).JSONOutput
			for u := range updates {
				if events && u.Type != store.UpdateEvent {
					continue
				}
				if jsonOut {
					if err := printJSON(cmd, u); err != nil {
						return err
					}
					continue
				}
				printUpdate(cmd, u)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&events, "events", false, "Only print events")
	return cmd
}

func printUpdate(cmd *cobra.Command, u daemon.StateUpdate) {
	t := cli.DefaultTheme
	out := cmd.OutOrStdout()
	ts := t.Muted.Render(time.Now().Format("15:04:05"))

	if u.Event == nil {
		fmt.Fprintf(out, "%s %s %s\n", ts, t.Bold.Render(string(u.Type)), t.Muted.Render(u.Source))
		return
	}
	fmt.Fprintf(out, "%s %s\n", ts, formatEvent(u.Event))
}

// formatEvent renders an event on one line for watch and top.
func formatEvent(ev *models.Event) string {
	t := cli.DefaultTheme
	parts := []string{t.Bold.Render(string(ev.Type))}
	if ev.SessionID != "" {
		parts = append(parts, "session="+string(ev.SessionID))
	}
	if ev.URL != "" {
		parts = append(parts, "url="+ev.URL)
	}
	if ev.Relationship != nil {
		parts = append(parts, fmt.Sprintf("origin=%s verified=%t", ev.Relationship.Origin, ev.Relationship.Verified))
	}
	if ev.Detail != "" {
		parts = append(parts, t.Italic.Render(ev.Detail))
	}
	return strings.Join(parts, " ")
}

// NewThrottleCmd returns the throttle command with subcommands.
func NewThrottleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "throttle",
		Short: "Inspect and administer the per-uid rate limiter",
		Long:  "Ban and reset are admin operations: only the user the daemon runs as may call them.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the uids the rate limiter tracks",
		Args:  cobra.NoArgs,
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			statuses, err := client.GetThrottle(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, statuses, func() {
				tbl := newTable("UID", "BANNED", "IN WINDOW", "DENIALS")
				for _, s := range statuses {
					tbl.Row(strconv.FormatUint(uint64(s.UID), 10), strconv.FormatBool(s.Banned),
						strconv.Itoa(s.InWindow), strconv.Itoa(s.Denials))
				}
				fmt.Fprintln(cmd.OutOrStdout(), tbl.String())
			})
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "ban <uid>",
		Short: "Refuse every speculative request of a uid",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}
			return client.Ban(cmd.Context(), uid)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <uid>",
		Short: "Lift a ban and clear the request window of a uid",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}
			return client.Reset(cmd.Context(), uid)
		}),
	})

	return cmd
}

func parseUID(s string) (models.UID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInvalidInput, fmt.Sprintf("invalid uid %q", s))
	}
	return models.UID(n), nil
}

// NewAdminCmd returns the admin command with subcommands.
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations on the running daemon",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Close every session",
		Args:  cobra.NoArgs,
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			n, err := client.CleanupAll(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, models.CleanupResponse{Cleaned: n}, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Closed %d sessions\n", n)
			})
		}),
	})

	var file string
	policy := &cobra.Command{
		Use:   "policy",
		Short: "Replace the speculation policy from the policy section of a config file",
		Args:  cobra.NoArgs,
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			cfg, err := config.Load(file)
			if err != nil {
				return err
			}
			return client.UpdatePolicy(cmd.Context(), cfg.Policy)
		}),
	}
	policy.Flags().StringVarP(&file, "file", "f", "", "Config file to read the policy from")
	_ = policy.MarkFlagRequired("file")
	cmd.AddCommand(policy)

	return cmd
}
