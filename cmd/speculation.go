package cmd

import (
	"fmt"

	"github.com/grovetools/tabsd/cli"
	"github.com/grovetools/tabsd/pkg/daemon"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/spf13/cobra"
)

// NewWarmupCmd returns the warmup command.
func NewWarmupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warmup",
		Short: "Ask the daemon to prepare the speculation backend",
		Long: `Warmup must be called before launches can be predicted. Only the first call
does the work; later calls return immediately.`,
		Args: cobra.NoArgs,
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			return client.Warmup(cmd.Context())
		}),
	}
}

// NewMayLaunchCmd returns the may-launch command.
func NewMayLaunchCmd() *cobra.Command {
	var (
		referrer    string
		otherLikely []string
	)
	cmd := &cobra.Command{
		Use:   "may-launch <session> [url]",
		Short: "Tell the daemon which url is likely to be opened next",
		Long: `Predict the next launch of a session. With a url the prediction is high
confidence and may start a hidden tab. Without one, or with only --also, the
daemon just preconnects.`,
		Example: `  tabsd may-launch s1 https://example.com/article
  tabsd may-launch s1 --also https://a.example --also https://b.example`,
		Args: cobra.RangeArgs(1, 2),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			url := ""
			if len(args) == 2 {
				url = args[1]
			}
			extras := models.Extras{Referrer: referrer}
			allowed, err := client.MayLaunchURL(cmd.Context(), models.SessionID(args[0]), url, extras, otherLikely)
			if err != nil {
				return err
			}
			return printResult(cmd, models.MayLaunchResponse{Allowed: allowed}, func() {
				fmt.Fprintln(cmd.OutOrStdout(), "Prediction accepted")
			})
		}),
	}
	cmd.Flags().StringVar(&referrer, "referrer", "", "Referrer for the speculated navigation")
	cmd.Flags().StringArrayVar(&otherLikely, "also", nil, "Other likely url (repeatable)")
	return cmd
}

// NewTakeCmd returns the take command.
func NewTakeCmd() *cobra.Command {
	var referrer string
	cmd := &cobra.Command{
		Use:   "take <session> <url>",
		Short: "Take over the hidden tab speculated for a url",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			handoff, err := client.TakeHiddenTab(cmd.Context(), models.SessionID(args[0]), args[1], referrer)
			if err != nil {
				return err
			}
			return printResult(cmd, handoff, func() {
				out := cmd.OutOrStdout()
				if handoff == nil {
					fmt.Fprintln(out, cli.DefaultTheme.Muted.Render("No hidden tab matched"))
					return
				}
				fmt.Fprintf(out, "%s %s\n", cli.DefaultTheme.Bold.Render("Took"), handoff.URL)
				fmt.Fprintf(out, "  Engine:   %s\n", handoff.Engine)
				fmt.Fprintf(out, "  Resource: %s\n", handoff.ResourceID)
				fmt.Fprintf(out, "  Ready:    %t\n", handoff.Ready)
				if handoff.Status != 0 {
					fmt.Fprintf(out, "  Status:   %d (%d bytes)\n", handoff.Status, handoff.Bytes)
				}
				if handoff.TargetID != "" {
					fmt.Fprintf(out, "  Target:   %s\n", handoff.TargetID)
				}
			})
		}),
	}
	cmd.Flags().StringVar(&referrer, "referrer", "", "Referrer the tab must have been loaded with")
	return cmd
}

// NewLaunchCmd returns the launch command.
func NewLaunchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "launch <session> <url>",
		Short: "Record that a url was opened and score the last prediction",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			outcome, err := client.RegisterLaunch(cmd.Context(), models.SessionID(args[0]), args[1])
			if err != nil {
				return err
			}
			return printResult(cmd, models.LaunchResponse{Outcome: outcome}, func() {
				fmt.Fprintln(cmd.OutOrStdout(), outcome)
			})
		}),
	}
}

// NewCancelCmd returns the cancel command.
func NewCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session>",
		Short: "Cancel the speculation held for a session",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			return client.CancelSpeculation(cmd.Context(), models.SessionID(args[0]))
		}),
	}
}
