package cmd

import (
	"github.com/grovetools/tabsd/cli"
	"github.com/grovetools/tabsd/logging"
	"github.com/grovetools/tabsd/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput lists the files and directories tabsd uses.
type PathsOutput struct {
	ConfigDir     string `json:"config_dir"`
	StateDir      string `json:"state_dir"`
	LogDir        string `json:"log_dir"`
	RuntimeDir    string `json:"runtime_dir"`
	Socket        string `json:"socket"`
	PidFile       string `json:"pid_file"`
	ThrottleState string `json:"throttle_state"`
	LogFile       string `json:"log_file"`
}

func NewPathsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Print the paths used by tabsd",
		Long: `Print the XDG-compliant paths used by tabsd.

- config_dir: tabsd.yml or tabsd.toml
- state_dir: persisted rate limiter state
- log_dir: one daily log file per component
- runtime_dir: the daemon socket and pid file`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			cfg, _, err := cli.LoadConfig(opts)
			if err != nil {
				return err
			}

			output := PathsOutput{
				ConfigDir:     paths.ConfigDir(),
				StateDir:      paths.StateDir(),
				LogDir:        paths.LogDir(),
				RuntimeDir:    paths.RuntimeDir(),
				Socket:        cli.SocketPath(opts, cfg),
				PidFile:       pidPath(cfg),
				ThrottleState: paths.ThrottleStatePath(),
				LogFile:       logging.LogFile("tabsd"),
			}

			return printResult(cmd, output, func() {
				out := logging.NewPrettyLogger(cmd.OutOrStdout(), 16)
				out.Path("Config dir", output.ConfigDir)
				out.Path("State dir", output.StateDir)
				out.Path("Log dir", output.LogDir)
				out.Path("Runtime dir", output.RuntimeDir)
				out.Path("Socket", output.Socket)
				out.Path("Pid file", output.PidFile)
				out.Path("Throttle state", output.ThrottleState)
				out.Path("Daemon log", output.LogFile)
			})
		},
	}

	return cmd
}
