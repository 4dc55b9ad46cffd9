package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/tabsd/cli"
	"github.com/grovetools/tabsd/pkg/daemon"
	"github.com/spf13/cobra"
)

// connect opens a client to the daemon the command flags point at.
func connect(cmd *cobra.Command) (daemon.Client, error) {
	opts := cli.GetOptions(cmd)
	cfg, _, err := cli.LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	return daemon.Connect(cli.SocketPath(opts, cfg))
}

// withClient runs fn against a connected client and closes it afterwards.
func withClient(fn func(cmd *cobra.Command, args []string, client daemon.Client) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := connect(cmd)
		if err != nil {
			return err
		}
		defer client.Close()
		return fn(cmd, args, client)
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// printResult prints v as JSON when --json is set and runs text otherwise.
func printResult(cmd *cobra.Command, v interface{}, text func()) error {
	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(cmd, v)
	}
	text()
	return nil
}
