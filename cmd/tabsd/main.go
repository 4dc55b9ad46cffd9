package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/grovetools/tabsd/cli"
	"github.com/grovetools/tabsd/cmd"
)

func main() {
	cli.InitColor()
	rootCmd := cmd.NewRootCmd()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
		cli.NewErrorHandler(verbose, os.Stderr).Handle(err)
		stop()
		os.Exit(1)
	}
}
