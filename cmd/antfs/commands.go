package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:           "antfs",
		Short:         "Talk to ANT-FS devices through an ANT USB stick.",
		Long:          ``,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
)

var rootConf string
var rootDebug bool
var rootLogFile string
var rootMetrics string
var rootSimulate bool
var rootProgress bool

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootConf, "conf", "c", "", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&rootDebug, "debug", "d", false, "Debug logging (trace)")
	rootCmd.PersistentFlags().StringVarP(&rootLogFile, "log-file", "l", "", "Log to a rotating file instead of stderr")
	rootCmd.PersistentFlags().StringVarP(&rootMetrics, "metrics", "m", "", "Prom metrics address")
	rootCmd.PersistentFlags().BoolVarP(&rootSimulate, "simulate", "s", false, "Use a simulated stick and device")
	rootCmd.PersistentFlags().BoolVarP(&rootProgress, "progress", "p", false, "Show progress")
}

func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
