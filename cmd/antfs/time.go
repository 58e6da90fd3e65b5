package main

import (
	"context"
	"fmt"
	"time"

	"github.com/loopholelabs/antfs/pkg/antfs/manager"
	"github.com/spf13/cobra"
)

var (
	cmdTime = &cobra.Command{
		Use:   "time",
		Short: "Set the device clock to now",
		Long:  ``,
		Args:  cobra.NoArgs,
		RunE:  runTime,
	}
)

func init() {
	rootCmd.AddCommand(cmdTime)
}

func runTime(cmd *cobra.Command, _ []string) error {
	return withDevice(cmd.Context(), func(ctx context.Context, _ *session, m *manager.Manager) error {
		now := time.Now()
		err := m.SetTime(ctx, now)
		if err != nil {
			return err
		}
		fmt.Printf("device clock set to %s\n", now.UTC().Format(time.RFC3339))
		return nil
	})
}
