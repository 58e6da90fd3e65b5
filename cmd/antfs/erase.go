package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/loopholelabs/antfs/pkg/antfs/manager"
	"github.com/spf13/cobra"
)

var (
	cmdErase = &cobra.Command{
		Use:   "erase <index>...",
		Short: "Erase files from a device",
		Long:  ``,
		Args:  cobra.MinimumNArgs(1),
		RunE:  runErase,
	}
)

func init() {
	rootCmd.AddCommand(cmdErase)
}

func runErase(cmd *cobra.Command, args []string) error {
	indexes, err := parseIndexes(args)
	if err != nil {
		return err
	}

	return withDevice(cmd.Context(), func(ctx context.Context, _ *session, m *manager.Manager) error {
		for _, index := range indexes {
			err := m.Erase(ctx, index)
			if err != nil {
				return fmt.Errorf("erase %d: %w", index, err)
			}
			fmt.Printf("%s %d\n", color.RedString("erased"), index)
		}
		return nil
	})
}
