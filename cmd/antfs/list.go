package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/loopholelabs/antfs/pkg/antfs/manager"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cmdList = &cobra.Command{
		Use:   "list",
		Short: "List the files on a device",
		Long:  ``,
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
)

var listYaml bool

func init() {
	rootCmd.AddCommand(cmdList)
	cmdList.Flags().BoolVarP(&listYaml, "yaml", "y", false, "Print the directory as yaml")
}

func runList(cmd *cobra.Command, _ []string) error {
	return withDevice(cmd.Context(), func(ctx context.Context, _ *session, m *manager.Manager) error {
		l, err := m.DownloadDirectory(ctx)
		if err != nil {
			return err
		}

		if listYaml {
			data, err := yaml.Marshal(l)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		}

		serial, name := m.Device()
		color.New(color.Bold).Printf("%s (%08x)\n", name, serial)
		fmt.Println(l.String())
		for _, f := range l.Files {
			if f.Readable() {
				fmt.Println(f.String())
			} else {
				color.New(color.Faint).Println(f.String())
			}
		}
		return nil
	})
}
