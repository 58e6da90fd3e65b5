package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/loopholelabs/antfs/pkg/antfs/directory"
	"github.com/loopholelabs/antfs/pkg/antfs/manager"
	"github.com/loopholelabs/antfs/pkg/store"
	"github.com/spf13/cobra"
)

var (
	cmdDownload = &cobra.Command{
		Use:   "download [index...]",
		Short: "Download files into the store",
		Long:  `Download the given files, or every readable file not yet archived, into the configured store.`,
		RunE:  runDownload,
	}
)

var downloadAll bool

func init() {
	rootCmd.AddCommand(cmdDownload)
	cmdDownload.Flags().BoolVarP(&downloadAll, "all", "a", false, "Include archived files")
}

func parseIndexes(args []string) ([]uint16, error) {
	indexes := make([]uint16, 0, len(args))
	for _, a := range args {
		i, err := strconv.ParseUint(a, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("bad file index %q: %w", a, err)
		}
		indexes = append(indexes, uint16(i))
	}
	return indexes, nil
}

// pending picks the files to download when none were named.
func pending(l *directory.Listing) []uint16 {
	indexes := make([]uint16, 0)
	for _, f := range l.Files {
		if f.Index == 0 || !f.Readable() || (f.Archived() && !downloadAll) {
			continue
		}
		indexes = append(indexes, f.Index)
	}
	return indexes
}

func runDownload(cmd *cobra.Command, args []string) error {
	indexes, err := parseIndexes(args)
	if err != nil {
		return err
	}

	return withDevice(cmd.Context(), func(ctx context.Context, s *session, m *manager.Manager) error {
		l, err := m.DownloadDirectory(ctx)
		if err != nil {
			return err
		}
		if len(indexes) == 0 {
			indexes = pending(l)
		}
		serial, _ := m.Device()

		for _, index := range indexes {
			f := l.Find(index)
			if f == nil {
				return fmt.Errorf("no file %d on the device", index)
			}
			data, err := m.Download(ctx, index, s.bar(f.Name()))
			if err != nil {
				return fmt.Errorf("download %d: %w", index, err)
			}
			key := store.FileKey(serial, f)
			err = s.store.Put(ctx, key, data)
			if err != nil {
				return err
			}
			if s.progress == nil {
				fmt.Printf("%s %s (%d bytes)\n", color.GreenString("saved"), key, len(data))
			}
		}
		return nil
	})
}
