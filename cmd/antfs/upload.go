package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/loopholelabs/antfs/pkg/antfs/directory"
	"github.com/loopholelabs/antfs/pkg/antfs/manager"
	"github.com/spf13/cobra"
)

var (
	cmdUpload = &cobra.Command{
		Use:   "upload <type> <file>",
		Short: "Create a FIT file on a device and upload to it",
		Long:  `Type is a FIT file type, either a number or one of workout, course, schedules, settings, sport, goals, segment.`,
		Args:  cobra.ExactArgs(2),
		RunE:  runUpload,
	}
)

var fitTypes = map[string]byte{
	"settings":  directory.FitSettings,
	"sport":     directory.FitSport,
	"workout":   directory.FitWorkout,
	"course":    directory.FitCourse,
	"schedules": directory.FitSchedules,
	"goals":     directory.FitGoals,
	"segment":   directory.FitSegment,
}

func parseFitType(s string) (byte, error) {
	if t, ok := fitTypes[strings.ToLower(s)]; ok {
		return t, nil
	}
	t, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown FIT file type %q", s)
	}
	return byte(t), nil
}

func init() {
	rootCmd.AddCommand(cmdUpload)
}

func runUpload(cmd *cobra.Command, args []string) error {
	fitType, err := parseFitType(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}

	return withDevice(cmd.Context(), func(ctx context.Context, s *session, m *manager.Manager) error {
		index, err := m.Create(ctx, fitType, data, s.bar(filepath.Base(args[1])))
		if err != nil {
			return err
		}
		fmt.Printf("%s %s as file %d\n", color.GreenString("uploaded"), args[1], index)
		return nil
	})
}
