package main

import (
	"fmt"

	"github.com/loopholelabs/antfs/internal/simulator"
	"github.com/loopholelabs/antfs/pkg/antfs/directory"
)

// seedSimulator gives the simulated watch a few files to play with.
func seedSimulator(sim *simulator.Simulator) {
	activity := make([]byte, 0, 4096)
	for i := 0; len(activity) < cap(activity); i++ {
		activity = append(activity, []byte(fmt.Sprintf("record %05d;", i))...)
	}

	sim.AddFile(&directory.File{
		Index:      1,
		DataType:   directory.DataTypeFIT,
		Identifier: [3]byte{directory.FitDevice, 1, 0},
		Flags:      directory.FlagRead,
	}, []byte("simulated device settings"))
	sim.AddFile(&directory.File{
		Index:      2,
		DataType:   directory.DataTypeFIT,
		Identifier: [3]byte{directory.FitActivity, 2, 0},
		Flags:      directory.FlagRead | directory.FlagErase,
	}, activity)
	sim.AddFile(&directory.File{
		Index:      3,
		DataType:   directory.DataTypeFIT,
		Identifier: [3]byte{directory.FitWorkout, 3, 0},
		Flags:      directory.FlagRead | directory.FlagWrite | directory.FlagErase,
	}, []byte{})
}
