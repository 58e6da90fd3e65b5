package directory

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/loopholelabs/antfs/pkg/antfs"
)

// Access flags
const (
	FlagRead    = byte(0x80)
	FlagWrite   = byte(0x40)
	FlagErase   = byte(0x20)
	FlagArchive = byte(0x10)
	FlagAppend  = byte(0x08)
	FlagCrypt   = byte(0x04)
)

// DataTypeFIT marks a FIT file. Its sub type is the first identifier byte.
const DataTypeFIT = byte(0x80)

// FIT sub types
const (
	FitDevice          = byte(1)
	FitSettings        = byte(2)
	FitSport           = byte(3)
	FitActivity        = byte(4)
	FitWorkout         = byte(5)
	FitCourse          = byte(6)
	FitSchedules       = byte(7)
	FitWeight          = byte(9)
	FitTotals          = byte(10)
	FitGoals           = byte(11)
	FitBloodPressure   = byte(14)
	FitMonitoringA     = byte(15)
	FitActivitySummary = byte(20)
	FitMonitoringDaily = byte(28)
	FitMonitoringB     = byte(32)
	FitSegment         = byte(34)
	FitSegmentList     = byte(35)
)

type File struct {
	Index      uint16    `yaml:"index"`
	DataType   byte      `yaml:"data_type"`
	Identifier [3]byte   `yaml:"identifier,flow"`
	TypeFlags  byte      `yaml:"type_flags"`
	Flags      byte      `yaml:"flags"`
	Size       uint32    `yaml:"size"`
	Date       time.Time `yaml:"date"`
}

func parseFile(b []byte) *File {
	f := &File{
		Index:     binary.LittleEndian.Uint16(b[0:]),
		DataType:  b[2],
		TypeFlags: b[6],
		Flags:     b[7],
		Size:      binary.LittleEndian.Uint32(b[8:]),
		Date:      antfs.ToTime(binary.LittleEndian.Uint32(b[12:])),
	}
	copy(f.Identifier[:], b[3:6])
	return f
}

func (f *File) encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], f.Index)
	b[2] = f.DataType
	copy(b[3:6], f.Identifier[:])
	b[6] = f.TypeFlags
	b[7] = f.Flags
	binary.LittleEndian.PutUint32(b[8:], f.Size)
	binary.LittleEndian.PutUint32(b[12:], antfs.FromTime(f.Date))
}

func (f *File) Readable() bool   { return f.Flags&FlagRead != 0 }
func (f *File) Writable() bool   { return f.Flags&FlagWrite != 0 }
func (f *File) Erasable() bool   { return f.Flags&FlagErase != 0 }
func (f *File) Archived() bool   { return f.Flags&FlagArchive != 0 }
func (f *File) AppendOnly() bool { return f.Flags&FlagAppend != 0 }
func (f *File) Encrypted() bool  { return f.Flags&FlagCrypt != 0 }

// FlagString renders the access flags as rweAac, with - for each flag not set.
func (f *File) FlagString() string {
	out := []byte("------")
	for i, flag := range []byte{FlagRead, FlagWrite, FlagErase, FlagArchive, FlagAppend, FlagCrypt} {
		if f.Flags&flag != 0 {
			out[i] = "rweAac"[i]
		}
	}
	return string(out)
}

func (f *File) IsFIT() bool {
	return f.DataType == DataTypeFIT
}

func (f *File) FitSubType() byte {
	return f.Identifier[0]
}

func (f *File) FileNumber() uint16 {
	return binary.LittleEndian.Uint16(f.Identifier[1:])
}

// Name is the name a downloaded copy of the file is stored under.
func (f *File) Name() string {
	ext := "bin"
	if f.IsFIT() {
		ext = "fit"
	}
	return fmt.Sprintf("%04d_%s.%s", f.Index, f.Date.UTC().Format("2006-01-02_15-04-05"), ext)
}

func (f *File) String() string {
	return fmt.Sprintf("%5d %02x %02x %02x%02x%02x %s %8d %s",
		f.Index, f.DataType, f.TypeFlags, f.Identifier[0], f.Identifier[1], f.Identifier[2],
		f.FlagString(), f.Size, f.Date.UTC().Format(time.RFC3339))
}
