package directory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/loopholelabs/antfs/pkg/antfs"
)

var ErrInvalidDirectory = errors.New("invalid directory")

const HeaderSize = 16
const RecordSize = 16

// Listing is the directory a device serves as file index 0.
type Listing struct {
	VersionMajor      byte      `yaml:"version_major"`
	VersionMinor      byte      `yaml:"version_minor"`
	TimeFormat        byte      `yaml:"time_format"`
	CurrentSystemTime uint32    `yaml:"current_system_time"`
	LastModified      time.Time `yaml:"last_modified"`
	Files             []*File   `yaml:"files"`
}

func Parse(data []byte) (*Listing, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d byte header", ErrInvalidDirectory, len(data))
	}
	if (len(data)-HeaderSize)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes of records is not a multiple of %d", ErrInvalidDirectory, len(data)-HeaderSize, RecordSize)
	}

	l := &Listing{
		VersionMajor:      data[0] >> 4,
		VersionMinor:      data[0] & 0x0F,
		TimeFormat:        data[2],
		CurrentSystemTime: binary.LittleEndian.Uint32(data[8:]),
		LastModified:      antfs.ToTime(binary.LittleEndian.Uint32(data[12:])),
	}

	count := (len(data) - HeaderSize) / RecordSize
	l.Files = make([]*File, 0, count)
	for i := 0; i < count; i++ {
		l.Files = append(l.Files, parseFile(data[HeaderSize+i*RecordSize:]))
	}
	return l, nil
}

func (l *Listing) Encode() []byte {
	buff := make([]byte, HeaderSize+len(l.Files)*RecordSize)
	buff[0] = (l.VersionMajor << 4) | (l.VersionMinor & 0x0F)
	buff[1] = RecordSize
	buff[2] = l.TimeFormat
	binary.LittleEndian.PutUint32(buff[8:], l.CurrentSystemTime)
	binary.LittleEndian.PutUint32(buff[12:], antfs.FromTime(l.LastModified))
	for i, f := range l.Files {
		f.encode(buff[HeaderSize+i*RecordSize:])
	}
	return buff
}

// Find returns the file at index, or nil.
func (l *Listing) Find(index uint16) *File {
	for _, f := range l.Files {
		if f.Index == index {
			return f
		}
	}
	return nil
}

func (l *Listing) String() string {
	return fmt.Sprintf("Directory(version %d.%d, %d files, modified %s)",
		l.VersionMajor, l.VersionMinor, len(l.Files), l.LastModified.Format(time.RFC3339))
}
