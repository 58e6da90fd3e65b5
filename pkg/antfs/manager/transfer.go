package manager

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/loopholelabs/antfs/pkg/ant/node"
	"github.com/loopholelabs/antfs/pkg/antfs"
	"github.com/loopholelabs/antfs/pkg/antfs/directory"
)

// Download reads a whole file. Each block is checked against the CRC the device sends with it,
// and that CRC seeds the request for the next block.
//
// A block that does not arrive in time, or arrives with a bad CRC, is asked for again. After
// DownloadRetries such attempts on one block the download fails with a DownloadError.
func (m *Manager) Download(ctx context.Context, index uint16, progress ProgressFunc) ([]byte, error) {
	atomic.AddUint64(&m.metricDownloads, 1)

	var data []byte
	offset := uint32(0)
	crc := uint16(0)
	initial := true
	retries := 0

	retry := func(reason string, derr *antfs.DownloadError) error {
		retries++
		atomic.AddUint64(&m.metricRetries, 1)
		if retries > m.config.DownloadRetries {
			return derr
		}
		if m.log != nil {
			m.log.Warn().Str("session", m.Session()).Int("index", int(index)).Uint32("offset", offset).Int("attempt", retries).Msg(reason)
		}
		return sleep(ctx, time.Duration(retries)*m.config.RetryBackoff)
	}

	for {
		err := m.send(ctx, &antfs.DownloadRequest{
			Index:        index,
			Offset:       offset,
			Initial:      initial,
			CRCSeed:      crc,
			MaxBlockSize: m.config.MaxBlockSize,
		})
		if err != nil {
			return nil, err
		}

		c, err := m.waitCommand(ctx, antfs.CommandDownloadResponse, m.config.CommandTimeout)
		if errors.Is(err, node.ErrTimeout) {
			err = retry("download block timed out", &antfs.DownloadError{Index: index, Timeout: true})
			if err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		resp := c.(*antfs.DownloadResponse)
		if resp.Response != antfs.DownloadOK {
			return nil, &antfs.DownloadError{Index: index, Code: resp.Response}
		}

		total := uint64(resp.Offset) + uint64(resp.Remaining)
		if total > uint64(resp.Size) {
			return nil, fmt.Errorf("%w: block %d+%d runs past the end of a %d byte file", antfs.ErrInvalidCommand, resp.Offset, resp.Remaining, resp.Size)
		}
		block := resp.Data[:resp.Remaining]
		if resp.Offset == offset && antfs.CRC16(block, crc) != resp.CRC {
			err = retry("download block failed its crc", &antfs.DownloadError{Index: index, Code: antfs.DownloadIncorrectCRC})
			if err != nil {
				return nil, err
			}
			continue
		}

		if uint64(len(data)) < total {
			grown := make([]byte, total)
			copy(grown, data)
			data = grown
		}
		copy(data[resp.Offset:], block)
		retries = 0
		atomic.AddUint64(&m.metricBytesDown, uint64(len(block)))
		if progress != nil {
			progress(int64(total), int64(resp.Size))
		}

		if total == uint64(resp.Size) {
			if data == nil {
				data = []byte{}
			}
			return data[:total], nil
		}
		if resp.Remaining == 0 {
			return nil, fmt.Errorf("%w: empty block at offset %d of %d", antfs.ErrInvalidCommand, resp.Offset, resp.Size)
		}

		initial = false
		offset = uint32(total)
		crc = resp.CRC
	}
}

// Upload writes data to an existing file, in blocks no larger than the device allows.
func (m *Manager) Upload(ctx context.Context, index uint16, data []byte, progress ProgressFunc) error {
	atomic.AddUint64(&m.metricUploads, 1)

	size := uint32(len(data))
	for first := true; ; first = false {
		dataOffset := antfs.MaxOffset
		if first {
			dataOffset = 0
		}
		err := m.send(ctx, &antfs.UploadRequest{Index: index, MaxSize: size, DataOffset: dataOffset})
		if err != nil {
			return err
		}
		c, err := m.waitCommand(ctx, antfs.CommandUploadResponse, m.config.CommandTimeout)
		if err != nil {
			return err
		}
		resp := c.(*antfs.UploadResponse)
		if resp.Response != antfs.UploadOK {
			return &antfs.UploadError{Index: index, Code: resp.Response}
		}

		offset := resp.LastDataOffset
		if offset > size {
			return fmt.Errorf("%w: device resumes at %d of %d bytes", antfs.ErrInvalidCommand, offset, size)
		}
		n := size - offset
		if n > resp.MaxBlockSize {
			n = resp.MaxBlockSize
		}
		if n == 0 && offset < size {
			return fmt.Errorf("%w: device allows no upload block", antfs.ErrInvalidCommand)
		}
		block := data[offset : offset+n]

		err = m.send(ctx, &antfs.UploadData{
			CRCSeed: resp.CRC,
			Offset:  offset,
			Data:    block,
			CRC:     antfs.CRC16(block, resp.CRC),
		})
		if err != nil {
			return err
		}
		c, err = m.waitCommand(ctx, antfs.CommandUploadDataResponse, m.config.CommandTimeout)
		if err != nil {
			return err
		}
		dresp := c.(*antfs.UploadDataResponse)
		if dresp.Response != antfs.UploadDataOK {
			return &antfs.UploadError{Index: index, DataCode: dresp.Response, Offset: offset}
		}

		atomic.AddUint64(&m.metricBytesUp, uint64(n))
		if progress != nil {
			progress(int64(offset+n), int64(size))
		}
		if m.log != nil {
			m.log.Trace().Str("session", m.Session()).Int("index", int(index)).Uint32("offset", offset).Uint32("size", n).Msg("uploaded block")
		}
		if offset+n >= size {
			return nil
		}
	}
}

// pipe sends a command pipe message and reads back the device's answer.
func (m *Manager) pipe(ctx context.Context, p antfs.Pipe) (antfs.Pipe, error) {
	err := m.Upload(ctx, antfs.PipeIndex, p.Encode(), nil)
	if err != nil {
		return nil, err
	}
	data, err := m.Download(ctx, antfs.PipeIndex, nil)
	if err != nil {
		return nil, err
	}
	resp, err := antfs.ParsePipe(data)
	if err != nil {
		return nil, err
	}
	if resp.Sequence() != p.Sequence() && m.log != nil {
		m.log.Warn().Int("sent", int(p.Sequence())).Int("received", int(resp.Sequence())).Msg("command pipe sequence mismatch")
	}
	return resp, nil
}

// Create asks the device for a new FIT file of the given sub type and uploads data into it.
func (m *Manager) Create(ctx context.Context, fitType byte, data []byte, progress ProgressFunc) (uint16, error) {
	resp, err := m.pipe(ctx, &antfs.CreateFile{
		Seq:            m.seq.Next(),
		Size:           uint32(len(data)),
		DataType:       directory.DataTypeFIT,
		Identifier:     [3]byte{fitType, 0, 0},
		IdentifierMask: [3]byte{0, 0xff, 0xff},
	})
	if err != nil {
		return 0, err
	}
	switch r := resp.(type) {
	case *antfs.CreateFileResponse:
		if r.Response.Response != antfs.PipeOK {
			return 0, &antfs.CreateFileError{Code: r.Response.Response}
		}
		if m.log != nil {
			m.log.Debug().Str("session", m.Session()).Int("index", int(r.Index)).Int("size", len(data)).Msg("created file")
		}
		return r.Index, m.Upload(ctx, r.Index, data, progress)
	case *antfs.Response:
		return 0, &antfs.CreateFileError{Code: r.Response}
	}
	return 0, fmt.Errorf("%w: create file answered with %s", antfs.ErrInvalidCommand, antfs.PipeString(resp.ID()))
}

// DownloadDirectory reads and parses file 0.
func (m *Manager) DownloadDirectory(ctx context.Context) (*directory.Listing, error) {
	data, err := m.Download(ctx, 0, nil)
	if err != nil {
		return nil, err
	}
	return directory.Parse(data)
}

func (m *Manager) Erase(ctx context.Context, index uint16) error {
	err := m.send(ctx, &antfs.EraseRequest{Index: index})
	if err != nil {
		return err
	}
	c, err := m.waitCommand(ctx, antfs.CommandEraseResponse, m.config.CommandTimeout)
	if err != nil {
		return err
	}
	resp := c.(*antfs.EraseResponse)
	if resp.Response != antfs.EraseSuccessful {
		return &antfs.EraseError{Index: index, Code: resp.Response}
	}
	return nil
}

// leapSeconds is the UTC to GPS offset devices expect on top of the ANT-FS epoch.
const leapSeconds = 35

// SetTime sets the device clock to t.
func (m *Manager) SetTime(ctx context.Context, t time.Time) error {
	resp, err := m.pipe(ctx, &antfs.Time{
		Seq:         m.seq.Next(),
		CurrentTime: antfs.FromTime(t) + leapSeconds,
		SystemTime:  0xFFFFFFFF,
		Format:      antfs.TimeFormatSystem,
	})
	if err != nil {
		return err
	}
	switch r := resp.(type) {
	case *antfs.TimeResponse:
		if r.Response.Response != antfs.PipeOK {
			return &antfs.TimeError{Code: r.Response.Response}
		}
		return nil
	case *antfs.Response:
		return &antfs.TimeError{Code: r.Response}
	}
	return fmt.Errorf("%w: set time answered with %s", antfs.ErrInvalidCommand, antfs.PipeString(resp.ID()))
}
