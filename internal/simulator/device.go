package simulator

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/loopholelabs/antfs/pkg/ant/packets"
	"github.com/loopholelabs/antfs/pkg/antfs"
	"github.com/loopholelabs/antfs/pkg/antfs/directory"
)

// beacon is what the device broadcasts in its current state.
func (s *Simulator) beacon() []byte {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.beaconLocked()
}

func (s *Simulator) beaconLocked() []byte {
	b := &antfs.Beacon{
		DataAvailable:  len(s.files) > 0,
		UploadEnabled:  true,
		PairingEnabled: s.config.PairingAccept,
		PeriodCode:     antfs.Period8Hz,
		State:          s.state,
		AuthType:       s.config.AuthType,
	}
	if s.state == antfs.StateLink {
		binary.LittleEndian.PutUint16(b.Descriptor[:], s.config.DeviceNumber)
		binary.LittleEndian.PutUint16(b.Descriptor[2:], s.config.DeviceType)
	} else {
		binary.LittleEndian.PutUint32(b.Descriptor[:], s.config.Serial)
	}
	return b.Encode()
}

// device is the ANT-FS client receiving data from the host.
func (s *Simulator) device(channel byte, data []byte) {
	c, err := antfs.ParseCommand(data)
	if err != nil {
		if s.log != nil {
			s.log.Warn().Err(err).Msg("simulator got a bad command")
		}
		return
	}

	s.lock.Lock()
	s.commands = append(s.commands, c.ID())
	resp := s.command(c)
	var out []byte
	if resp != nil {
		out = append(s.beaconLocked(), resp.Encode()...)
	}
	s.lock.Unlock()

	if out == nil {
		return
	}
	frames, err := packets.SplitBurst(channel, out)
	if err != nil {
		if s.log != nil {
			s.log.Error().Err(err).Msg("simulator could not split response")
		}
		return
	}
	s.send(frames...)
}

// command runs a command against the device state and returns the response, if any.
func (s *Simulator) command(c antfs.Command) antfs.Command {
	switch cmd := c.(type) {
	case *antfs.Link:
		s.state = antfs.StateAuthentication
		s.hostSerial = cmd.HostSerial
		return nil

	case *antfs.Disconnect:
		s.state = antfs.StateLink
		s.disconnects++
		return nil

	case *antfs.Ping:
		return nil

	case *antfs.Authenticate:
		return s.authenticate(cmd)

	case *antfs.DownloadRequest:
		if s.dropDownloads > 0 {
			s.dropDownloads--
			return nil
		}
		return s.download(cmd)

	case *antfs.UploadRequest:
		return s.uploadRequest(cmd)

	case *antfs.UploadData:
		return s.uploadData(cmd)

	case *antfs.EraseRequest:
		f, ok := s.files[cmd.Index]
		if !ok || !f.record.Erasable() {
			return &antfs.EraseResponse{Response: antfs.EraseFailed}
		}
		delete(s.files, cmd.Index)
		return &antfs.EraseResponse{Response: antfs.EraseSuccessful}
	}

	if s.log != nil {
		s.log.Debug().Str("command", antfs.CommandString(c.ID())).Msg("simulator ignoring command")
	}
	return nil
}

func (s *Simulator) authenticate(cmd *antfs.Authenticate) antfs.Command {
	resp := &antfs.AuthenticateResponse{Type: antfs.AuthReject, Serial: s.config.Serial}
	if s.state != antfs.StateAuthentication {
		return resp
	}

	switch cmd.Type {
	case antfs.AuthSerial:
		resp.Type = antfs.AuthNotAvailable
		resp.Data = []byte(s.config.Name)
	case antfs.AuthPassThrough:
		if s.config.AuthType == antfs.BeaconAuthPassThrough {
			resp.Type = antfs.AuthAccept
		}
	case antfs.AuthPasskeyExchange:
		if string(cmd.Data) == string(s.config.Passkey) {
			resp.Type = antfs.AuthAccept
		}
	case antfs.AuthPairing:
		if s.config.PairingAccept {
			resp.Type = antfs.AuthAccept
			resp.Data = s.config.Passkey
			s.hostName = string(cmd.Data)
		}
	}
	if resp.Type == antfs.AuthAccept {
		s.state = antfs.StateTransport
	}
	return resp
}

// listing builds the directory the device serves as file 0.
func (s *Simulator) listing() *directory.Listing {
	l := &directory.Listing{
		VersionMajor:      1,
		VersionMinor:      0,
		TimeFormat:        antfs.TimeFormatDirectory,
		CurrentSystemTime: s.clock,
		LastModified:      antfs.ToTime(s.clock),
	}
	indexes := make([]int, 0, len(s.files))
	for i := range s.files {
		indexes = append(indexes, int(i))
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		r := *s.files[uint16(i)].record
		l.Files = append(l.Files, &r)
	}
	return l
}

func (s *Simulator) download(cmd *antfs.DownloadRequest) antfs.Command {
	if s.state != antfs.StateTransport {
		return &antfs.DownloadResponse{Response: antfs.DownloadNotReady}
	}

	var data []byte
	switch cmd.Index {
	case 0:
		data = s.listing().Encode()
	case antfs.PipeIndex:
		if s.pipeOut == nil {
			return &antfs.DownloadResponse{Response: antfs.DownloadNotExist}
		}
		data = s.pipeOut
	default:
		f, ok := s.files[cmd.Index]
		if !ok {
			return &antfs.DownloadResponse{Response: antfs.DownloadNotExist}
		}
		if !f.record.Readable() {
			return &antfs.DownloadResponse{Response: antfs.DownloadNotReadable}
		}
		data = f.data
	}

	size := uint32(len(data))
	if cmd.Offset > size {
		return &antfs.DownloadResponse{Response: antfs.DownloadInvalidRequest, Size: size}
	}
	if cmd.Offset > 0 && antfs.CRC16(data[:cmd.Offset], 0) != cmd.CRCSeed {
		return &antfs.DownloadResponse{Response: antfs.DownloadIncorrectCRC, Size: size}
	}

	n := size - cmd.Offset
	if n > s.config.BlockSize {
		n = s.config.BlockSize
	}
	if cmd.MaxBlockSize != 0 && n > cmd.MaxBlockSize {
		n = cmd.MaxBlockSize
	}
	block := data[cmd.Offset : cmd.Offset+n]
	return &antfs.DownloadResponse{
		Response:  antfs.DownloadOK,
		Remaining: n,
		Offset:    cmd.Offset,
		Size:      size,
		Data:      block,
		CRC:       antfs.CRC16(block, cmd.CRCSeed),
	}
}

func (s *Simulator) uploadRequest(cmd *antfs.UploadRequest) antfs.Command {
	resp := &antfs.UploadResponse{MaxFileSize: s.config.MaxFileSize, MaxBlockSize: s.config.BlockSize}
	if s.state != antfs.StateTransport {
		resp.Response = antfs.UploadNotReady
		return resp
	}
	if cmd.Index != antfs.PipeIndex {
		f, ok := s.files[cmd.Index]
		if !ok {
			resp.Response = antfs.UploadNotExist
			return resp
		}
		if !f.record.Writable() {
			resp.Response = antfs.UploadNotWriteable
			return resp
		}
	}
	if cmd.MaxSize > s.config.MaxFileSize {
		resp.Response = antfs.UploadNotEnoughSpace
		return resp
	}

	if cmd.DataOffset != antfs.MaxOffset || s.upload == nil || s.upload.index != cmd.Index {
		s.upload = &upload{index: cmd.Index, size: cmd.MaxSize}
	}
	resp.Response = antfs.UploadOK
	resp.LastDataOffset = uint32(len(s.upload.data))
	resp.CRC = antfs.CRC16(s.upload.data, 0)
	return resp
}

func (s *Simulator) uploadData(cmd *antfs.UploadData) antfs.Command {
	failed := &antfs.UploadDataResponse{Response: antfs.UploadDataFailed}
	u := s.upload
	if u == nil || cmd.Offset != uint32(len(u.data)) || cmd.CRCSeed != antfs.CRC16(u.data, 0) {
		return failed
	}

	// Data arrives padded, the upload request said how much of it is real.
	block := cmd.Data
	if rest := u.size - cmd.Offset; uint32(len(block)) > rest {
		block = block[:rest]
	}
	if antfs.CRC16(block, cmd.CRCSeed) != cmd.CRC {
		return failed
	}
	u.data = append(u.data, block...)
	s.blocks = append(s.blocks, Block{Index: u.index, Offset: cmd.Offset, Length: uint32(len(block))})

	if uint32(len(u.data)) >= u.size {
		s.commit(u)
		s.upload = nil
	}
	return &antfs.UploadDataResponse{Response: antfs.UploadDataOK}
}

func (s *Simulator) commit(u *upload) {
	if u.index != antfs.PipeIndex {
		f, ok := s.files[u.index]
		if !ok {
			return
		}
		f.data = u.data
		f.record.Size = uint32(len(u.data))
		f.record.Date = antfs.ToTime(s.clock)
		return
	}
	s.pipeOut = s.pipe(u.data)
}

// pipe runs a command pipe message and returns the encoded answer.
func (s *Simulator) pipe(data []byte) []byte {
	p, err := antfs.ParsePipe(data)
	if err != nil {
		return (&antfs.Response{Response: antfs.PipeFailed}).Encode()
	}

	switch cmd := p.(type) {
	case *antfs.Time:
		s.clock = cmd.CurrentTime
		return (&antfs.TimeResponse{Response: antfs.Response{Seq: cmd.Seq, RequestID: antfs.PipeTime, Response: antfs.PipeOK}}).Encode()

	case *antfs.CreateFile:
		resp := &antfs.CreateFileResponse{Response: antfs.Response{Seq: cmd.Seq, RequestID: antfs.PipeCreateFile}}
		if cmd.Size > s.config.MaxFileSize {
			resp.Response.Response = antfs.PipeFailed
			return resp.Encode()
		}
		index := uint16(1)
		for {
			if _, ok := s.files[index]; !ok {
				break
			}
			index++
		}
		// The device fills masked identifier bytes with the file number.
		var number [3]byte
		binary.LittleEndian.PutUint16(number[1:], index)
		id := cmd.Identifier
		for i := range id {
			id[i] = (id[i] &^ cmd.IdentifierMask[i]) | (number[i] & cmd.IdentifierMask[i])
		}
		s.files[index] = &file{
			record: &directory.File{
				Index:      index,
				DataType:   cmd.DataType,
				Identifier: id,
				Flags:      directory.FlagRead | directory.FlagWrite | directory.FlagErase,
				Date:       antfs.ToTime(s.clock),
			},
			data: []byte{},
		}
		resp.Response.Response = antfs.PipeOK
		resp.DataType = cmd.DataType
		resp.Identifier = id
		resp.Index = index
		return resp.Encode()
	}

	return (&antfs.Response{Seq: p.Sequence(), RequestID: p.ID(), Response: antfs.PipeNotSupported}).Encode()
}

// SetClock sets the device clock.
func (s *Simulator) SetClock(t time.Time) {
	s.lock.Lock()
	s.clock = antfs.FromTime(t)
	s.lock.Unlock()
}
