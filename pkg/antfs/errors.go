package antfs

import (
	"errors"
	"fmt"
)

var ErrInvalidCommand = errors.New("invalid antfs command")
var ErrInvalidBeacon = errors.New("invalid antfs beacon")

var ErrDownload = errors.New("download failed")
var ErrUpload = errors.New("upload failed")
var ErrCreateFile = errors.New("create file failed")
var ErrErase = errors.New("erase failed")
var ErrTime = errors.New("set time failed")
var ErrAuthentication = errors.New("authentication failed")

// DownloadError is a download the device refused, or one that ran out of retries waiting for it.
type DownloadError struct {
	Index   uint16
	Code    DownloadResponseCode
	Timeout bool
}

func (e *DownloadError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("download of file %d: timed out", e.Index)
	}
	return fmt.Sprintf("download of file %d: %s", e.Index, e.Code)
}

func (e *DownloadError) Is(target error) bool {
	return target == ErrDownload
}

// UploadError is an upload refused either at the request or for a block of data.
type UploadError struct {
	Index    uint16
	Code     UploadResponseCode
	DataCode UploadDataResponseCode
	Offset   uint32
}

func (e *UploadError) Error() string {
	if e.DataCode != UploadDataOK {
		return fmt.Sprintf("upload of file %d: data at offset %d: %s", e.Index, e.Offset, e.DataCode)
	}
	return fmt.Sprintf("upload of file %d: %s", e.Index, e.Code)
}

func (e *UploadError) Is(target error) bool {
	return target == ErrUpload
}

type CreateFileError struct {
	Code PipeResponseCode
}

func (e *CreateFileError) Error() string {
	return fmt.Sprintf("create file: %s", e.Code)
}

func (e *CreateFileError) Is(target error) bool {
	return target == ErrCreateFile
}

type EraseError struct {
	Index uint16
	Code  EraseResponseCode
}

func (e *EraseError) Error() string {
	return fmt.Sprintf("erase of file %d: %s", e.Index, e.Code)
}

func (e *EraseError) Is(target error) bool {
	return target == ErrErase
}

type TimeError struct {
	Code PipeResponseCode
}

func (e *TimeError) Error() string {
	return fmt.Sprintf("set time: %s", e.Code)
}

func (e *TimeError) Is(target error) bool {
	return target == ErrTime
}

type AuthenticationError struct {
	Type AuthRequestType
	Code AuthResponseType
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s authentication: %s", e.Type, e.Code)
}

func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}
