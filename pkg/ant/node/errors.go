package node

import (
	"errors"
	"fmt"

	"github.com/loopholelabs/antfs/pkg/ant/packets"
)

var ErrTimeout = errors.New("timed out waiting for the stick")
var ErrTransferFailed = errors.New("transfer failed")
var ErrResponse = errors.New("channel response error")
var ErrNoFreeChannel = errors.New("no free channel")

// ResponseError is a config message the stick answered with something other than NoError.
type ResponseError struct {
	Channel byte
	ID      byte
	Code    packets.Code
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s on channel %d: %s (%d)", packets.MessageString(e.ID), e.Channel, e.Code, e.Code)
}

func (e *ResponseError) Is(target error) bool {
	return target == ErrResponse
}
