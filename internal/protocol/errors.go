package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrShortHeader    = errors.New("packet shorter than header")
	ErrNegativeLength = errors.New("declared length smaller than header")
	ErrTruncated      = errors.New("body extends past end of packet")
	ErrInvalidUTF8    = errors.New("body is not valid UTF-8")
	ErrPacketTooLarge = errors.New("packet exceeds maximum size")
)

// DecodeError reports malformed or truncated packet bytes.
type DecodeError struct {
	// Length is the declared length read from the packet, if any.
	Length int32
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode packet (declared length %d): %v", e.Length, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(length int32, err error) error {
	return &DecodeError{Length: length, Err: err}
}
