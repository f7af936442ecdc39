package sml

import (
	"errors"
	"fmt"
)

var (
	// ErrNeedMoreData signals that the buffered bytes hold no complete frame yet.
	ErrNeedMoreData = errors.New("sml: need more data")
	ErrFraming      = errors.New("sml: framing error")
	ErrChecksum     = errors.New("sml: checksum mismatch")
	ErrFillCount    = errors.New("sml: fill count mismatch")
	ErrDecode       = errors.New("sml: decode error")
	// ErrNotFound is returned when no scalar unit starts at the requested offset.
	ErrNotFound = errors.New("sml: no value at offset")
)

// DecodeError reports a malformed unit in a validated payload.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("sml: decode error at offset %d: %s", e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

func decodeErrorf(offset int, format string, args ...interface{}) error {
	return &DecodeError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
