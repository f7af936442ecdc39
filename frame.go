package sml

/*
 * SML Library in Go
 *
 * This file is part of the SML Library, a Go decoder for the Smart Message
 * Language (SML) frames emitted by electricity meters over their serial interface.
 *
 * Features:
 * - CRC16 Validation (CRC-16/X-25)
 * - Escape-sequence framing with fill bytes
 * - Offset-based value extraction for configured meter entities
 * - Designed for serial communication
 *
 * License: MIT License
 * Author: Adrian Shajkofci, 2024
 */

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame handling
const (
	ESC     = 0x1B
	VERSION = 0x01
	EOM     = 0x1A

	escapeLen = 4
	startLen  = 8
	endLen    = 8

	DefaultMaxFrameSize = 8192
	readChunkSize       = 256
)

var (
	escapeSeq  = []byte{ESC, ESC, ESC, ESC}
	startSeq   = []byte{ESC, ESC, ESC, ESC, VERSION, VERSION, VERSION, VERSION}
	versionSeq = startSeq[escapeLen:]
)

// RawFrame is one unverified SML transport frame.
type RawFrame struct {
	// Raw holds the wire bytes from the start sequence through the checksum.
	Raw []byte
	// Payload holds the unescaped bytes between start and end sequence, fill bytes included.
	Payload []byte
	// Fill is the fill-byte count announced by the end sequence.
	Fill byte
	// Checksum is the little-endian CRC carried by the end sequence.
	Checksum uint16
}

type FramingState int

const (
	Idle FramingState = iota
	Active
)

// Scanner segments a continuously fed byte stream into raw frames. It keeps
// unconsumed bytes between calls so a frame split across reads is picked up
// once the rest of it has been fed.
type Scanner struct {
	buf          []byte
	state        FramingState
	consumed     int64
	// scanned is how far the open frame has been checked for escapes.
	scanned      int
	MaxFrameSize int
}

func NewScanner() *Scanner {
	return &Scanner{
		buf:          make([]byte, 0, DefaultMaxFrameSize),
		state:        Idle,
		MaxFrameSize: DefaultMaxFrameSize,
	}
}

// Feed appends bytes received from the transport.
func (s *Scanner) Feed(p []byte) {
	s.buf = append(s.buf, p...)
}

// Buffered returns the number of fed bytes not consumed yet.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

// Consumed returns the total number of bytes the scanner has moved past.
func (s *Scanner) Consumed() int64 {
	return s.consumed
}

// State reports whether the scanner is inside a frame.
func (s *Scanner) State() FramingState {
	return s.state
}

func (s *Scanner) discard(n int) {
	s.consumed += int64(n)
	s.buf = append(s.buf[:0], s.buf[n:]...)
}

// Next returns the next complete frame from the buffered bytes. It returns
// ErrNeedMoreData when the buffer holds no complete frame yet, and an error
// wrapping ErrFraming when it had to drop a corrupted frame; both leave the
// scanner ready for another call.
func (s *Scanner) Next() (RawFrame, error) {
	if s.state == Idle {
		start := bytes.Index(s.buf, startSeq)
		if start < 0 {
			// keep a possible partial start sequence
			if keep := startLen - 1; len(s.buf) > keep {
				s.discard(len(s.buf) - keep)
			}
			return RawFrame{}, ErrNeedMoreData
		}
		s.discard(start)
		s.state = Active
		s.scanned = startLen
	}

	limit := s.maxFrameSize()
	pos := s.scanned
	for pos+escapeLen <= len(s.buf) {
		if pos > limit {
			return RawFrame{}, s.resync(startLen, fmt.Errorf("%w: no end sequence within %d bytes", ErrFraming, limit))
		}
		if !bytes.Equal(s.buf[pos:pos+escapeLen], escapeSeq) {
			pos += escapeLen
			continue
		}
		if pos+endLen > len(s.buf) {
			break
		}
		next := s.buf[pos+escapeLen : pos+endLen]
		switch {
		case bytes.Equal(next, escapeSeq):
			pos += endLen
		case bytes.Equal(next, versionSeq):
			return RawFrame{}, s.resync(pos, fmt.Errorf("%w: start sequence inside frame at byte %d", ErrFraming, pos))
		case next[0] == EOM:
			raw := make([]byte, pos+endLen)
			copy(raw, s.buf)
			s.discard(pos + endLen)
			s.state = Idle
			end := raw[pos:]
			return RawFrame{
				Raw:      raw,
				Payload:  unescape(raw[startLen:pos]),
				Fill:     end[escapeLen+1],
				Checksum: binary.LittleEndian.Uint16(end[escapeLen+2:]),
			}, nil
		default:
			return RawFrame{}, s.resync(startLen, fmt.Errorf("%w: invalid escape sequence % X at byte %d", ErrFraming, next, pos))
		}
	}
	s.scanned = pos
	return RawFrame{}, ErrNeedMoreData
}

// unescape collapses escaped escape sequences in a frame body already checked
// by Next.
func unescape(body []byte) []byte {
	out := make([]byte, 0, len(body))
	for i := 0; i+escapeLen <= len(body); i += escapeLen {
		if bytes.Equal(body[i:i+escapeLen], escapeSeq) {
			i += escapeLen
		}
		out = append(out, body[i:i+escapeLen]...)
	}
	return out
}

// resync drops n bytes of the current frame so the next call hunts for the
// following start sequence.
func (s *Scanner) resync(n int, err error) error {
	s.discard(n)
	s.state = Idle
	return err
}

func (s *Scanner) maxFrameSize() int {
	if s.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return s.MaxFrameSize
}

// ReadFrame pulls bytes from r until the scanner yields a frame. Framing
// errors are returned to the caller, who may call ReadFrame again to continue
// with the next frame. io.EOF is returned once r is exhausted without a
// complete frame.
func (s *Scanner) ReadFrame(r io.Reader) (RawFrame, error) {
	buffer := make([]byte, readChunkSize)
	for {
		frame, err := s.Next()
		if !errors.Is(err, ErrNeedMoreData) {
			return frame, err
		}
		n, err := r.Read(buffer)
		if n > 0 {
			s.Feed(buffer[:n])
			continue
		}
		if err != nil {
			return RawFrame{}, err
		}
	}
}
