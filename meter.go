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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Meter core
const (
	ReadBufferSize = 512
	MaxRetries     = 1000
	RetryDelay     = 10 * time.Second
)

// Drop reasons reported to the Observer.
const (
	DropFraming   = "framing"
	DropChecksum  = "checksum"
	DropFillCount = "fill_count"
	DropDecode    = "decode"
)

// Observer receives the outcome of every decode cycle.
type Observer interface {
	BytesRead(n int)
	FrameDecoded(readings Readings)
	FrameDropped(reason string)
}

// Meter runs the decode cycle for one meter: read bytes, scan frames,
// validate, decode and assemble the configured entities.
type Meter struct {
	// Scanner segments the transport stream into frames.
	Scanner *Scanner
	// Entities are the readings assembled from every frame.
	Entities []Entity
	// Latest holds the last present reading of every entity.
	Latest Readings
	// EntityCallbacks are called when the value of an entity changes.
	EntityCallbacks map[string]func(Reading)
	// GeneralCallback is called with the readings of every decoded frame.
	GeneralCallback func(Readings)
	// Transport is the byte source; Dial reopens it after a read error.
	Transport *Transport
	Dial      func() (*Transport, error)
	// Observer, when set, is told about every frame.
	Observer Observer
	Logger   zerolog.Logger
	// Mutex guards Latest and the callbacks.
	Mutex sync.Mutex

	lastFrame time.Time
}

// NewMeter creates a meter reading from transport.
func NewMeter(transport *Transport, entities []Entity) *Meter {
	return &Meter{
		Scanner:         NewScanner(),
		Entities:        entities,
		Latest:          make(Readings),
		EntityCallbacks: make(map[string]func(Reading)),
		Transport:       transport,
		Logger:          zerolog.Nop(),
	}
}

// Subscribe registers a callback for an entity. If the name is an empty
// string, the callback is called with every reading of every frame.
func (m *Meter) Subscribe(name string, callback func(Reading)) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()
	if name == "" {
		m.GeneralCallback = func(rs Readings) {
			for _, r := range rs.Present() {
				callback(r)
			}
		}
		return
	}
	m.EntityCallbacks[name] = callback
	m.Logger.Debug().Str("entity", name).Msg("subscribed")
}

// Process runs one frame through validation, decoding and assembly and
// updates the latest values.
func (m *Meter) Process(frame RawFrame) (Readings, error) {
	payload, err := Validate(frame)
	if err != nil {
		return nil, err
	}
	root, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	readings := Assemble(root, m.Entities)
	m.update(readings)
	return readings, nil
}

// Feed hands received bytes to the scanner and processes every complete
// frame. It returns the number of frames decoded. Dropped frames are logged
// and reported to the observer; they never stop the meter.
func (m *Meter) Feed(p []byte) int {
	if m.Observer != nil {
		m.Observer.BytesRead(len(p))
	}
	m.Scanner.Feed(p)
	decoded := 0
	for {
		frame, err := m.Scanner.Next()
		if errors.Is(err, ErrNeedMoreData) {
			return decoded
		}
		if err == nil {
			var readings Readings
			readings, err = m.Process(frame)
			if err == nil {
				decoded++
				m.Logger.Debug().Int("bytes", len(frame.Raw)).Int("readings", len(readings.Present())).Msg("frame decoded")
				if m.Observer != nil {
					m.Observer.FrameDecoded(readings)
				}
				continue
			}
		}
		m.drop(err)
	}
}

func (m *Meter) drop(err error) {
	reason := DropReason(err)
	event := m.Logger.Warn().Err(err).Str("reason", reason)
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		event = event.Int("offset", decodeErr.Offset)
	}
	event.Msg("frame dropped")
	if m.Observer != nil {
		m.Observer.FrameDropped(reason)
	}
}

// DropReason classifies a frame error.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrChecksum):
		return DropChecksum
	case errors.Is(err, ErrFillCount):
		return DropFillCount
	case errors.Is(err, ErrDecode):
		return DropDecode
	default:
		return DropFraming
	}
}

func (m *Meter) update(readings Readings) {
	m.Mutex.Lock()
	m.lastFrame = time.Now()
	var changed []Reading
	var callbacks []func(Reading)
	for name, r := range readings {
		if !r.Present {
			continue
		}
		prev, ok := m.Latest[name]
		m.Latest[name] = r
		if ok && prev.Value == r.Value {
			continue
		}
		if callback, exists := m.EntityCallbacks[name]; exists {
			changed = append(changed, r)
			callbacks = append(callbacks, callback)
		}
	}
	general := m.GeneralCallback
	m.Mutex.Unlock()

	for i, callback := range callbacks {
		callback(changed[i])
	}
	if general != nil {
		general(readings)
	}
}

// Value returns the last present reading of an entity.
func (m *Meter) Value(name string) (Reading, bool) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()
	r, ok := m.Latest[name]
	return r, ok
}

// Snapshot returns a copy of the latest readings.
func (m *Meter) Snapshot() Readings {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()
	out := make(Readings, len(m.Latest))
	for k, v := range m.Latest {
		out[k] = v
	}
	return out
}

// LastFrame returns when the last frame was decoded, zero if none was.
func (m *Meter) LastFrame() time.Time {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()
	return m.lastFrame
}

// Run reads from the transport until ctx is cancelled. Read errors trigger a
// reconnect through Dial; without Dial the read error is returned. Each read
// returns to the loop, so the transport should have a read timeout for
// cancellation to be observed promptly.
func (m *Meter) Run(ctx context.Context) error {
	buffer := make([]byte, ReadBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := m.Transport.Read(buffer)
		if n > 0 {
			m.Feed(buffer[:n])
		}
		if err == nil {
			continue
		}
		m.Logger.Error().Err(err).Str("port", m.Transport.PortName).Msg("error reading from transport")
		if m.Dial == nil {
			return err
		}
		if err := m.reconnect(ctx); err != nil {
			return err
		}
	}
}

// reconnect attempts to re-open the transport.
func (m *Meter) reconnect(ctx context.Context) error {
	m.Logger.Info().Msg("attempting to reconnect")
	if m.Transport.Close != nil {
		_ = m.Transport.Close()
	}
	for i := 0; i < MaxRetries; i++ {
		transport, err := m.Dial()
		if err == nil {
			m.Transport = transport
			m.Logger.Info().Str("port", transport.PortName).Msg("reconnected")
			return nil
		}
		m.Logger.Warn().Err(err).Msgf("retrying to reconnect (%d/%d)", i+1, MaxRetries)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(RetryDelay):
		}
	}
	return fmt.Errorf("failed to reconnect after %d retries", MaxRetries)
}
