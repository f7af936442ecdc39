package sml

import "fmt"

const maxFill = 3

// Validate checks the frame checksum and fill bytes and returns the payload
// with the fill bytes stripped. A frame that fails either check is meant to be
// dropped; the meter sends a fresh one on its own schedule.
func Validate(frame RawFrame) ([]byte, error) {
	if len(frame.Raw) < startLen+endLen {
		return nil, fmt.Errorf("%w: frame too short: %d bytes", ErrFraming, len(frame.Raw))
	}
	crcLocal := CRC16(frame.Raw[:len(frame.Raw)-2])
	if crcLocal != frame.Checksum {
		return nil, fmt.Errorf("%w: local=%04X frame=%04X", ErrChecksum, crcLocal, frame.Checksum)
	}

	fill := int(frame.Fill)
	if fill > maxFill {
		return nil, fmt.Errorf("%w: announced %d fill bytes", ErrFillCount, fill)
	}
	if fill > len(frame.Payload) {
		return nil, fmt.Errorf("%w: %d fill bytes in a %d byte payload", ErrFillCount, fill, len(frame.Payload))
	}
	content := len(frame.Payload) - fill
	for i, b := range frame.Payload[content:] {
		if b != 0x00 {
			return nil, fmt.Errorf("%w: fill byte %d is 0x%02X", ErrFillCount, i, b)
		}
	}
	return frame.Payload[:content:content], nil
}
