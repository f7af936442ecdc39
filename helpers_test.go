package sml

import (
	"bytes"
	"encoding/binary"
)

// Builders for SML units used across the tests.

func u8(v uint8) []byte {
	return []byte{0x62, v}
}

func u16(v uint16) []byte {
	b := []byte{0x63, 0, 0}
	binary.BigEndian.PutUint16(b[1:], v)
	return b
}

func u32(v uint32) []byte {
	b := []byte{0x65, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[1:], v)
	return b
}

func i8(v int8) []byte {
	return []byte{0x52, byte(v)}
}

func i64(v int64) []byte {
	b := make([]byte, 9)
	b[0] = 0x59
	binary.BigEndian.PutUint64(b[1:], uint64(v))
	return b
}

// octets returns an octet string whose encoding, header included, is total bytes long.
func octets(total int) []byte {
	if total <= 15 {
		out := make([]byte, total)
		out[0] = byte(total)
		for i := 1; i < total; i++ {
			out[i] = byte(0x30 + i%10)
		}
		return out
	}
	out := make([]byte, total)
	out[0] = 0x80 | byte(total>>4)
	out[1] = byte(total & 0x0F)
	for i := 2; i < total; i++ {
		out[i] = byte(0x30 + i%10)
	}
	return out
}

func list(elems ...[]byte) []byte {
	out := []byte{0x70 | byte(len(elems))}
	for _, e := range elems {
		out = append(out, e...)
	}
	return out
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// encodeFrame wraps a payload in start and end sequences, pads it with fill
// bytes, escapes it and appends a valid checksum.
func encodeFrame(payload []byte) []byte {
	fill := (4 - len(payload)%4) % 4
	padded := append(append([]byte{}, payload...), make([]byte, fill)...)
	return encodeRaw(padded, byte(fill))
}

// encodeRaw frames an already padded payload with an arbitrary fill count.
func encodeRaw(padded []byte, fill byte) []byte {
	frame := append([]byte{}, startSeq...)
	for i := 0; i+4 <= len(padded); i += 4 {
		chunk := padded[i : i+4]
		if bytes.Equal(chunk, escapeSeq) {
			frame = append(frame, escapeSeq...)
		}
		frame = append(frame, chunk...)
	}
	frame = append(frame, ESC, ESC, ESC, ESC, EOM, fill)
	crc := CRC16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// scenarioPayload holds two unsigned 32-bit values at payload offsets 171 and 202.
func scenarioPayload() []byte {
	return concat(
		list(
			octets(169),
			list(
				u32(123456),
				octets(26),
				u32(78910),
			),
		),
		[]byte{0x00},
	)
}

// getListResponse builds an SML message shaped like a meter's list response:
// one entry per OBIS value with unit, scaler and value.
func getListResponse(imported, exported uint32, power int64) []byte {
	entry := func(obis []byte, unit uint8, scaler int8, value []byte) []byte {
		return list(
			concat([]byte{0x07}, obis),
			[]byte{0x01},
			[]byte{0x01},
			u8(unit),
			i8(scaler),
			value,
			[]byte{0x01},
		)
	}
	body := list(
		u32(0x0701),
		list(
			[]byte{0x01},
			octets(11),
			octets(9),
			list(u8(1), u32(4242)),
			list(
				entry([]byte{1, 0, 1, 8, 0, 255}, 30, -1, u32(imported)),
				entry([]byte{1, 0, 2, 8, 0, 255}, 30, -1, u32(exported)),
				entry([]byte{1, 0, 16, 7, 0, 255}, 27, 0, i64(power)),
			),
			[]byte{0x01},
			[]byte{0x01},
		),
	)
	return concat(
		list(
			octets(4),
			u8(0),
			u8(0),
			body,
			u16(0xBEEF),
			[]byte{0x00},
		),
	)
}
