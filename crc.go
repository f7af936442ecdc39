package sml

import "github.com/sigurn/crc16"

// CRC-16/X-25 as used by the SML transport layer.
var crcTable = crc16.MakeTable(crc16.Params{
	Poly:   0x1021,
	Init:   0xFFFF,
	RefIn:  true,
	RefOut: true,
	XorOut: 0xFFFF,
	Check:  0x906E,
	Name:   "CRC-16/X-25",
})

// CRC16 computes the CRC-16/X-25 checksum for the given data.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
