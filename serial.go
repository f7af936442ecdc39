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
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/albenik/go-serial/v2"
	"github.com/albenik/go-serial/v2/enumerator"
)

const (
	DefaultBaudrate    = 9600
	DefaultReadTimeout = 1000 // milliseconds
)

// SerialConfig selects the serial port the meter's reading head is attached
// to, either by name or by USB vendor and product ID.
type SerialConfig struct {
	PortName      string
	VendorID      string
	ProductID     string
	Baudrate      int
	ReadTimeoutMs int
}

// Transport is the byte source of a meter.
type Transport struct {
	Read         func([]byte) (int, error)
	Close        func() error
	PortName     string
	VendorID     string
	ProductID    string
	SerialNumber string
}

// NewReaderTransport wraps any reader, e.g. a recorded capture.
func NewReaderTransport(r io.Reader) *Transport {
	t := &Transport{Read: r.Read, Close: func() error { return nil }}
	if c, ok := r.(io.Closer); ok {
		t.Close = c.Close
	}
	return t
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]*enumerator.PortDetails, error) {
	return enumerator.GetDetailedPortsList()
}

// FindUSBPort returns the first USB serial port matching vid and pid.
func FindUSBPort(vid, pid string) (*enumerator.PortDetails, error) {
	ports, err := ListPorts()
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, errors.New("no serial ports found")
	}
	for _, port := range ports {
		if port.IsUSB && strings.EqualFold(port.VID, vid) && strings.EqualFold(port.PID, pid) {
			return port, nil
		}
	}
	return nil, fmt.Errorf("no USB port matching %s:%s found", vid, pid)
}

// OpenSerial opens the configured port with the 8N1 settings SML reading
// heads use.
func OpenSerial(cfg SerialConfig) (*Transport, error) {
	transport := &Transport{
		PortName:  cfg.PortName,
		VendorID:  cfg.VendorID,
		ProductID: cfg.ProductID,
	}
	if transport.PortName == "" {
		details, err := FindUSBPort(cfg.VendorID, cfg.ProductID)
		if err != nil {
			return nil, err
		}
		transport.PortName = details.Name
		transport.SerialNumber = details.SerialNumber
	}

	baudrate := cfg.Baudrate
	if baudrate == 0 {
		baudrate = DefaultBaudrate
	}
	timeout := cfg.ReadTimeoutMs
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	port, err := serial.Open(transport.PortName,
		serial.WithBaudrate(baudrate),
		serial.WithDataBits(8),
		serial.WithParity(serial.NoParity),
		serial.WithStopBits(serial.OneStopBit),
		serial.WithReadTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", transport.PortName, err)
	}
	transport.Read = port.Read
	transport.Close = port.Close
	return transport, nil
}
