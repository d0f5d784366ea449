// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package min builds MIN (Microcontroller Interconnect Network) frames used to
// configure a bus adapter that polls the simulator periodically.
package min

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	HeaderByte = 0xAA
	StuffByte  = 0x55
	EOFByte    = 0x55

	// MaxPayload is limited by the one-byte length field.
	MaxPayload = 255

	idMask = 0x3F
)

// Frame is one MIN frame before byte stuffing.
type Frame struct {
	ID         byte
	Payload    []byte
	AckOrReset bool // keeps the full id byte
}

// OnWire returns the frame as sent on the line:
//
//	AA AA AA | stuffed(id, len, payload, crc32 BE) | 55
//
// A stuff byte follows every AA AA pair inside the body.
func (f Frame) OnWire() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("min: payload of %d bytes exceeds %d", len(f.Payload), MaxPayload)
	}

	id := f.ID
	if !f.AckOrReset {
		id &= idMask
	}

	prolog := make([]byte, 0, 2+len(f.Payload)+4)
	prolog = append(prolog, id, byte(len(f.Payload)))
	prolog = append(prolog, f.Payload...)
	prolog = binary.BigEndian.AppendUint32(prolog, crc32.ChecksumIEEE(prolog))

	out := make([]byte, 0, len(prolog)+len(prolog)/2+4)
	out = append(out, HeaderByte, HeaderByte, HeaderByte)
	count := 0
	for _, b := range prolog {
		out = append(out, b)
		if b != HeaderByte {
			count = 0
			continue
		}
		count++
		if count == 2 {
			out = append(out, StuffByte)
			count = 0
		}
	}
	return append(out, EOFByte), nil
}

// PeriodicRead configures the adapter to issue one Modbus read at a fixed
// interval. All multi-byte fields are little-endian on the wire.
type PeriodicRead struct {
	Baud     uint32
	Interval uint16 // milliseconds
	Bus      uint8
	Size     uint8
	Slave    uint8
	Function uint8
	Address  uint16
	Length   uint16
}

// Payload encodes the configuration record.
func (p PeriodicRead) Payload() []byte {
	b := make([]byte, 0, 14)
	b = binary.LittleEndian.AppendUint32(b, p.Baud)
	b = binary.LittleEndian.AppendUint16(b, p.Interval)
	b = append(b, p.Bus, p.Size, p.Slave, p.Function)
	b = binary.LittleEndian.AppendUint16(b, p.Address)
	b = binary.LittleEndian.AppendUint16(b, p.Length)
	return b
}

// DefaultPeriodicRead reads 16 coils from slave 0x33 at address 4 every
// 40 ms on bus 4 at 115200 baud.
var DefaultPeriodicRead = PeriodicRead{
	Baud:     115200,
	Interval: 40,
	Bus:      4,
	Size:     1,
	Slave:    0x33,
	Function: 0x01,
	Address:  4,
	Length:   16,
}

// ConfigFrameID is the MIN id of a periodic read configuration frame.
const ConfigFrameID = 0x01

// ConfigPacket returns the on-wire configuration frame for p.
func ConfigPacket(p PeriodicRead) ([]byte, error) {
	return Frame{ID: ConfigFrameID, Payload: p.Payload()}.OnWire()
}
