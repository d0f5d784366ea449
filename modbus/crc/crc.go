// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the CRC-16/Modbus checksum (poly 0xA001 reflected, init 0xFFFF).
package crc

const (
	initial    = 0xFFFF
	polynomial = 0xA001
)

// CRC is an incremental CRC-16/Modbus accumulator.
type CRC struct {
	value uint16
}

// Reset sets the accumulator back to its initial value.
func (crc *CRC) Reset() *CRC {
	crc.value = initial
	return crc
}

// PushBytes feeds bytes into the accumulator.
func (crc *CRC) PushBytes(bs []byte) *CRC {
	v := crc.value
	for _, b := range bs {
		v ^= uint16(b)
		for i := 0; i < 8; i++ {
			if v&0x0001 != 0 {
				v = (v >> 1) ^ polynomial
			} else {
				v >>= 1
			}
		}
	}
	crc.value = v
	return crc
}

// Value returns the current checksum.
func (crc *CRC) Value() uint16 {
	return crc.value
}

// Checksum computes the CRC of data.
func Checksum(data []byte) uint16 {
	var c CRC
	return c.Reset().PushBytes(data).Value()
}

// Verify reports whether the last two bytes of frame hold the little-endian
// CRC of the bytes before them. Frames shorter than 2 bytes are invalid.
func Verify(frame []byte) bool {
	n := len(frame)
	if n < 2 {
		return false
	}
	received := uint16(frame[n-1])<<8 | uint16(frame[n-2])
	return Checksum(frame[:n-2]) == received
}

// Append appends the CRC of frame to it, low byte first.
func Append(frame []byte) []byte {
	sum := Checksum(frame)
	return append(frame, byte(sum), byte(sum>>8))
}
