// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"

	"github.com/ffutop/rtusim/modbus"
	"github.com/ffutop/rtusim/modbus/crc"
)

var (
	ErrTooShort    = &modbus.FrameError{Kind: modbus.TooShort}
	ErrCRCMismatch = &modbus.FrameError{Kind: modbus.CRCMismatch}
)

// Request is a decoded RTU request frame. It is only valid for one dispatch
// cycle and must not be modified.
type Request struct {
	SlaveID      byte
	FunctionCode byte
	Raw          []byte
}

// DecodeRequest parses and verifies a raw request frame.
// Unknown function codes decode successfully without semantic fields.
func DecodeRequest(raw []byte) (*Request, error) {
	length := len(raw)
	if length < RequestSize {
		return nil, &modbus.FrameError{Kind: modbus.TooShort, Length: length}
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[:length-2])
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if checksum != c.Value() {
		return nil, &modbus.FrameError{Kind: modbus.CRCMismatch, Length: length, Want: c.Value(), Got: checksum}
	}

	return &Request{
		SlaveID:      raw[0],
		FunctionCode: raw[1],
		Raw:          raw,
	}, nil
}

// HasFields reports whether the function code carries the two big-endian
// address/quantity (or address/value) fields.
func (r *Request) HasFields() bool {
	switch r.FunctionCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeWriteSingleCoil:
		return true
	}
	return false
}

// Address is the starting (or output) address at raw[2:4].
func (r *Request) Address() uint16 {
	return binary.BigEndian.Uint16(r.Raw[2:4])
}

// Quantity is the number of items requested by a read, at raw[4:6].
func (r *Request) Quantity() uint16 {
	return binary.BigEndian.Uint16(r.Raw[4:6])
}

// Value is the raw output value of a single write, at raw[4:6].
func (r *Request) Value() uint16 {
	return binary.BigEndian.Uint16(r.Raw[4:6])
}

// Payload returns the bytes between the function code and the CRC.
func (r *Request) Payload() []byte {
	return r.Raw[2 : len(r.Raw)-2]
}

// PDU returns the request as a protocol data unit.
func (r *Request) PDU() modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{FunctionCode: r.FunctionCode, Data: r.Payload()}
}
