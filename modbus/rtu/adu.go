// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/rtusim/modbus"
	"github.com/ffutop/rtusim/modbus/crc"
)

// ApplicationDataUnit is a slave address plus PDU, framed with a CRC on the wire.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode decodes and verifies a response frame.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	length := len(raw)
	// Minimum size (including address, function and CRC)
	if length < MinSize {
		err = &modbus.FrameError{Kind: modbus.TooShort, Length: length}
		return
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if checksum != c.Value() {
		err = &modbus.FrameError{Kind: modbus.CRCMismatch, Length: length, Want: c.Value(), Got: checksum}
		return
	}
	adu = &ApplicationDataUnit{}
	adu.SlaveID = raw[0]
	adu.Pdu.FunctionCode = raw[1]
	adu.Pdu.Data = raw[2 : length-2]
	return
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, MaxSize)
		return
	}
	raw = make([]byte, length)

	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	copy(raw[2:], adu.Pdu.Data)

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := c.Value()

	raw[length-1] = byte(checksum >> 8)
	raw[length-2] = byte(checksum)
	return
}

// Verify verifies response length and slave id.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	length := len(resp.Pdu.Data) + 4
	if length < MinSize {
		err = fmt.Errorf("modbus: response length '%v' does not meet minimum '%v'", length, MinSize)
		return
	}
	if req.SlaveID != resp.SlaveID {
		err = fmt.Errorf("modbus: response slave id '%v' does not match request '%v'", resp.SlaveID, req.SlaveID)
		return
	}
	if fc := resp.Pdu.FunctionCode; fc != req.Pdu.FunctionCode && fc != req.Pdu.FunctionCode|modbus.ExceptionFlag {
		err = fmt.Errorf("modbus: response function code '%v' does not match request '%v'", fc, req.Pdu.FunctionCode)
		return
	}
	return
}

// EncodeResponse frames payload as [slaveID][functionCode][payload][CRC LE].
func EncodeResponse(slaveID, functionCode byte, payload []byte) []byte {
	raw := make([]byte, 0, len(payload)+4)
	raw = append(raw, slaveID, functionCode)
	raw = append(raw, payload...)
	return crc.Append(raw)
}

// EncodeException frames an exception response for functionCode.
func EncodeException(slaveID, functionCode, exceptionCode byte) []byte {
	return EncodeResponse(slaveID, functionCode|modbus.ExceptionFlag, []byte{exceptionCode})
}
