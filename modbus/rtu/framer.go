// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ffutop/rtusim/modbus"
)

var ErrRequestTimedOut = errors.New("modbus: request timed out")

const (
	stateSlaveID = 1 << iota
	stateFunctionCode
	stateReadLength
	stateReadPayload
	stateCRC
)

type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

// CalculateResponseLength returns the expected length of the response to the
// request ADU. Unknown function codes are answered by echo, so they expect a
// frame as long as the request.
func CalculateResponseLength(adu []byte) int {
	length := MinSize
	switch adu[1] {
	case modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadCoils:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count/8
		if count%8 != 0 {
			length++
		}
	case modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeReadHoldingRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleRegisters:
		length += 4
	default:
		length = len(adu)
	}
	return length
}

// ReadResponse reads an RTU frame incrementally from the reader.
// Bytes before the expected slave id are skipped. Function codes without a
// known layout are read as an echo of payloadLen bytes.
func ReadResponse(slaveID, functionCode byte, payloadLen int, r io.Reader, deadline time.Time) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	buf := make([]byte, 1)
	data := make([]byte, MaxSize)

	state := stateSlaveID
	var toRead int
	var n, crcCount int

	for {
		if time.Now().After(deadline) {
			return nil, ErrRequestTimedOut
		}

		nr, err := r.Read(buf)
		if err != nil {
			return nil, err
		}
		if nr == 0 {
			continue
		}

		switch state {
		case stateSlaveID:
			if buf[0] == slaveID {
				state = stateFunctionCode
				data[n] = buf[0]
				n++
			}
		case stateFunctionCode:
			data[n] = buf[0]
			n++
			switch {
			case buf[0] == functionCode|modbus.ExceptionFlag:
				state = stateReadPayload
				toRead = 1
			case buf[0] != functionCode:
				return nil, fmt.Errorf("modbus: response function code 0x%02X does not match request 0x%02X", buf[0], functionCode)
			case functionCode == modbus.FuncCodeReadCoils,
				functionCode == modbus.FuncCodeReadDiscreteInputs,
				functionCode == modbus.FuncCodeReadHoldingRegisters,
				functionCode == modbus.FuncCodeReadInputRegisters:
				state = stateReadLength
			case functionCode == modbus.FuncCodeWriteSingleCoil,
				functionCode == modbus.FuncCodeWriteSingleRegister,
				functionCode == modbus.FuncCodeWriteMultipleCoils,
				functionCode == modbus.FuncCodeWriteMultipleRegisters:
				state = stateReadPayload
				toRead = 4
			default:
				if payloadLen <= 0 || payloadLen > MaxSize-MinSize {
					return nil, fmt.Errorf("functioncode not handled: %d", functionCode)
				}
				state = stateReadPayload
				toRead = payloadLen
			}
		case stateReadLength:
			length := buf[0]
			if int(length) > MaxSize-5 || length == 0 {
				return nil, &InvalidLengthError{Length: length}
			}
			toRead = int(length)
			data[n] = length
			n++
			state = stateReadPayload
		case stateReadPayload:
			data[n] = buf[0]
			toRead--
			n++
			if toRead == 0 {
				state = stateCRC
			}
		case stateCRC:
			data[n] = buf[0]
			crcCount++
			n++
			if crcCount == 2 {
				return data[:n], nil
			}
		}
	}
}
