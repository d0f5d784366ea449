// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/rtusim/modbus"
	"github.com/ffutop/rtusim/modbus/crc"
)

func fixedRequest(slaveID, functionCode byte, a, b uint16) []byte {
	frame := make([]byte, 6, RequestSize)
	frame[0] = slaveID
	frame[1] = functionCode
	binary.BigEndian.PutUint16(frame[2:], a)
	binary.BigEndian.PutUint16(frame[4:], b)
	return crc.Append(frame)
}

// ReadCoilsRequest builds [slave][0x01][start][quantity][CRC].
func ReadCoilsRequest(slaveID byte, start, quantity uint16) []byte {
	return fixedRequest(slaveID, modbus.FuncCodeReadCoils, start, quantity)
}

// ReadHoldingRegistersRequest builds [slave][0x03][start][quantity][CRC].
func ReadHoldingRegistersRequest(slaveID byte, start, quantity uint16) []byte {
	return fixedRequest(slaveID, modbus.FuncCodeReadHoldingRegisters, start, quantity)
}

// WriteSingleCoilRequest builds [slave][0x05][address][0xFF00|0x0000][CRC].
func WriteSingleCoilRequest(slaveID byte, address uint16, on bool) []byte {
	value := modbus.CoilOff
	if on {
		value = modbus.CoilOn
	}
	return fixedRequest(slaveID, modbus.FuncCodeWriteSingleCoil, address, value)
}

// WriteMultipleRegistersRequest builds
// [slave][0x10][start][quantity][byteCount][registers...][CRC].
func WriteMultipleRegistersRequest(slaveID byte, start uint16, registers []uint16) ([]byte, error) {
	quantity := len(registers)
	if quantity == 0 || quantity > modbus.MaxWriteMultipleRegisters {
		return nil, fmt.Errorf("modbus: register quantity %d out of range 1..%d", quantity, modbus.MaxWriteMultipleRegisters)
	}

	frame := make([]byte, 7, 7+quantity*2+2)
	frame[0] = slaveID
	frame[1] = modbus.FuncCodeWriteMultipleRegisters
	binary.BigEndian.PutUint16(frame[2:], start)
	binary.BigEndian.PutUint16(frame[4:], uint16(quantity))
	frame[6] = byte(quantity * 2)
	for _, v := range registers {
		frame = binary.BigEndian.AppendUint16(frame, v)
	}
	return crc.Append(frame), nil
}
