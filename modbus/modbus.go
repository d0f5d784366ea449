// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the function codes, exception codes and error types
// shared by the RTU codec, the simulated device and the transports.
package modbus

import "fmt"

// Function Codes
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
	FuncCodeMaskWriteRegister      = 0x16

	FuncCodeReadWriteMultipleRegisters = 0x17
	FuncCodeReadFIFOQueue              = 0x18
	FuncCodeReadDeviceIdentification   = 0x2B
)

// ExceptionFlag is OR-ed into the function code of an exception response.
const ExceptionFlag = 0x80

// Exception Codes
const (
	ExceptionCodeIllegalFunction     = 0x01
	ExceptionCodeIllegalDataAddress  = 0x02
	ExceptionCodeIllegalDataValue    = 0x03
	ExceptionCodeServerDeviceFailure = 0x04
)

// Protocol limits for the supported requests.
const (
	MaxReadCoils              = 2000
	MaxReadHoldingRegisters   = 125
	MaxWriteMultipleRegisters = 123

	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// FunctionName returns a short human readable name for logging.
func FunctionName(code byte) string {
	switch code &^ ExceptionFlag {
	case FuncCodeReadCoils:
		return "ReadCoils"
	case FuncCodeReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncCodeReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncCodeReadInputRegisters:
		return "ReadInputRegisters"
	case FuncCodeWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncCodeWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncCodeWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncCodeWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	default:
		return fmt.Sprintf("0x%02X", code)
	}
}
