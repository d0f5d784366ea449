// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "fmt"

// FrameErrorKind classifies malformed or corrupted input.
type FrameErrorKind int

const (
	TooShort FrameErrorKind = iota + 1
	CRCMismatch
)

func (k FrameErrorKind) String() string {
	switch k {
	case TooShort:
		return "too short"
	case CRCMismatch:
		return "crc mismatch"
	default:
		return "unknown"
	}
}

// FrameError is returned when a raw frame cannot be decoded.
// Frame errors are never answered on the wire.
type FrameError struct {
	Kind   FrameErrorKind
	Length int
	Want   uint16
	Got    uint16
}

func (e *FrameError) Error() string {
	switch e.Kind {
	case TooShort:
		return fmt.Sprintf("modbus: frame length %d does not meet minimum", e.Length)
	case CRCMismatch:
		return fmt.Sprintf("modbus: frame crc 0x%04X does not match expected 0x%04X", e.Got, e.Want)
	default:
		return "modbus: invalid frame"
	}
}

// Is reports whether target is a FrameError of the same kind, so callers can
// match with errors.Is(err, rtu.ErrCRCMismatch).
func (e *FrameError) Is(target error) bool {
	t, ok := target.(*FrameError)
	return ok && t.Kind == e.Kind
}

// RangeErrorKind classifies a well-formed but semantically invalid request.
type RangeErrorKind int

const (
	IllegalAddress RangeErrorKind = iota + 1
	IllegalValue
)

// RangeError is returned by the device memory when a request falls outside
// the configured address space or carries an invalid quantity/value.
type RangeError struct {
	Kind     RangeErrorKind
	Address  uint16
	Quantity uint16
}

func (e *RangeError) Error() string {
	if e.Kind == IllegalValue {
		return fmt.Sprintf("modbus: illegal data value (address %d, quantity/value %d)", e.Address, e.Quantity)
	}
	return fmt.Sprintf("modbus: illegal data address (address %d, quantity %d)", e.Address, e.Quantity)
}

func (e *RangeError) Is(target error) bool {
	t, ok := target.(*RangeError)
	return ok && t.Kind == e.Kind
}

// ExceptionCode maps the error to the Modbus exception code sent on the wire.
func (e *RangeError) ExceptionCode() byte {
	if e.Kind == IllegalValue {
		return ExceptionCodeIllegalDataValue
	}
	return ExceptionCodeIllegalDataAddress
}

// Sentinels for errors.Is matching.
var (
	ErrIllegalAddress = &RangeError{Kind: IllegalAddress}
	ErrIllegalValue   = &RangeError{Kind: IllegalValue}
)
