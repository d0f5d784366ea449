// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import (
	"errors"
	"testing"

	"github.com/ffutop/rtusim/modbus"
)

// seqRand returns 0x1000, 0x1001, ... so register drift is predictable.
type seqRand struct{ n uint32 }

func (r *seqRand) Uint32() uint32 {
	r.n++
	return 0x0FFF + r.n
}

func newMemory(t *testing.T, start uint16, size int, opts ...Option) *Memory {
	t.Helper()
	m, err := New(start, size, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name  string
		start uint16
		size  int
		opts  []Option
	}{
		{"ZeroSize", 0, 0, nil},
		{"TooLarge", 0, MaxSize + 1, nil},
		{"Overflow", 65000, 1000, nil},
		{"UnknownPattern", 0, 10, []Option{WithPattern("checkerboard")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.start, tt.size, tt.opts...); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestReadRangeValidation(t *testing.T) {
	m := newMemory(t, 100, 20, WithDriftPeriod(0))

	tests := []struct {
		name     string
		read     func(start, quantity uint16) error
		start    uint16
		quantity uint16
		want     error
	}{
		{"CoilsOK", coils(m), 100, 20, nil},
		{"CoilsBelowStart", coils(m), 99, 1, modbus.ErrIllegalAddress},
		{"CoilsPastEnd", coils(m), 110, 11, modbus.ErrIllegalAddress},
		{"CoilsZeroQuantity", coils(m), 100, 0, modbus.ErrIllegalValue},
		{"CoilsOverCap", coils(m), 100, 2001, modbus.ErrIllegalValue},
		{"RegistersOK", registers(m), 119, 1, nil},
		{"RegistersPastEnd", registers(m), 119, 2, modbus.ErrIllegalAddress},
		{"RegistersOverCap", registers(m), 100, 126, modbus.ErrIllegalValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(tt.start, tt.quantity)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("read error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("read error = %v, want %v", err, tt.want)
			}
		})
	}
}

func coils(m *Memory) func(uint16, uint16) error {
	return func(start, quantity uint16) error {
		_, err := m.ReadCoils(start, quantity)
		return err
	}
}

func registers(m *Memory) func(uint16, uint16) error {
	return func(start, quantity uint16) error {
		_, err := m.ReadHoldingRegisters(start, quantity)
		return err
	}
}

func TestReadHoldingRegistersCapIgnoresSize(t *testing.T) {
	m := newMemory(t, 0, MaxSize)
	if _, err := m.ReadHoldingRegisters(0, 126); !errors.Is(err, modbus.ErrIllegalValue) {
		t.Fatalf("ReadHoldingRegisters(0, 126) error = %v, want IllegalValue", err)
	}
}

func TestCoilDriftRoundRobin(t *testing.T) {
	const size = 4
	m := newMemory(t, 0, size, WithDriftPeriod(1))

	prev := make([]bool, size)
	for step := 0; step < 2*size; step++ {
		got, err := m.ReadCoils(0, size)
		if err != nil {
			t.Fatal(err)
		}
		var flipped []int
		for i := range got {
			if got[i] != prev[i] {
				flipped = append(flipped, i)
			}
		}
		if len(flipped) != 1 || flipped[0] != step%size {
			t.Fatalf("step %d: flipped %v, want [%d]", step, flipped, step%size)
		}
		prev = got
	}
}

func TestRegisterDriftPeriod(t *testing.T) {
	m := newMemory(t, 0, 3, WithDriftPeriod(2), WithRand(&seqRand{}))

	want := [][]uint16{
		{0, 0, 0},
		{0x1000, 0, 0},
		{0x1000, 0, 0},
		{0x1000, 0x1001, 0},
	}
	for i, w := range want {
		got, err := m.ReadHoldingRegisters(0, 3)
		if err != nil {
			t.Fatal(err)
		}
		for j := range w {
			if got[j] != w[j] {
				t.Fatalf("read %d = %04X, want %04X", i, got, w)
			}
		}
	}

	// Coil reads share the operation counter but never touch registers.
	if _, err := m.ReadCoils(0, 1); err != nil {
		t.Fatal(err)
	}
	_, holding := m.Snapshot()
	if holding[2] != 0 {
		t.Errorf("coil read drifted register: %04X", holding)
	}
}

func TestDriftDisabled(t *testing.T) {
	m := newMemory(t, 0, 8, WithDriftPeriod(0))
	for i := 0; i < 10; i++ {
		got, _ := m.ReadCoils(0, 8)
		for _, c := range got {
			if c {
				t.Fatalf("coil changed with drift disabled: %v", got)
			}
		}
	}
}

func TestReadCoilsReturnsCopy(t *testing.T) {
	m := newMemory(t, 0, 4, WithDriftPeriod(0))
	got, _ := m.ReadCoils(0, 4)
	got[0] = true

	coils, _ := m.Snapshot()
	if coils[0] {
		t.Error("ReadCoils result aliases memory")
	}
}

func TestWriteSingleCoil(t *testing.T) {
	m := newMemory(t, 10, 5, WithDriftPeriod(0))

	on, err := m.WriteSingleCoil(12, modbus.CoilOn)
	if err != nil || !on {
		t.Fatalf("WriteSingleCoil(12, 0xFF00) = %v, %v", on, err)
	}
	coils, _ := m.Snapshot()
	if !coils[2] {
		t.Fatal("coil 12 not set")
	}

	if _, err := m.WriteSingleCoil(12, 0x1234); !errors.Is(err, modbus.ErrIllegalValue) {
		t.Fatalf("WriteSingleCoil(12, 0x1234) error = %v, want IllegalValue", err)
	}
	after, _ := m.Snapshot()
	if !after[2] {
		t.Fatal("invalid value modified memory")
	}

	on, err = m.WriteSingleCoil(12, modbus.CoilOff)
	if err != nil || on {
		t.Fatalf("WriteSingleCoil(12, 0x0000) = %v, %v", on, err)
	}

	if _, err := m.WriteSingleCoil(15, modbus.CoilOn); !errors.Is(err, modbus.ErrIllegalAddress) {
		t.Fatalf("WriteSingleCoil(15) error = %v, want IllegalAddress", err)
	}
}

func TestPatterns(t *testing.T) {
	m := newMemory(t, 0, 4, WithPattern(PatternAlternate))
	coils, holding := m.Snapshot()
	wantCoils := []bool{false, true, false, true}
	wantRegs := []uint16{0x00FF, 0, 0x00FF, 0}
	for i := range wantCoils {
		if coils[i] != wantCoils[i] || holding[i] != wantRegs[i] {
			t.Fatalf("alternate pattern = %v %04X", coils, holding)
		}
	}

	a := newMemory(t, 0, 16, WithPattern(PatternRandom), WithRand(&seqRand{}))
	b := newMemory(t, 0, 16, WithPattern(PatternRandom), WithRand(&seqRand{}))
	ac, ah := a.Snapshot()
	bc, bh := b.Snapshot()
	for i := range ac {
		if ac[i] != bc[i] || ah[i] != bh[i] {
			t.Fatal("random pattern not reproducible with the same source")
		}
	}
}

func TestSetCellsBoundaries(t *testing.T) {
	m := newMemory(t, 5, 2)
	if err := m.SetRegister(6, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	if err := m.SetCoil(7, true); !errors.Is(err, modbus.ErrIllegalAddress) {
		t.Fatalf("SetCoil(7) error = %v, want IllegalAddress", err)
	}
	_, holding := m.Snapshot()
	if holding[1] != 0xBEEF {
		t.Errorf("SetRegister did not write: %04X", holding)
	}
}
