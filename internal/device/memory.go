// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package device implements the simulated coil and holding register memory.
package device

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/ffutop/rtusim/modbus"
)

const (
	// MaxSize covers the full 16-bit address space.
	MaxSize = 65536

	DefaultDriftPeriod = 100
)

// Pattern selects the initial content of the memory.
type Pattern string

const (
	PatternZero      Pattern = "zero"
	PatternAlternate Pattern = "alternate"
	PatternRandom    Pattern = "random"
)

// Rand is the random source used for register drift.
type Rand interface {
	Uint32() uint32
}

// Option configures a Memory.
type Option func(*Memory)

// WithDriftPeriod applies one drift step every period successful reads.
// A period of 0 disables drift.
func WithDriftPeriod(period uint64) Option {
	return func(m *Memory) { m.drift.period = period }
}

// WithRand injects the random source for register drift and the random pattern.
func WithRand(r Rand) Option {
	return func(m *Memory) { m.rand = r }
}

// WithPattern sets the initial memory content.
func WithPattern(p Pattern) Option {
	return func(m *Memory) { m.pattern = p }
}

type driftState struct {
	period       uint64
	ops          uint64
	lastCoil     uint64
	lastRegister uint64
}

// Memory holds coils and holding registers for addresses
// [startAddr, startAddr+size). All methods are safe for concurrent use and
// a read plus its drift step is atomic.
type Memory struct {
	mu sync.Mutex

	startAddr uint16
	coils     []bool
	holding   []uint16

	drift   driftState
	rand    Rand
	pattern Pattern
}

// New creates a memory of size cells mapped at startAddr.
func New(startAddr uint16, size int, opts ...Option) (*Memory, error) {
	if size < 1 || size > MaxSize {
		return nil, fmt.Errorf("device: memory size %d out of range 1..%d", size, MaxSize)
	}
	if int(startAddr)+size > MaxSize {
		return nil, fmt.Errorf("device: start address %d with size %d exceeds the address space", startAddr, size)
	}

	m := &Memory{
		startAddr: startAddr,
		coils:     make([]bool, size),
		holding:   make([]uint16, size),
		drift:     driftState{period: DefaultDriftPeriod},
		pattern:   PatternZero,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rand == nil {
		m.rand = rand.New(rand.NewSource(1))
	}

	switch m.pattern {
	case PatternZero, "":
	case PatternAlternate:
		for i := range m.coils {
			m.coils[i] = i%2 == 1
			if i%2 == 0 {
				m.holding[i] = 0x00FF
			}
		}
	case PatternRandom:
		for i := range m.coils {
			v := m.rand.Uint32()
			m.coils[i] = v&1 == 1
			m.holding[i] = uint16(v >> 16)
		}
	default:
		return nil, fmt.Errorf("device: unknown pattern %q", m.pattern)
	}
	return m, nil
}

// Size returns the number of coils (and registers).
func (m *Memory) Size() int {
	return len(m.coils)
}

// StartAddr returns the wire address of the first cell.
func (m *Memory) StartAddr() uint16 {
	return m.startAddr
}

// ReadCoils returns a copy of quantity coils starting at wire address start.
func (m *Memory) ReadCoils(start, quantity uint16) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.validateRange(start, quantity, modbus.MaxReadCoils)
	if err != nil {
		return nil, err
	}

	if m.tick() {
		i := m.drift.lastCoil % uint64(len(m.coils))
		m.coils[i] = !m.coils[i]
		m.drift.lastCoil++
	}

	out := make([]bool, quantity)
	copy(out, m.coils[idx:idx+int(quantity)])
	return out, nil
}

// ReadHoldingRegisters returns a copy of quantity registers starting at wire address start.
func (m *Memory) ReadHoldingRegisters(start, quantity uint16) ([]uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.validateRange(start, quantity, modbus.MaxReadHoldingRegisters)
	if err != nil {
		return nil, err
	}

	if m.tick() {
		i := m.drift.lastRegister % uint64(len(m.holding))
		m.holding[i] = uint16(m.rand.Uint32())
		m.drift.lastRegister++
	}

	out := make([]uint16, quantity)
	copy(out, m.holding[idx:idx+int(quantity)])
	return out, nil
}

// WriteSingleCoil sets the coil at wire address addr. value must be 0xFF00
// (ON) or 0x0000 (OFF); the new state is returned.
func (m *Memory) WriteSingleCoil(addr, value uint16) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.validateRange(addr, 1, 1)
	if err != nil {
		return false, err
	}

	var on bool
	switch value {
	case modbus.CoilOn:
		on = true
	case modbus.CoilOff:
		on = false
	default:
		return false, &modbus.RangeError{Kind: modbus.IllegalValue, Address: addr, Quantity: value}
	}
	m.coils[idx] = on
	return on, nil
}

// SetCoil and SetRegister write a cell directly, bypassing drift. They fail
// like the wire operations when the address is outside the memory.
func (m *Memory) SetCoil(addr uint16, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.validateRange(addr, 1, 1)
	if err != nil {
		return err
	}
	m.coils[idx] = on
	return nil
}

func (m *Memory) SetRegister(addr, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.validateRange(addr, 1, 1)
	if err != nil {
		return err
	}
	m.holding[idx] = value
	return nil
}

// Snapshot returns copies of both tables.
func (m *Memory) Snapshot() (coils []bool, holding []uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	coils = append([]bool(nil), m.coils...)
	holding = append([]uint16(nil), m.holding...)
	return
}

// tick counts one successful read and reports whether a drift step is due.
// Caller must hold the mutex.
func (m *Memory) tick() bool {
	if m.drift.period == 0 {
		return false
	}
	m.drift.ops++
	return m.drift.ops%m.drift.period == 0
}

// validateRange maps a wire address to an index. Caller must hold the mutex.
func (m *Memory) validateRange(address, quantity uint16, maxQuantity uint16) (int, error) {
	if quantity < 1 || quantity > maxQuantity {
		return 0, &modbus.RangeError{Kind: modbus.IllegalValue, Address: address, Quantity: quantity}
	}
	idx := int(address) - int(m.startAddr)
	if idx < 0 || idx+int(quantity) > len(m.coils) {
		return 0, &modbus.RangeError{Kind: modbus.IllegalAddress, Address: address, Quantity: quantity}
	}
	return idx, nil
}
