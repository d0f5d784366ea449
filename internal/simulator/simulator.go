// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simulator answers Modbus RTU request frames from a simulated device memory.
package simulator

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/ffutop/rtusim/internal/device"
	"github.com/ffutop/rtusim/internal/stats"
	"github.com/ffutop/rtusim/modbus"
	"github.com/ffutop/rtusim/modbus/rtu"
)

// Simulator implements the Modbus protocol logic on top of a device.Memory.
type Simulator struct {
	memory   *device.Memory
	slaves   map[byte]struct{}
	counters *stats.Counters
	timing   *stats.Timing
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithSlaveIDs restricts the simulator to the listed ids. Without it every
// slave id is answered.
func WithSlaveIDs(ids []byte) Option {
	return func(s *Simulator) {
		if len(ids) == 0 {
			s.slaves = nil
			return
		}
		s.slaves = make(map[byte]struct{}, len(ids))
		for _, id := range ids {
			s.slaves[id] = struct{}{}
		}
	}
}

// WithCounters records frame outcomes into c.
func WithCounters(c *stats.Counters) Option {
	return func(s *Simulator) { s.counters = c }
}

// WithTiming logs the interval between reads of the same slave.
func WithTiming(t *stats.Timing) Option {
	return func(s *Simulator) { s.timing = t }
}

// New creates a new Simulator.
func New(m *device.Memory, opts ...Option) *Simulator {
	s := &Simulator{memory: m, counters: &stats.Counters{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Counters returns the counters the simulator records into.
func (s *Simulator) Counters() *stats.Counters {
	return s.counters
}

// Handle decodes one raw frame and returns the response frame, or nil when
// the frame must not be answered.
func (s *Simulator) Handle(raw []byte) []byte {
	s.counters.Frames.Inc()

	req, err := rtu.DecodeRequest(raw)
	if err != nil {
		if errors.Is(err, rtu.ErrCRCMismatch) {
			s.counters.CRCErrors.Inc()
		} else {
			s.counters.TooShort.Inc()
		}
		slog.Debug("Dropping malformed frame", "frame", hex.EncodeToString(raw), "err", err)
		return nil
	}

	if s.slaves != nil {
		if _, ok := s.slaves[req.SlaveID]; !ok {
			s.counters.Filtered.Inc()
			slog.Debug("Ignoring frame for other slave", "slave", req.SlaveID)
			return nil
		}
	}

	if req.HasFields() {
		slog.Debug("Request received", "slave", req.SlaveID, "func", modbus.FunctionName(req.FunctionCode),
			"address", req.Address(), "field", req.Quantity())
	} else {
		slog.Debug("Request received", "slave", req.SlaveID, "func", modbus.FunctionName(req.FunctionCode), "frame", hex.EncodeToString(raw))
	}

	var resp []byte
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		s.observe(req)
		resp = s.handleReadCoils(req)
	case modbus.FuncCodeReadHoldingRegisters:
		s.observe(req)
		resp = s.handleReadHoldingRegisters(req)
	case modbus.FuncCodeWriteSingleCoil:
		resp = s.handleWriteSingleCoil(req)
	default:
		s.counters.Passthrough.Inc()
		resp = rtu.EncodeResponse(req.SlaveID, req.FunctionCode, req.Payload())
	}

	if resp != nil {
		s.counters.Responses.Inc()
		slog.Debug("Response built", "slave", req.SlaveID, "response", hex.EncodeToString(resp))
	}
	return resp
}

func (s *Simulator) handleReadCoils(req *rtu.Request) []byte {
	quantity := req.Quantity()
	coils, err := s.memory.ReadCoils(req.Address(), quantity)
	if err != nil {
		return s.exception(req, err)
	}

	byteCount := (int(quantity) + 7) / 8
	payload := make([]byte, 1+byteCount)
	payload[0] = byte(byteCount)
	for i, on := range coils {
		if on {
			payload[1+i/8] |= 1 << uint(i%8)
		}
	}
	return rtu.EncodeResponse(req.SlaveID, req.FunctionCode, payload)
}

func (s *Simulator) handleReadHoldingRegisters(req *rtu.Request) []byte {
	regs, err := s.memory.ReadHoldingRegisters(req.Address(), req.Quantity())
	if err != nil {
		return s.exception(req, err)
	}

	payload := make([]byte, 1, 1+len(regs)*2)
	payload[0] = byte(len(regs) * 2)
	for _, v := range regs {
		payload = binary.BigEndian.AppendUint16(payload, v)
	}
	return rtu.EncodeResponse(req.SlaveID, req.FunctionCode, payload)
}

func (s *Simulator) handleWriteSingleCoil(req *rtu.Request) []byte {
	if _, err := s.memory.WriteSingleCoil(req.Address(), req.Value()); err != nil {
		return s.exception(req, err)
	}
	// Echo request
	return rtu.EncodeResponse(req.SlaveID, req.FunctionCode, req.Raw[2:6])
}

func (s *Simulator) exception(req *rtu.Request, err error) []byte {
	code := byte(modbus.ExceptionCodeServerDeviceFailure)
	var rangeErr *modbus.RangeError
	if errors.As(err, &rangeErr) {
		code = rangeErr.ExceptionCode()
	}
	s.counters.Exceptions.Inc()
	slog.Debug("Rejecting request", "slave", req.SlaveID, "func", modbus.FunctionName(req.FunctionCode), "code", code, "err", err)
	return rtu.EncodeException(req.SlaveID, req.FunctionCode, code)
}

func (s *Simulator) observe(req *rtu.Request) {
	if s.timing == nil {
		return
	}
	if since, ok := s.timing.Observe(req.SlaveID); ok {
		slog.Info("Read timing", "slave", req.SlaveID, "func", modbus.FunctionName(req.FunctionCode),
			"address", req.Address(), "quantity", req.Quantity(), "since_last_ms", float64(since.Microseconds())/1000)
	}
}
