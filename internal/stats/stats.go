// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package stats keeps protocol counters and per-slave read timing for diagnostics.
package stats

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a simple atomic counter.
type Counter struct {
	value atomic.Uint64
}

// Inc adds one to the counter.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

// Counters tracks the outcome of every frame seen by the simulator.
type Counters struct {
	Frames       Counter // complete 8-byte frames handed to the dispatcher
	Responses    Counter
	Exceptions   Counter
	Passthrough  Counter
	TooShort     Counter
	CRCErrors    Counter
	Filtered     Counter // frames addressed to a slave id we do not serve
	BufferResets Counter // idle-timeout input buffer resets
	WriteErrors  Counter
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Frames       uint64
	Responses    uint64
	Exceptions   uint64
	Passthrough  uint64
	TooShort     uint64
	CRCErrors    uint64
	Filtered     uint64
	BufferResets uint64
	WriteErrors  uint64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Frames:       c.Frames.Value(),
		Responses:    c.Responses.Value(),
		Exceptions:   c.Exceptions.Value(),
		Passthrough:  c.Passthrough.Value(),
		TooShort:     c.TooShort.Value(),
		CRCErrors:    c.CRCErrors.Value(),
		Filtered:     c.Filtered.Value(),
		BufferResets: c.BufferResets.Value(),
		WriteErrors:  c.WriteErrors.Value(),
	}
}

// LogValue implements slog.LogValuer.
func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("frames", s.Frames),
		slog.Uint64("responses", s.Responses),
		slog.Uint64("exceptions", s.Exceptions),
		slog.Uint64("passthrough", s.Passthrough),
		slog.Uint64("too_short", s.TooShort),
		slog.Uint64("crc_errors", s.CRCErrors),
		slog.Uint64("filtered", s.Filtered),
		slog.Uint64("buffer_resets", s.BufferResets),
		slog.Uint64("write_errors", s.WriteErrors),
	)
}

// Timing remembers when each slave id was last read.
type Timing struct {
	mu   sync.Mutex
	last map[byte]time.Time
	now  func() time.Time
}

func NewTiming() *Timing {
	return &Timing{
		last: make(map[byte]time.Time),
		now:  time.Now,
	}
}

// Observe records a read of slaveID and returns the time since the previous
// one. ok is false for the first read of a slave.
func (t *Timing) Observe(slaveID byte) (since time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	prev, ok := t.last[slaveID]
	t.last[slaveID] = now
	if !ok {
		return 0, false
	}
	return now.Sub(prev), true
}
