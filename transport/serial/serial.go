// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial opens serial ports through one of several drivers and exposes
// them as a polled byte stream.
package serial

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	goburrow "github.com/goburrow/serial"
	gridx "github.com/grid-x/serial"
	bugst "go.bug.st/serial"

	"github.com/ffutop/rtusim/internal/config"
)

const (
	// Default timeouts
	defaultPollInterval = 2 * time.Millisecond
	defaultReadTimeout  = 500 * time.Millisecond

	scratchSize = 256
)

// ErrTimeout is returned by ReadFull when the stream stays silent.
var ErrTimeout = errors.New("serial: read timed out")

// Port is a byte stream that can report buffered input and discard it.
type Port interface {
	Available() (int, error)
	ReadFull(p []byte) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

type inputResetter interface {
	ResetInputBuffer() error
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Stream adapts an io.ReadWriteCloser to Port. Every driver read is bounded
// by the poll interval.
type Stream struct {
	rwc         io.ReadWriteCloser
	poll        time.Duration
	readTimeout time.Duration

	pending []byte
	scratch []byte
}

// NewStream wraps rwc. When rwc supports read deadlines (net.Conn) each read
// is bounded by poll; otherwise the underlying driver must already time out.
func NewStream(rwc io.ReadWriteCloser, poll time.Duration) *Stream {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Stream{
		rwc:         rwc,
		poll:        poll,
		readTimeout: defaultReadTimeout,
		scratch:     make([]byte, scratchSize),
	}
}

// SetReadTimeout sets how long ReadFull waits for missing bytes.
func (s *Stream) SetReadTimeout(d time.Duration) {
	if d > 0 {
		s.readTimeout = d
	}
}

// pollRead performs one bounded driver read.
func (s *Stream) pollRead(p []byte) (int, error) {
	if d, ok := s.rwc.(readDeadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(s.poll)); err != nil {
			return 0, err
		}
	}
	n, err := s.rwc.Read(p)
	if err != nil && isTimeout(err) {
		err = nil
	}
	return n, err
}

// Available reads whatever arrived within one poll interval and returns the
// number of buffered bytes.
func (s *Stream) Available() (int, error) {
	if len(s.pending) >= scratchSize {
		return len(s.pending), nil
	}
	n, err := s.pollRead(s.scratch)
	s.pending = append(s.pending, s.scratch[:n]...)
	if err != nil {
		return len(s.pending), err
	}
	return len(s.pending), nil
}

// Read returns buffered bytes first, then at most one poll read. It returns
// 0, nil when nothing arrived.
func (s *Stream) Read(p []byte) (int, error) {
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	return s.pollRead(p)
}

// ReadFull fills p, waiting at most the read timeout for missing bytes.
func (s *Stream) ReadFull(p []byte) error {
	deadline := time.Now().Add(s.readTimeout)
	filled := 0
	for filled < len(p) {
		n, err := s.Read(p[filled:])
		if err != nil {
			return err
		}
		filled += n
		if n == 0 && time.Now().After(deadline) {
			return fmt.Errorf("%w after %d of %d bytes", ErrTimeout, filled, len(p))
		}
	}
	return nil
}

func (s *Stream) Write(p []byte) (int, error) {
	return s.rwc.Write(p)
}

// ResetInputBuffer drops buffered bytes and flushes the driver input queue
// when the driver supports it.
func (s *Stream) ResetInputBuffer() error {
	s.pending = s.pending[:0]
	if r, ok := s.rwc.(inputResetter); ok {
		return r.ResetInputBuffer()
	}
	return nil
}

func (s *Stream) Close() error {
	return s.rwc.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, gridx.ErrTimeout) || errors.Is(err, goburrow.ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Open opens the configured device with the configured driver.
func Open(cfg config.SerialConfig) (*Stream, error) {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	var (
		port io.ReadWriteCloser
		err  error
	)
	switch cfg.Driver {
	case "", "bugst":
		port, err = openBugst(cfg, poll)
	case "gridx":
		port, err = openGridx(cfg, poll)
	case "goburrow":
		port, err = openGoburrow(cfg, poll)
	default:
		return nil, fmt.Errorf("unknown serial driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", cfg.Device, err)
	}

	s := NewStream(port, poll)
	s.SetReadTimeout(cfg.Timeout)
	return s, nil
}

func openBugst(cfg config.SerialConfig, poll time.Duration) (io.ReadWriteCloser, error) {
	mode := &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	switch cfg.Parity {
	case "E":
		mode.Parity = bugst.EvenParity
	case "O":
		mode.Parity = bugst.OddParity
	}
	if cfg.StopBits == 2 {
		mode.StopBits = bugst.TwoStopBits
	}

	port, err := bugst.Open(cfg.Device, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(poll); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

func openGridx(cfg config.SerialConfig, poll time.Duration) (io.ReadWriteCloser, error) {
	return gridx.Open(&gridx.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  poll,
		RS485: gridx.RS485Config{
			Enabled:            cfg.RS485,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		},
	})
}

func openGoburrow(cfg config.SerialConfig, poll time.Duration) (io.ReadWriteCloser, error) {
	return goburrow.Open(&goburrow.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  poll,
	})
}
