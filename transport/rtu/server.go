// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/ffutop/rtusim/internal/config"
	"github.com/ffutop/rtusim/internal/stats"
	rtupacket "github.com/ffutop/rtusim/modbus/rtu"
	"github.com/ffutop/rtusim/transport/serial"
)

// DefaultIdleTimeout is the silence after which a partial frame is discarded.
const DefaultIdleTimeout = 10 * time.Millisecond

// Handler answers one raw request frame. A nil response is not written.
// The frame buffer is reused after Handler returns.
type Handler func(frame []byte) []byte

// Server implements a Modbus RTU slave loop on a serial port.
// It polls the port for complete fixed-size request frames.
type Server struct {
	Config      config.SerialConfig
	IdleTimeout time.Duration
	Counters    *stats.Counters

	now func() time.Time
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig, idleTimeout time.Duration, counters *stats.Counters) *Server {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if counters == nil {
		counters = &stats.Counters{}
	}
	return &Server{
		Config:      cfg,
		IdleTimeout: idleTimeout,
		Counters:    counters,
		now:         time.Now,
	}
}

// Start opens the serial port and runs the polling loop until ctx is done.
func (s *Server) Start(ctx context.Context, handler Handler) error {
	port, err := serial.Open(s.Config)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
	}
	defer port.Close()
	slog.Info("RTU Server listening", "device", s.Config.Device, "driver", s.Config.Driver, "baud", s.Config.BaudRate)

	return s.Serve(ctx, port, handler)
}

// Serve runs the polling loop on an opened port. It returns nil when ctx is
// done and an error only when the port is closed underneath it.
func (s *Server) Serve(ctx context.Context, port serial.Port, handler Handler) error {
	frame := make([]byte, rtupacket.RequestSize)
	lastActivity := s.now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := port.Available()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isClosed(err) {
				return err
			}
			slog.Warn("Serial read failed", "err", err)
			s.reset(port)
			lastActivity = s.now()
			time.Sleep(s.IdleTimeout)
			continue
		}

		now := s.now()
		switch {
		case n >= rtupacket.RequestSize:
			if err := port.ReadFull(frame); err != nil {
				slog.Warn("Serial read failed", "err", err)
				s.reset(port)
				lastActivity = s.now()
				continue
			}
			lastActivity = now

			resp := handler(frame)
			if resp == nil {
				continue
			}
			if _, err := port.Write(resp); err != nil {
				s.Counters.WriteErrors.Inc()
				slog.Warn("Failed to write response", "response", hex.EncodeToString(resp), "err", err)
				if isClosed(err) {
					return err
				}
			}
		case n > 0:
			if now.Sub(lastActivity) > s.IdleTimeout {
				slog.Debug("Discarding partial frame", "pending", n, "idle", now.Sub(lastActivity))
				s.reset(port)
				s.Counters.BufferResets.Inc()
				lastActivity = now
			}
		default:
			lastActivity = now
		}
	}
}

func (s *Server) reset(port serial.Port) {
	if err := port.ResetInputBuffer(); err != nil {
		slog.Warn("Failed to reset input buffer", "err", err)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}
