// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ffutop/rtusim/internal/config"
	"github.com/ffutop/rtusim/internal/stats"
	"github.com/ffutop/rtusim/transport/rtu"
	"github.com/ffutop/rtusim/transport/serial"
)

const defaultPollInterval = 2 * time.Millisecond

// Server implements a Modbus RTU over TCP slave.
// Each accepted connection is treated as a serial line and polled with the
// same loop as a real port. Only one master is served at a time: a new
// connection closes the previous one.
type Server struct {
	Address      string
	IdleTimeout  time.Duration
	PollInterval time.Duration
	Counters     *stats.Counters

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new RTU over TCP Server.
func NewServer(address string, idleTimeout time.Duration, counters *stats.Counters) *Server {
	return &Server{
		Address:      address,
		IdleTimeout:  idleTimeout,
		PollInterval: defaultPollInterval,
		Counters:     counters,
	}
}

// Start listens on Address and serves connections until ctx is done.
func (s *Server) Start(ctx context.Context, handler rtu.Handler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	slog.Info("RTU over TCP server listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	var (
		current net.Conn
		done    chan struct{}
	)
	defer func() {
		if current != nil {
			current.Close()
			<-done
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Error("Failed to accept connection", "err", err)
				continue
			}
		}
		if current != nil {
			slog.Info("Replacing RTU over TCP client", "old", current.RemoteAddr(), "new", conn.RemoteAddr())
			current.Close()
			<-done
		}
		current, done = conn, make(chan struct{})
		go func(conn net.Conn, done chan struct{}) {
			defer close(done)
			s.handleConnection(ctx, conn, handler)
		}(conn, done)
	}
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the server listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, handler rtu.Handler) {
	defer conn.Close()
	slog.Info("New RTU over TCP client connected", "addr", conn.RemoteAddr())

	stream := serial.NewStream(conn, s.PollInterval)
	loop := rtu.NewServer(config.SerialConfig{}, s.IdleTimeout, s.Counters)
	if err := loop.Serve(ctx, stream, handler); err != nil {
		slog.Info("RTU over TCP client disconnected", "addr", conn.RemoteAddr(), "err", err)
		return
	}
	slog.Info("RTU over TCP client closed on shutdown", "addr", conn.RemoteAddr())
}
