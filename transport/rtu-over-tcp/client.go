// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	rtupacket "github.com/ffutop/rtusim/modbus/rtu"
)

const (
	tcpTimeout = 10 * time.Second
)

// Client sends raw RTU frames to a simulator over a TCP stream.
type Client struct {
	Address string
	Timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewClient allocates and initializes a TCP Client.
func NewClient(address string) *Client {
	return &Client{
		Address: address,
		Timeout: tcpTimeout,
	}
}

// SendRaw writes a request frame and reads one response frame.
func (mb *Client) SendRaw(ctx context.Context, aduRequest []byte) ([]byte, error) {
	if len(aduRequest) < rtupacket.MinSize {
		return nil, fmt.Errorf("request of %d bytes is too short", len(aduRequest))
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := mb.connect(ctx); err != nil {
		return nil, fmt.Errorf("modbus: failed to connect to %s: %w", mb.Address, err)
	}

	deadline := time.Now().Add(mb.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := mb.conn.SetDeadline(deadline); err != nil {
		mb.close()
		return nil, err
	}

	if _, err := mb.conn.Write(aduRequest); err != nil {
		mb.close() // force reconnect next time
		return nil, fmt.Errorf("failed to write to connection: %w", err)
	}

	respBytes, err := rtupacket.ReadResponse(aduRequest[0], aduRequest[1], len(aduRequest)-rtupacket.MinSize, mb.conn, deadline)
	if err != nil {
		mb.close()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if _, err := rtupacket.Decode(respBytes); err != nil {
		return nil, fmt.Errorf("failed to decode response ADU: %w", err)
	}
	return respBytes, nil
}

// Close closes the connection.
func (mb *Client) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.close()
	return nil
}

// connect ensures there is an active connection. Caller must hold the mutex.
func (mb *Client) connect(ctx context.Context) error {
	if mb.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: mb.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", mb.Address)
	if err != nil {
		return err
	}
	mb.conn = conn
	return nil
}

// close closes the connection and resets the state. Caller must hold the mutex.
func (mb *Client) close() {
	if mb.conn != nil {
		mb.conn.Close()
		mb.conn = nil
	}
}
