// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/rtusim/internal/config"
	"github.com/ffutop/rtusim/modbus"
	rtupacket "github.com/ffutop/rtusim/modbus/rtu"
	"github.com/ffutop/rtusim/transport/serial"
)

// Client is a Modbus RTU master used to probe a simulator on the bus.
type Client struct {
	Config config.SerialConfig

	mu   sync.Mutex
	port serial.Port
}

// NewClient allocates and initializes a RTU Client.
func NewClient(cfg config.SerialConfig) *Client {
	return &Client{Config: cfg}
}

// Send sends a PDU to the slave and returns the response PDU.
func (mb *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	adu := &rtupacket.ApplicationDataUnit{
		SlaveID: slaveID,
		Pdu:     pdu,
	}

	aduBytes, err := adu.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to encode ADU: %w", err)
	}

	respBytes, err := mb.SendRaw(ctx, aduBytes)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	respAdu, err := rtupacket.Decode(respBytes)
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to decode response ADU: %w", err)
	}
	if err := adu.Verify(respAdu); err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("verification failed: %w", err)
	}
	return respAdu.Pdu, nil
}

// SendRaw writes a complete request frame and reads one response frame.
func (mb *Client) SendRaw(ctx context.Context, aduRequest []byte) ([]byte, error) {
	if len(aduRequest) < rtupacket.MinSize {
		return nil, fmt.Errorf("request of %d bytes is too short", len(aduRequest))
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := mb.connect(ctx); err != nil {
		return nil, err
	}

	// Drop stale input before the request.
	if err := mb.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("failed to reset input: %w", err)
	}

	slog.Debug("send to modbus slave", "request", hex.EncodeToString(aduRequest))
	if _, err := mb.port.Write(aduRequest); err != nil {
		return nil, err
	}

	bytesToRead := rtupacket.CalculateResponseLength(aduRequest)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(mb.calculateDelay(len(aduRequest) + bytesToRead)):
	}

	timeout := mb.Config.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	data, err := rtupacket.ReadResponse(aduRequest[0], aduRequest[1], len(aduRequest)-rtupacket.MinSize, mb.port, time.Now().Add(timeout))
	if err != nil {
		return nil, err
	}
	slog.Debug("recv from modbus slave", "response", hex.EncodeToString(data))
	return data, nil
}

// connect opens the serial port if it is not open yet. Caller must hold the mutex.
func (mb *Client) connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if mb.port == nil {
		port, err := serial.Open(mb.Config)
		if err != nil {
			return err
		}
		mb.port = port
	}
	return nil
}

// Close closes the serial port if it is open.
func (mb *Client) Close() (err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.port != nil {
		err = mb.port.Close()
		mb.port = nil
	}
	return
}

// calculateDelay calculates the needed delay to separate frames.
func (mb *Client) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int

	if mb.Config.BaudRate <= 0 || mb.Config.BaudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / mb.Config.BaudRate
		frameDelay = 35000000 / mb.Config.BaudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
