// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtu

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ffutop/rtusim/internal/config"
	"github.com/ffutop/rtusim/internal/stats"
	rtupacket "github.com/ffutop/rtusim/modbus/rtu"
)

// mockPort is an in-memory serial.Port. Writes appended with feed become
// available to the server; afterReset is loaded by the first input reset.
type mockPort struct {
	mu         sync.Mutex
	input      []byte
	afterReset []byte
	written    bytes.Buffer
	writeErr   error
	resets     int
}

func (m *mockPort) feed(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.input = append(m.input, p...)
}

func (m *mockPort) Available() (int, error) {
	time.Sleep(200 * time.Microsecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.input), nil
}

func (m *mockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(p, m.input)
	m.input = m.input[n:]
	return n, nil
}

func (m *mockPort) ReadFull(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.input) < len(p) {
		return errors.New("short read")
	}
	n := copy(p, m.input)
	m.input = m.input[n:]
	return nil
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.written.Write(p)
}

func (m *mockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.input = m.afterReset
	m.afterReset = nil
	return nil
}

func (m *mockPort) Close() error { return nil }

func (m *mockPort) output() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func runServer(t *testing.T, s *Server, port *mockPort, handler Handler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, port, handler) }()
	t.Cleanup(cancel)
	return cancel, done
}

func echoHandler(got chan<- []byte) Handler {
	return func(frame []byte) []byte {
		got <- append([]byte(nil), frame...)
		return rtupacket.EncodeResponse(frame[0], frame[1], []byte{0x02, 0x00, 0x2A})
	}
}

func TestServeAnswersFrame(t *testing.T) {
	req := rtupacket.ReadHoldingRegistersRequest(1, 0, 1)
	port := &mockPort{input: append([]byte(nil), req...)}
	got := make(chan []byte, 1)

	s := NewServer(config.SerialConfig{}, 0, nil)
	cancel, done := runServer(t, s, port, echoHandler(got))

	select {
	case frame := <-got:
		if !bytes.Equal(frame, req) {
			t.Errorf("handler got % X, want % X", frame, req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	want := rtupacket.EncodeResponse(1, 0x03, []byte{0x02, 0x00, 0x2A})
	waitFor(t, func() bool { return len(port.output()) == len(want) })
	if out := port.output(); !bytes.Equal(out, want) {
		t.Errorf("written % X, want % X", out, want)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve() = %v, want nil on cancel", err)
	}
}

func TestServeResetsPartialFrame(t *testing.T) {
	req := rtupacket.ReadCoilsRequest(1, 0, 8)
	port := &mockPort{
		input:      []byte{0x01, 0x03, 0x00},
		afterReset: append([]byte(nil), req...),
	}
	got := make(chan []byte, 1)
	counters := &stats.Counters{}

	s := NewServer(config.SerialConfig{}, 5*time.Millisecond, counters)
	runServer(t, s, port, echoHandler(got))

	select {
	case frame := <-got:
		if !bytes.Equal(frame, req) {
			t.Errorf("handler got % X, want % X", frame, req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame after reset not handled")
	}
	if counters.BufferResets.Value() != 1 {
		t.Errorf("BufferResets = %d, want 1", counters.BufferResets.Value())
	}
}

func TestServeIdleTimerRestartsOnSilence(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	port := &mockPort{}
	counters := &stats.Counters{}

	s := NewServer(config.SerialConfig{}, 10*time.Millisecond, counters)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	got := make(chan []byte, 1)
	runServer(t, s, port, echoHandler(got))

	// A long silence must not count against a frame that starts afterwards.
	time.Sleep(20 * time.Millisecond)
	req := rtupacket.ReadCoilsRequest(2, 0, 1)
	port.feed(req[:4])
	port.feed(req[4:])

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("frame not handled")
	}
	if counters.BufferResets.Value() != 0 {
		t.Errorf("BufferResets = %d, want 0", counters.BufferResets.Value())
	}
}

func TestServeCountsWriteErrors(t *testing.T) {
	port := &mockPort{
		input:    rtupacket.WriteSingleCoilRequest(1, 0, true),
		writeErr: errors.New("bus error"),
	}
	counters := &stats.Counters{}
	got := make(chan []byte, 1)

	s := NewServer(config.SerialConfig{}, 0, counters)
	runServer(t, s, port, echoHandler(got))

	<-got
	waitFor(t, func() bool { return counters.WriteErrors.Value() == 1 })
}

func TestServeNilResponse(t *testing.T) {
	port := &mockPort{input: rtupacket.ReadCoilsRequest(1, 0, 1)}
	called := make(chan struct{})

	s := NewServer(config.SerialConfig{}, 0, nil)
	cancel, done := runServer(t, s, port, func(frame []byte) []byte {
		close(called)
		return nil
	})

	<-called
	cancel()
	<-done
	if out := port.output(); len(out) != 0 {
		t.Errorf("written % X for a dropped frame", out)
	}
}
