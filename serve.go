// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ffutop/rtusim/internal/config"
	"github.com/ffutop/rtusim/internal/device"
	"github.com/ffutop/rtusim/internal/simulator"
	"github.com/ffutop/rtusim/internal/stats"
	"github.com/ffutop/rtusim/transport/rtu"
	rtuovertcp "github.com/ffutop/rtusim/transport/rtu-over-tcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulated slave",
	Long: `Poll the serial port for 8-byte request frames and answer Read Coils (0x01),
Read Holding Registers (0x03) and Write Single Coil (0x05). Other function codes
are echoed back with a fresh CRC.`,
	RunE: runServe,
}

func init() {
	config.BindFlags(serveCmd.Flags())
}

func newSimulator(cfg *config.Config) (*simulator.Simulator, *device.Memory, *stats.Counters, error) {
	memory, err := device.New(uint16(cfg.Device.StartAddr), cfg.Device.Size,
		device.WithDriftPeriod(cfg.Device.DriftPeriod),
		device.WithRand(rand.New(rand.NewSource(cfg.Device.Seed))),
		device.WithPattern(device.Pattern(cfg.Device.Pattern)),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	ids, err := simulator.ParseSlaveIDs(cfg.Server.SlaveIDs)
	if err != nil {
		return nil, nil, nil, err
	}

	counters := &stats.Counters{}
	opts := []simulator.Option{
		simulator.WithSlaveIDs(ids),
		simulator.WithCounters(counters),
	}
	if cfg.Server.Timing {
		opts = append(opts, simulator.WithTiming(stats.NewTiming()))
	}
	return simulator.New(memory, opts...), memory, counters, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg.Log)

	sim, memory, counters, err := newSimulator(cfg)
	if err != nil {
		return err
	}

	slog.Info("Starting Modbus RTU simulator...",
		"device", cfg.Serial.Device,
		"start_addr", memory.StartAddr(),
		"size", memory.Size(),
		"drift_period", cfg.Device.DriftPeriod,
		"slave_ids", cfg.Server.SlaveIDs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type starter interface {
		Start(ctx context.Context, handler rtu.Handler) error
	}
	servers := []starter{rtu.NewServer(cfg.Serial, cfg.Server.IdleTimeout, counters)}
	if cfg.Tcp.Enabled {
		servers = append(servers, rtuovertcp.NewServer(cfg.Tcp.Address, cfg.Server.IdleTimeout, counters))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, srv := range servers {
		wg.Add(1)
		go func(s starter) {
			defer wg.Done()
			if err := s.Start(ctx, sim.Handle); err != nil {
				slog.Error("Server stopped with error", "err", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
			}
		}(srv)
	}

	<-ctx.Done()
	slog.Info("Shutting down...")
	wg.Wait()

	slog.Info("Frame statistics", "stats", counters.Snapshot())
	coils, holding := memory.Snapshot()
	slog.Debug("Final memory", "coils", coils, "holding", holding)
	slog.Info("Goodbye.")
	return errors.Join(errs...)
}
