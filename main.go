// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command rtusim simulates a Modbus RTU slave on a serial line.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ffutop/rtusim/internal/config"
)

var version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rtusim",
	Short: "Modbus RTU slave simulator",
	Long: `rtusim answers Modbus RTU requests on a serial port (and optionally RTU over TCP)
from a simulated device memory of coils and holding registers.

Examples:
  # Serve 64 coils/registers on /dev/ttyUSB0
  rtusim serve --device /dev/ttyUSB0 --size 64

  # Read two holding registers from slave 1
  rtusim probe --func 3 --addr 0 --qty 2 --slave 1

  # Print a request frame without sending it
  rtusim frame --func 1 --addr 4 --qty 16 --slave 51`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path.")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(frameCmd)
	rootCmd.AddCommand(minCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
