// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ffutop/rtusim/internal/config"
	"github.com/ffutop/rtusim/min"
	"github.com/ffutop/rtusim/modbus"
	rtupacket "github.com/ffutop/rtusim/modbus/rtu"
	"github.com/ffutop/rtusim/transport/rtu"
	rtuovertcp "github.com/ffutop/rtusim/transport/rtu-over-tcp"
)

type requestFlags struct {
	function uint8
	slave    uint8
	address  uint16
	quantity uint16
	value    string
	regs     []int
}

func (f *requestFlags) bind(fs *pflag.FlagSet) {
	fs.Uint8VarP(&f.function, "func", "f", modbus.FuncCodeReadHoldingRegisters, "Function code (1, 3, 5, 16).")
	fs.Uint8VarP(&f.slave, "slave", "u", 1, "Slave id.")
	fs.Uint16VarP(&f.address, "addr", "a", 0, "Start address.")
	fs.Uint16VarP(&f.quantity, "qty", "q", 1, "Quantity of coils or registers.")
	fs.StringVar(&f.value, "value", "on", "Coil value for function 5 (on, off).")
	fs.IntSliceVar(&f.regs, "regs", nil, "Register values for function 16.")
}

// build returns the request frame described by the flags.
func (f *requestFlags) build() ([]byte, error) {
	switch f.function {
	case modbus.FuncCodeReadCoils:
		return rtupacket.ReadCoilsRequest(f.slave, f.address, f.quantity), nil
	case modbus.FuncCodeReadHoldingRegisters:
		return rtupacket.ReadHoldingRegistersRequest(f.slave, f.address, f.quantity), nil
	case modbus.FuncCodeWriteSingleCoil:
		switch strings.ToLower(f.value) {
		case "on", "1", "true":
			return rtupacket.WriteSingleCoilRequest(f.slave, f.address, true), nil
		case "off", "0", "false":
			return rtupacket.WriteSingleCoilRequest(f.slave, f.address, false), nil
		}
		return nil, fmt.Errorf("invalid coil value %q", f.value)
	case modbus.FuncCodeWriteMultipleRegisters:
		regs := make([]uint16, len(f.regs))
		for i, v := range f.regs {
			if v < 0 || v > 0xFFFF {
				return nil, fmt.Errorf("register value %d out of range", v)
			}
			regs[i] = uint16(v)
		}
		return rtupacket.WriteMultipleRegistersRequest(f.slave, f.address, regs)
	}
	return nil, fmt.Errorf("unsupported function code %d", f.function)
}

var (
	probeFlags requestFlags
	frameFlags requestFlags
	minFlags   = min.DefaultPeriodicRead
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send one request as master and print the response",
	Example: `  rtusim probe --func 3 --addr 0 --qty 2 --slave 1
  rtusim probe --func 5 --addr 3 --value off --tcp 127.0.0.1:5020`,
	RunE: runProbe,
}

var frameCmd = &cobra.Command{
	Use:   "frame",
	Short: "Print a request frame in hex",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := frameFlags.build()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.ToUpper(hex.EncodeToString(req)))
		return nil
	},
}

var minCmd = &cobra.Command{
	Use:   "min",
	Short: "Print the MIN periodic read configuration packet in hex",
	RunE: func(cmd *cobra.Command, args []string) error {
		packet, err := min.ConfigPacket(minFlags)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.ToUpper(hex.EncodeToString(packet)))
		return nil
	},
}

func init() {
	probeFlags.bind(probeCmd.Flags())
	config.BindFlags(probeCmd.Flags())
	frameFlags.bind(frameCmd.Flags())

	fs := minCmd.Flags()
	fs.Uint32Var(&minFlags.Baud, "baud", minFlags.Baud, "Bus baud rate.")
	fs.Uint16Var(&minFlags.Interval, "interval", minFlags.Interval, "Poll interval in milliseconds.")
	fs.Uint8Var(&minFlags.Bus, "bus", minFlags.Bus, "Bus number.")
	fs.Uint8Var(&minFlags.Size, "size", minFlags.Size, "Request size field.")
	fs.Uint8Var(&minFlags.Slave, "slave", minFlags.Slave, "Slave id.")
	fs.Uint8Var(&minFlags.Function, "func", minFlags.Function, "Function code.")
	fs.Uint16Var(&minFlags.Address, "addr", minFlags.Address, "Start address.")
	fs.Uint16Var(&minFlags.Length, "qty", minFlags.Length, "Quantity.")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg.Log)

	req, err := probeFlags.build()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Serial.Timeout+time.Second)
	defer cancel()

	var resp []byte
	if cmd.Flags().Changed("tcp") {
		client := rtuovertcp.NewClient(cfg.Tcp.Address)
		client.Timeout = cfg.Serial.Timeout
		defer client.Close()
		resp, err = client.SendRaw(ctx, req)
	} else {
		client := rtu.NewClient(cfg.Serial)
		defer client.Close()
		resp, err = sendRequest(ctx, client, req)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "request:  %s\n", strings.ToUpper(hex.EncodeToString(req)))
	fmt.Fprintf(out, "response: %s\n", strings.ToUpper(hex.EncodeToString(resp)))
	return describeResponse(out, req, resp)
}

type pduSender interface {
	Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)
}

// sendRequest sends the PDU of a request frame and returns the response
// reframed for the same slave.
func sendRequest(ctx context.Context, s pduSender, req []byte) ([]byte, error) {
	r, err := rtupacket.DecodeRequest(req)
	if err != nil {
		return nil, err
	}
	pdu, err := s.Send(ctx, r.SlaveID, r.PDU())
	if err != nil {
		return nil, err
	}
	return rtupacket.EncodeResponse(r.SlaveID, pdu.FunctionCode, pdu.Data), nil
}

// describeResponse prints the decoded content of a verified response frame.
func describeResponse(w io.Writer, req, resp []byte) error {
	adu, err := rtupacket.Decode(resp)
	if err != nil {
		return err
	}
	data := adu.Pdu.Data

	if adu.Pdu.FunctionCode&modbus.ExceptionFlag != 0 {
		if len(data) < 1 {
			return fmt.Errorf("exception response without code")
		}
		fmt.Fprintf(w, "exception: %s code 0x%02X\n", modbus.FunctionName(adu.Pdu.FunctionCode&^modbus.ExceptionFlag), data[0])
		return nil
	}

	switch adu.Pdu.FunctionCode {
	case modbus.FuncCodeReadCoils:
		quantity := int(binary.BigEndian.Uint16(req[4:6]))
		if len(data) < 1+(quantity+7)/8 {
			return fmt.Errorf("coil response too short")
		}
		start := binary.BigEndian.Uint16(req[2:4])
		for i := 0; i < quantity; i++ {
			on := data[1+i/8]&(1<<uint(i%8)) != 0
			fmt.Fprintf(w, "coil %d: %t\n", int(start)+i, on)
		}
	case modbus.FuncCodeReadHoldingRegisters:
		start := binary.BigEndian.Uint16(req[2:4])
		for i := 0; 1+2*i+1 < len(data); i++ {
			v := binary.BigEndian.Uint16(data[1+2*i:])
			fmt.Fprintf(w, "register %d: %d (0x%04X)\n", int(start)+i, v, v)
		}
	default:
		fmt.Fprintf(w, "%s: %s\n", modbus.FunctionName(adu.Pdu.FunctionCode), strings.ToUpper(hex.EncodeToString(data)))
	}
	return nil
}
