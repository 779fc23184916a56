// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	modbus "github.com/hootrhino/gomodbus-tcp"
)

func parseUint16(name, s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be 0-65535", name, s)
	}
	return uint16(v), nil
}

func parseCoils(s string) ([]modbus.Coil, error) {
	var coils []modbus.Coil
	for _, tok := range strings.Split(s, ",") {
		c, err := modbus.ParseCoil(strings.TrimSpace(tok))
		if err != nil {
			return nil, err
		}
		coils = append(coils, c)
	}
	return coils, nil
}

func parseRegisters(s string) ([]uint16, error) {
	var values []uint16
	for _, tok := range strings.Split(s, ",") {
		v, err := parseUint16("register value", strings.TrimSpace(tok))
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// printResult writes v as JSON or as one "address: value" line per item.
func printResult[T any](w io.Writer, asJSON bool, address uint16, values []T) error {
	if asJSON {
		return json.NewEncoder(w).Encode(map[string]any{"address": address, "values": values})
	}
	for i, v := range values {
		if _, err := fmt.Fprintf(w, "%d: %v\n", int(address)+i, v); err != nil {
			return err
		}
	}
	return nil
}

func newReadBitsCmd(opts *options, use, short string, read func(modbus.Client, uint16, uint16) ([]modbus.Coil, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <host> <address> <quantity>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16("address", args[1])
			if err != nil {
				return err
			}
			quantity, err := parseUint16("quantity", args[2])
			if err != nil {
				return err
			}
			t, err := opts.dial(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()
			coils, err := read(t, address, quantity)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.jsonOutput, address, coils)
		},
	}
}

func newReadRegistersCmd(opts *options, use, short string, read func(modbus.Client, uint16, uint16) ([]uint16, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <host> <address> <quantity>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16("address", args[1])
			if err != nil {
				return err
			}
			quantity, err := parseUint16("quantity", args[2])
			if err != nil {
				return err
			}
			t, err := opts.dial(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()
			values, err := read(t, address, quantity)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.jsonOutput, address, values)
		},
	}
}

func newWriteSingleCoilCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "write-single-coil <host> <address> <On|Off>",
		Short: "Write one coil (function 0x05)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16("address", args[1])
			if err != nil {
				return err
			}
			value, err := modbus.ParseCoil(args[2])
			if err != nil {
				return err
			}
			t, err := opts.dial(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()
			return t.WriteSingleCoil(address, value)
		},
	}
}

func newWriteMultipleCoilsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "write-multiple-coils <host> <address> <On,Off,...>",
		Short: "Write consecutive coils (function 0x0F)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16("address", args[1])
			if err != nil {
				return err
			}
			values, err := parseCoils(args[2])
			if err != nil {
				return err
			}
			t, err := opts.dial(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()
			return t.WriteMultipleCoils(address, values)
		},
	}
}

func newWriteSingleRegisterCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "write-single-register <host> <address> <value>",
		Short: "Write one holding register (function 0x06)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16("address", args[1])
			if err != nil {
				return err
			}
			value, err := parseUint16("register value", args[2])
			if err != nil {
				return err
			}
			t, err := opts.dial(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()
			return t.WriteSingleRegister(address, value)
		},
	}
}

func newWriteMultipleRegistersCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "write-multiple-registers <host> <address> <v1,v2,...>",
		Short: "Write consecutive holding registers (function 0x10)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16("address", args[1])
			if err != nil {
				return err
			}
			values, err := parseRegisters(args[2])
			if err != nil {
				return err
			}
			t, err := opts.dial(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()
			return t.WriteMultipleRegisters(address, values)
		},
	}
}

func newDeviceInfoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "device-info <host> [basic|regular|extended]",
		Short: "Read device identification (function 0x2B / 0x0E)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			category := modbus.DeviceInfoBasic
			if len(args) == 2 {
				c, err := modbus.ParseDeviceInfoCategory(args[1])
				if err != nil {
					return err
				}
				category = c
			}
			t, err := opts.dial(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()
			objects, err := t.ReadDeviceInfo(category)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return json.NewEncoder(out).Encode(objects)
			}
			for _, o := range objects {
				fmt.Fprintln(out, o.String())
			}
			return nil
		},
	}
}
