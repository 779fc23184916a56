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

// modbus-tcp is a command line Modbus TCP master.
//
//	modbus-tcp read-holding-registers 192.168.1.10 0 4
//	modbus-tcp write-multiple-coils 192.168.1.10 10 On,Off,On
//	modbus-tcp poll 192.168.1.10 --items points.csv --interval 1s
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	modbus "github.com/hootrhino/gomodbus-tcp"
)

var (
	version   = "0.1.0"
	gitCommit = "unknown"
)

// options holds the persistent flags shared by all subcommands.
type options struct {
	cfgFile        string
	port           int
	unit           uint8
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	verbose        bool
	jsonOutput     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "modbus-tcp",
		Short: "Modbus TCP master",
		Long: `modbus-tcp reads and writes coils and registers of a Modbus TCP device.
Every subcommand takes the device host as its first argument.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		SilenceErrors: true,
	}

	defaults := modbus.DefaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.cfgFile, "config", "c", "", "YAML config file")
	flags.IntVarP(&opts.port, "port", "p", defaults.Port, "device TCP port")
	flags.Uint8VarP(&opts.unit, "unit", "u", defaults.UnitID, "unit identifier")
	flags.DurationVar(&opts.connectTimeout, "connect-timeout", 0, "connect timeout (0 waits forever)")
	flags.DurationVar(&opts.readTimeout, "read-timeout", 0, "read timeout (0 blocks)")
	flags.DurationVar(&opts.writeTimeout, "write-timeout", 0, "write timeout (0 blocks)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every exchange")
	flags.BoolVar(&opts.jsonOutput, "json", false, "JSON output and logs")

	rootCmd.AddCommand(
		newReadBitsCmd(opts, "read-coils", "Read coils (function 0x01)", func(c modbus.Client, a, q uint16) ([]modbus.Coil, error) {
			return c.ReadCoils(a, q)
		}),
		newReadBitsCmd(opts, "read-discrete-inputs", "Read discrete inputs (function 0x02)", func(c modbus.Client, a, q uint16) ([]modbus.Coil, error) {
			return c.ReadDiscreteInputs(a, q)
		}),
		newReadRegistersCmd(opts, "read-holding-registers", "Read holding registers (function 0x03)", func(c modbus.Client, a, q uint16) ([]uint16, error) {
			return c.ReadHoldingRegisters(a, q)
		}),
		newReadRegistersCmd(opts, "read-input-registers", "Read input registers (function 0x04)", func(c modbus.Client, a, q uint16) ([]uint16, error) {
			return c.ReadInputRegisters(a, q)
		}),
		newWriteSingleCoilCmd(opts),
		newWriteMultipleCoilsCmd(opts),
		newWriteSingleRegisterCmd(opts),
		newWriteMultipleRegistersCmd(opts),
		newDeviceInfoCmd(opts),
		newPollCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// config merges defaults, the config file and explicitly set flags, in that order.
func (o *options) config(cmd *cobra.Command) (modbus.Config, error) {
	cfg := modbus.DefaultConfig()
	if o.cfgFile != "" {
		loaded, err := modbus.LoadConfig(o.cfgFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("unit") {
		cfg.UnitID = o.unit
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout = o.connectTimeout
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout = o.readTimeout
	}
	if flags.Changed("write-timeout") {
		cfg.WriteTimeout = o.writeTimeout
	}
	return cfg, cfg.Validate()
}

func (o *options) logger(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	if o.jsonOutput {
		return zerolog.New(w).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

// dial connects to host. Errors past this point are not usage errors.
func (o *options) dial(cmd *cobra.Command, host string) (*modbus.Transport, error) {
	cmd.SilenceUsage = true
	cfg, err := o.config(cmd)
	if err != nil {
		return nil, err
	}
	log := o.logger(cmd.ErrOrStderr())
	t, err := modbus.DialConfig(host, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	t.SetLogger(log)
	log.Debug().Str("host", host).Int("port", cfg.Port).Uint8("unit", cfg.UnitID).Msg("Connected")
	return t, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modbus-tcp %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  Commit:  %s\n", gitCommit)
		},
	}
}
