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
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	modbus "github.com/hootrhino/gomodbus-tcp"
	"github.com/hootrhino/gomodbus-tcp/internal/publish"
)

type pollOptions struct {
	itemsFile   string
	items       []string
	interval    time.Duration
	count       int
	mqttBroker  string
	mqttTopic   string
	mqttQOS     uint8
	metricsAddr string
}

// parseItemSpec parses tag:kind:address:quantity[:type[:order]]. The
// quantity may be empty when a type is given.
func parseItemSpec(spec string) (modbus.PollItem, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 4 || len(parts) > 6 {
		return modbus.PollItem{}, fmt.Errorf("invalid poll item %q: want tag:kind:address:quantity[:type[:order]]", spec)
	}
	kind, err := modbus.ParsePollKind(parts[1])
	if err != nil {
		return modbus.PollItem{}, err
	}
	address, err := parseUint16("address", parts[2])
	if err != nil {
		return modbus.PollItem{}, err
	}
	item := modbus.PollItem{Tag: parts[0], Kind: kind, Address: address}
	if len(parts) > 4 {
		item.Type = modbus.DataType(parts[4])
	}
	if len(parts) > 5 {
		item.Order = strings.ToUpper(parts[5])
	}
	if parts[3] != "" || item.Type == "" {
		if item.Quantity, err = parseUint16("quantity", parts[3]); err != nil {
			return modbus.PollItem{}, err
		}
	}
	return item, nil
}

func (p *pollOptions) pollItems() ([]modbus.PollItem, error) {
	var items []modbus.PollItem
	if p.itemsFile != "" {
		loaded, err := modbus.LoadPollItemsCSV(p.itemsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load poll items: %w", err)
		}
		items = append(items, loaded...)
	}
	for _, spec := range p.items {
		item, err := parseItemSpec(spec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, errors.New("no poll items: use --items or --item")
	}
	return items, nil
}

func newPollCmd(opts *options) *cobra.Command {
	popts := &pollOptions{}
	cmd := &cobra.Command{
		Use:   "poll <host>",
		Short: "Read a list of points periodically",
		Long: `poll reads every configured point once per interval and prints the
samples, or publishes them as JSON to <mqtt-topic>/<tag> on an MQTT broker.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := popts.pollItems()
			if err != nil {
				return err
			}
			if popts.interval <= 0 {
				return fmt.Errorf("invalid --interval %s", popts.interval)
			}

			t, err := opts.dial(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()
			log := opts.logger(cmd.ErrOrStderr())

			if popts.metricsAddr != "" {
				reg := prometheus.NewRegistry()
				t.SetMetrics(modbus.NewMetrics(reg))
				srv := &http.Server{
					Addr:              popts.metricsAddr,
					Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()
				defer srv.Close()
			}

			var sink publish.Sink
			if popts.mqttBroker != "" {
				mcfg := publish.DefaultMQTTConfig()
				mcfg.Broker = popts.mqttBroker
				mcfg.Topic = popts.mqttTopic
				mcfg.QOS = popts.mqttQOS
				m, err := publish.DialMQTT(mcfg)
				if err != nil {
					return err
				}
				sink = m
			} else {
				sink = publish.NewWriter(cmd.OutOrStdout(), opts.jsonOutput)
			}
			defer sink.Close()

			poller, err := modbus.NewPoller(t, popts.interval, items)
			if err != nil {
				return err
			}
			poller.SetLogger(log)
			poller.SetOnData(func(s modbus.Sample) {
				if err := sink.Publish(s); err != nil {
					log.Warn().Err(err).Str("tag", s.Tag).Msg("Publish failed")
				}
			})

			if popts.count > 0 {
				return runCycles(poller, popts.count, popts.interval)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			poller.Start()
			<-sigCh
			poller.Stop()
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&popts.itemsFile, "items", "", "CSV file with tag,kind,address,quantity[,type,order,scale] rows")
	flags.StringArrayVar(&popts.items, "item", nil, "poll item tag:kind:address:quantity[:type[:order]] (repeatable)")
	flags.DurationVar(&popts.interval, "interval", time.Second, "poll interval")
	flags.IntVar(&popts.count, "count", 0, "stop after this many cycles (0 runs until interrupted)")
	flags.StringVar(&popts.mqttBroker, "mqtt-broker", "", "publish samples to this MQTT broker, e.g. tcp://localhost:1883")
	flags.StringVar(&popts.mqttTopic, "mqtt-topic", "modbus", "MQTT topic prefix")
	flags.Uint8Var(&popts.mqttQOS, "mqtt-qos", 0, "MQTT QoS level")
	flags.StringVar(&popts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// runCycles polls count times, interval apart, and returns the last cycle's error.
func runCycles(p *modbus.Poller, count int, interval time.Duration) error {
	var err error
	for i := 0; i < count; i++ {
		if i > 0 {
			time.Sleep(interval)
		}
		err = p.PollOnce()
	}
	return err
}
