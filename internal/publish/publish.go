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

// Package publish delivers poll samples to a terminal or an MQTT broker.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	modbus "github.com/hootrhino/gomodbus-tcp"
)

// Sink receives samples from a poller.
type Sink interface {
	Publish(modbus.Sample) error
	Close() error
}

// Writer prints one line per sample, as text or as JSON.
type Writer struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func NewWriter(w io.Writer, asJSON bool) *Writer {
	return &Writer{w: w, json: asJSON}
}

func (p *Writer) Publish(s modbus.Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		return json.NewEncoder(p.w).Encode(s)
	}
	_, err := fmt.Fprintf(p.w, "%s %s %s@%d %s\n",
		s.Time.Format(time.RFC3339), s.Tag, s.Kind, s.Address, FormatValues(s))
	return err
}

func (p *Writer) Close() error { return nil }

// FormatValues renders the values of s as a bracketed list. Decoded values
// take precedence over raw registers.
func FormatValues(s modbus.Sample) string {
	if s.Text != "" {
		return strconv.Quote(s.Text)
	}
	var parts []string
	switch {
	case len(s.Values) > 0:
		for _, v := range s.Values {
			parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
		}
	case len(s.Coils) > 0:
		for _, c := range s.Coils {
			parts = append(parts, c.String())
		}
	default:
		for _, r := range s.Registers {
			parts = append(parts, strconv.FormatUint(uint64(r), 10))
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker         string        `yaml:"broker" json:"broker"`
	ClientID       string        `yaml:"client_id" json:"client_id"`
	Username       string        `yaml:"username" json:"username"`
	Password       string        `yaml:"password" json:"password"`
	Topic          string        `yaml:"topic" json:"topic"`
	QOS            byte          `yaml:"qos" json:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// DefaultMQTTConfig returns a local broker with topic "modbus".
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       fmt.Sprintf("modbus-tcp-%d", time.Now().Unix()),
		Topic:          "modbus",
		ConnectTimeout: 10 * time.Second,
	}
}

// MQTT publishes every sample as JSON to <topic>/<tag>.
type MQTT struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

// DialMQTT connects to the broker in cfg.
func DialMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return NewMQTT(client, cfg.Topic, cfg.QOS, cfg.ConnectTimeout), nil
}

// NewMQTT wraps an already connected client.
func NewMQTT(client mqtt.Client, topic string, qos byte, timeout time.Duration) *MQTT {
	return &MQTT{client: client, topic: strings.TrimSuffix(topic, "/"), qos: qos, timeout: timeout}
}

// Topic returns the topic a sample is published to.
func (m *MQTT) Topic(s modbus.Sample) string {
	return m.topic + "/" + s.Tag
}

func (m *MQTT) Publish(s modbus.Sample) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.Topic(s), m.qos, false, payload)
	if m.timeout > 0 && !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt publish to %s timed out", m.Topic(s))
	}
	if m.timeout <= 0 {
		token.Wait()
	}
	return token.Error()
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
