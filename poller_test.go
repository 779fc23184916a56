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

package modbus

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClient serves reads from fixed values and records every call.
type fakeClient struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (c *fakeClient) record(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	return c.fail[name]
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeClient) ReadCoils(address, quantity uint16) ([]Coil, error) {
	if err := c.record("coils"); err != nil {
		return nil, err
	}
	coils := make([]Coil, quantity)
	coils[0] = On
	return coils, nil
}

func (c *fakeClient) ReadDiscreteInputs(address, quantity uint16) ([]Coil, error) {
	if err := c.record("discrete"); err != nil {
		return nil, err
	}
	return make([]Coil, quantity), nil
}

func (c *fakeClient) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	if err := c.record("holding"); err != nil {
		return nil, err
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = address + uint16(i)
	}
	return values, nil
}

func (c *fakeClient) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	if err := c.record("input"); err != nil {
		return nil, err
	}
	return make([]uint16, quantity), nil
}

func (c *fakeClient) WriteSingleCoil(address uint16, value Coil) error { return nil }

func (c *fakeClient) WriteSingleRegister(address, value uint16) error { return nil }

func (c *fakeClient) WriteMultipleCoils(address uint16, values []Coil) error { return nil }

func (c *fakeClient) WriteMultipleRegisters(address uint16, values []uint16) error { return nil }

func (c *fakeClient) SetUnitID(uid uint8) {}

var testPollItems = []PollItem{
	{Tag: "run", Kind: KindCoils, Address: 0, Quantity: 2},
	{Tag: "door", Kind: KindDiscrete, Address: 4, Quantity: 1},
	{Tag: "speed", Kind: KindHolding, Address: 100, Quantity: 3},
	{Tag: "temp", Kind: KindInput, Address: 7, Quantity: 1},
}

func TestNewPollerValidation(t *testing.T) {
	client := &fakeClient{}
	testCases := []struct {
		name     string
		interval time.Duration
		items    []PollItem
	}{
		{"zero interval", 0, testPollItems},
		{"negative interval", -time.Second, testPollItems},
		{"missing tag", time.Second, []PollItem{{Kind: KindCoils, Quantity: 1}}},
		{"duplicate tag", time.Second, []PollItem{
			{Tag: "a", Kind: KindCoils, Quantity: 1},
			{Tag: "a", Kind: KindHolding, Quantity: 1},
		}},
		{"unknown kind", time.Second, []PollItem{{Tag: "a", Kind: "file", Quantity: 1}}},
		{"zero quantity", time.Second, []PollItem{{Tag: "a", Kind: KindInput}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewPoller(client, tc.interval, tc.items); err == nil {
				t.Error("expected error")
			}
		})
	}

	p, err := NewPoller(client, time.Second, testPollItems)
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}
	if len(p.Items()) != len(testPollItems) {
		t.Errorf("Items() = %v", p.Items())
	}
}

func TestPollOnce(t *testing.T) {
	client := &fakeClient{}
	p, err := NewPoller(client, time.Second, testPollItems)
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}

	var samples []Sample
	p.SetOnData(func(s Sample) { samples = append(samples, s) })
	if err := p.PollOnce(); err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}

	if got := strings.Join(client.calls, ","); got != "coils,discrete,holding,input" {
		t.Errorf("read order = %s", got)
	}
	if len(samples) != 4 {
		t.Fatalf("got %d samples, want 4", len(samples))
	}
	assertCoilsEqual(t, []Coil{On, Off}, samples[0].Coils)
	assertUint16Equal(t, []uint16{100, 101, 102}, samples[2].Registers)
	if samples[2].Tag != "speed" || samples[2].Kind != KindHolding || samples[2].Address != 100 {
		t.Errorf("unexpected sample %+v", samples[2])
	}
	if samples[1].Registers != nil || samples[3].Coils != nil {
		t.Error("samples should only carry the values of their kind")
	}
	if samples[0].Time.IsZero() {
		t.Error("sample time not set")
	}
}

func TestPollOnceErrors(t *testing.T) {
	errBoom := errors.New("boom")
	client := &fakeClient{fail: map[string]error{"discrete": errBoom, "input": IllegalDataAddress}}
	p, err := NewPoller(client, time.Second, testPollItems)
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}

	var reported []error
	var delivered []string
	p.SetOnError(func(err error) { reported = append(reported, err) })
	p.SetOnData(func(s Sample) { delivered = append(delivered, s.Tag) })

	err = p.PollOnce()
	if !errors.Is(err, errBoom) || !errors.Is(err, IllegalDataAddress) {
		t.Errorf("joined error = %v", err)
	}
	if len(reported) != 2 {
		t.Fatalf("reported %d errors, want 2", len(reported))
	}
	if !strings.Contains(reported[0].Error(), "poll door") {
		t.Errorf("error should name the tag: %v", reported[0])
	}
	if strings.Join(delivered, ",") != "run,speed" {
		t.Errorf("delivered = %v", delivered)
	}
}

func TestPollerStartStop(t *testing.T) {
	client := &fakeClient{}
	p, err := NewPoller(client, 10*time.Millisecond, testPollItems[:1])
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}

	samples := make(chan Sample, 64)
	p.SetOnData(func(s Sample) {
		select {
		case samples <- s:
		default:
		}
	})
	p.Start()

	timeout := time.After(2 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-samples:
		case <-timeout:
			t.Fatalf("received %d samples before timeout", i)
		}
	}

	p.Stop()
	p.Stop()
	n := client.callCount()
	time.Sleep(50 * time.Millisecond)
	if client.callCount() != n {
		t.Error("poller kept reading after Stop")
	}
}

func TestPollerWithDevice(t *testing.T) {
	srv, tr := startDevice(t)
	srv.SetHoldingRegister(10, 1234)
	srv.SetCoil(2, true)

	p, err := NewPoller(tr, time.Second, []PollItem{
		{Tag: "level", Kind: KindHolding, Address: 10, Quantity: 1},
		{Tag: "pump", Kind: KindCoils, Address: 0, Quantity: 3},
	})
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}
	got := map[string]Sample{}
	p.SetOnData(func(s Sample) { got[s.Tag] = s })
	if err := p.PollOnce(); err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}
	assertUint16Equal(t, []uint16{1234}, got["level"].Registers)
	assertCoilsEqual(t, []Coil{Off, Off, On}, got["pump"].Coils)
}

func TestParsePollKind(t *testing.T) {
	for _, s := range []string{"coils", "discrete", "holding", "input"} {
		if k, err := ParsePollKind(s); err != nil || string(k) != s {
			t.Errorf("ParsePollKind(%q) = %q, %v", s, k, err)
		}
	}
	if _, err := ParsePollKind("Holding"); err == nil {
		t.Error("ParsePollKind should be case sensitive")
	}
}
