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
	"testing"
	"time"
)

func TestGroupPollItems(t *testing.T) {
	items := []PollItem{
		{Tag: "h3", Kind: KindHolding, Address: 103, Quantity: 2},
		{Tag: "c0", Kind: KindCoils, Address: 0, Quantity: 8},
		{Tag: "h0", Kind: KindHolding, Address: 100, Quantity: 3},
		{Tag: "h9", Kind: KindHolding, Address: 110, Quantity: 1},
		{Tag: "i0", Kind: KindInput, Address: 100, Quantity: 1},
		{Tag: "c8", Kind: KindCoils, Address: 8, Quantity: 4},
	}
	batches := groupPollItems(items)

	want := []struct {
		kind     PollKind
		address  uint16
		quantity uint16
		tags     []string
	}{
		{KindCoils, 0, 12, []string{"c0", "c8"}},
		{KindHolding, 100, 5, []string{"h0", "h3"}},
		{KindHolding, 110, 1, []string{"h9"}},
		{KindInput, 100, 1, []string{"i0"}},
	}
	if len(batches) != len(want) {
		t.Fatalf("got %d batches, want %d: %+v", len(batches), len(want), batches)
	}
	for i, w := range want {
		b := batches[i]
		if b.kind != w.kind || b.address != w.address || b.quantity != w.quantity {
			t.Errorf("batch %d = %s@%d x%d, want %s@%d x%d", i, b.kind, b.address, b.quantity, w.kind, w.address, w.quantity)
		}
		if len(b.items) != len(w.tags) {
			t.Errorf("batch %d has %d items, want %d", i, len(b.items), len(w.tags))
			continue
		}
		for j, tag := range w.tags {
			if b.items[j].Tag != tag {
				t.Errorf("batch %d item %d = %s, want %s", i, j, b.items[j].Tag, tag)
			}
		}
	}
}

func TestGroupPollItemsLimits(t *testing.T) {
	items := []PollItem{
		{Tag: "a", Kind: KindHolding, Address: 0, Quantity: 100},
		{Tag: "b", Kind: KindHolding, Address: 100, Quantity: 25},
		{Tag: "c", Kind: KindHolding, Address: 125, Quantity: 1},
		{Tag: "d", Kind: KindDiscrete, Address: 0, Quantity: 2000},
		{Tag: "e", Kind: KindDiscrete, Address: 2000, Quantity: 1},
	}
	batches := groupPollItems(items)
	if len(batches) != 4 {
		t.Fatalf("got %d batches, want 4: %+v", len(batches), batches)
	}
	if batches[2].quantity != 125 || len(batches[2].items) != 2 {
		t.Errorf("register batch = %+v, want a and b merged", batches[2])
	}
	if batches[0].quantity != 2000 || batches[1].address != 2000 {
		t.Errorf("bit batches = %+v %+v", batches[0], batches[1])
	}
}

func TestGroupPollItemsEmpty(t *testing.T) {
	if batches := groupPollItems(nil); len(batches) != 0 {
		t.Errorf("got %d batches", len(batches))
	}
}

func TestPollerMergesRequests(t *testing.T) {
	srv, tr := startDevice(t)
	srv.SetHoldingRegister(0, 1)
	srv.SetHoldingRegister(1, 0x4120)
	srv.SetHoldingRegister(2, 0x0000)
	srv.SetHoldingRegister(3, 0x4F4B)

	p, err := NewPoller(tr, time.Second, []PollItem{
		{Tag: "mode", Kind: KindHolding, Address: 0, Quantity: 1},
		{Tag: "setpoint", Kind: KindHolding, Address: 1, Type: TypeFloat32},
		{Tag: "status", Kind: KindHolding, Address: 3, Quantity: 1, Type: TypeString},
	})
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}
	got := map[string]Sample{}
	p.SetOnData(func(s Sample) { got[s.Tag] = s })

	before := srv.Requests()
	if err := p.PollOnce(); err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}
	if n := srv.Requests() - before; n != 1 {
		t.Errorf("device saw %d requests, want 1", n)
	}
	assertUint16Equal(t, []uint16{1}, got["mode"].Registers)
	if v := got["setpoint"].Values; len(v) != 1 || !FuzzyEqual(v[0], 10) {
		t.Errorf("setpoint values = %v, want [10]", v)
	}
	if got["status"].Text != "OK" {
		t.Errorf("status text = %q", got["status"].Text)
	}
}

func TestPollerBatchFailureFailsEveryItem(t *testing.T) {
	errDown := errors.New("link down")
	client := &fakeClient{fail: map[string]error{"holding": errDown}}
	p, err := NewPoller(client, time.Second, []PollItem{
		{Tag: "a", Kind: KindHolding, Address: 0, Quantity: 1},
		{Tag: "b", Kind: KindHolding, Address: 1, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}
	var reported int
	p.SetOnError(func(error) { reported++ })
	if err := p.PollOnce(); !errors.Is(err, errDown) {
		t.Errorf("error = %v", err)
	}
	if reported != 2 || client.callCount() != 1 {
		t.Errorf("reported %d errors over %d requests, want 2 over 1", reported, client.callCount())
	}
}

func TestNewPollerDataTypes(t *testing.T) {
	p, err := NewPoller(&fakeClient{}, time.Second, []PollItem{
		{Tag: "energy", Kind: KindInput, Address: 0, Type: "uint32[2]", Order: "CDAB"},
	})
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}
	if q := p.Items()[0].Quantity; q != 4 {
		t.Errorf("derived quantity = %d, want 4", q)
	}

	invalid := []PollItem{
		{Tag: "a", Kind: KindCoils, Address: 0, Type: TypeUint16},
		{Tag: "b", Kind: KindHolding, Address: 0, Type: "bcd"},
		{Tag: "c", Kind: KindHolding, Address: 0, Type: TypeFloat32, Order: "BA"},
		{Tag: "d", Kind: KindHolding, Address: 0, Type: TypeString},
	}
	for _, item := range invalid {
		if _, err := NewPoller(&fakeClient{}, time.Second, []PollItem{item}); err == nil {
			t.Errorf("NewPoller should reject %+v", item)
		}
	}
}
