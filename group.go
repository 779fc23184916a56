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
	"sort"
)

// Per-request limits for merged reads.
const (
	maxBatchBits      = 2000
	maxBatchRegisters = 125
)

var kindOrder = map[PollKind]int{KindCoils: 0, KindDiscrete: 1, KindHolding: 2, KindInput: 3}

// pollBatch is one read covering items of the same kind that sit back to back.
type pollBatch struct {
	kind     PollKind
	address  uint16
	quantity uint16
	items    []PollItem
}

func (b *pollBatch) limit() int {
	if b.kind == KindCoils || b.kind == KindDiscrete {
		return maxBatchBits
	}
	return maxBatchRegisters
}

// canAdd reports whether item continues b without a gap and still fits one request.
func (b *pollBatch) canAdd(item PollItem) bool {
	if item.Kind != b.kind {
		return false
	}
	end := int(b.address) + int(b.quantity)
	if int(item.Address) != end {
		return false
	}
	return int(b.quantity)+int(item.Quantity) <= b.limit()
}

// groupPollItems merges items of the same kind with logical continuity into
// batches. Batches are ordered by kind (coils, discrete, holding, input) and
// then by address. Items in one batch keep address order.
func groupPollItems(items []PollItem) []pollBatch {
	sorted := make([]PollItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return kindOrder[sorted[i].Kind] < kindOrder[sorted[j].Kind]
		}
		return sorted[i].Address < sorted[j].Address
	})

	var batches []pollBatch
	for _, item := range sorted {
		if n := len(batches); n > 0 && batches[n-1].canAdd(item) {
			batches[n-1].items = append(batches[n-1].items, item)
			batches[n-1].quantity += item.Quantity
			continue
		}
		batches = append(batches, pollBatch{
			kind:     item.Kind,
			address:  item.Address,
			quantity: item.Quantity,
			items:    []PollItem{item},
		})
	}
	return batches
}

// read issues the batch request through client.
func (b *pollBatch) read(client Client) (coils []Coil, registers []uint16, err error) {
	switch b.kind {
	case KindCoils:
		coils, err = client.ReadCoils(b.address, b.quantity)
	case KindDiscrete:
		coils, err = client.ReadDiscreteInputs(b.address, b.quantity)
	case KindHolding:
		registers, err = client.ReadHoldingRegisters(b.address, b.quantity)
	case KindInput:
		registers, err = client.ReadInputRegisters(b.address, b.quantity)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(coils)+len(registers) != int(b.quantity) {
		return nil, nil, UnexpectedReplySize
	}
	return coils, registers, nil
}

// split cuts the batch result into one sample per item.
func (b *pollBatch) split(coils []Coil, registers []uint16) []Sample {
	samples := make([]Sample, 0, len(b.items))
	for _, item := range b.items {
		from := int(item.Address - b.address)
		to := from + int(item.Quantity)
		s := Sample{Tag: item.Tag, Kind: item.Kind, Address: item.Address}
		if coils != nil {
			s.Coils = coils[from:to]
		} else {
			s.Registers = registers[from:to]
		}
		samples = append(samples, s)
	}
	return samples
}
