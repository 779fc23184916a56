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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PollKind selects the table a PollItem reads from.
type PollKind string

const (
	KindCoils    PollKind = "coils"
	KindDiscrete PollKind = "discrete"
	KindHolding  PollKind = "holding"
	KindInput    PollKind = "input"
)

// ParsePollKind accepts the kind names used in CSV files and on the command line.
func ParsePollKind(s string) (PollKind, error) {
	switch k := PollKind(s); k {
	case KindCoils, KindDiscrete, KindHolding, KindInput:
		return k, nil
	}
	return "", fmt.Errorf("unknown poll kind %q", s)
}

// PollItem is one point read on every poll cycle. Register items may carry
// a Type (see DataType) with an optional byte Order and Scale; their
// Quantity then defaults to the size of the type.
type PollItem struct {
	Tag      string   `json:"tag"`
	Kind     PollKind `json:"kind"`
	Address  uint16   `json:"address"`
	Quantity uint16   `json:"quantity"`
	Type     DataType `json:"type,omitempty"`
	Order    string   `json:"order,omitempty"`
	Scale    float64  `json:"scale,omitempty"`
}

func (item PollItem) isBit() bool {
	return item.Kind == KindCoils || item.Kind == KindDiscrete
}

// normalize validates item and derives Quantity from Type when unset.
func (item *PollItem) normalize() error {
	if _, err := ParsePollKind(string(item.Kind)); err != nil {
		return err
	}
	if item.Type != "" {
		if item.isBit() {
			return fmt.Errorf("data type %s needs a register kind, not %s", item.Type, item.Kind)
		}
		if err := ValidateDataType(item.Type, item.Order); err != nil {
			return err
		}
		if item.Quantity == 0 {
			n, err := RegisterCount(item.Type)
			if err != nil {
				return err
			}
			item.Quantity = n
		}
	}
	if item.Quantity == 0 {
		return fmt.Errorf("quantity must be at least 1")
	}
	return nil
}

// Sample is the result of reading one PollItem.
type Sample struct {
	Tag       string    `json:"tag"`
	Kind      PollKind  `json:"kind"`
	Address   uint16    `json:"address"`
	Coils     []Coil    `json:"coils,omitempty"`
	Registers []uint16  `json:"registers,omitempty"`
	Values    []float64 `json:"values,omitempty"`
	Text      string    `json:"text,omitempty"`
	Time      time.Time `json:"time"`
}

// OnDataFunc is a callback type for pushing samples
type OnDataFunc func(Sample)

// OnErrorFunc is a callback type for error reporting
type OnErrorFunc func(error)

// Poller reads a fixed list of items through a Client every interval.
// Items of the same kind at consecutive addresses share one request.
// Requests are issued one at a time, ordered by kind and address.
type Poller struct {
	client   Client
	items    []PollItem
	batches  []pollBatch
	interval time.Duration
	onData   atomic.Value
	onError  atomic.Value
	logger   zerolog.Logger
	mu       sync.Mutex // one in-flight request on client
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller validates items and returns a stopped Poller.
func NewPoller(client Client, interval time.Duration, items []PollItem) (*Poller, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	checked := make([]PollItem, len(items))
	tags := make(map[string]bool)
	for i, item := range items {
		if item.Tag == "" {
			return nil, fmt.Errorf("poll item at address %d has no tag", item.Address)
		}
		if tags[item.Tag] {
			return nil, fmt.Errorf("duplicate tag: %s", item.Tag)
		}
		tags[item.Tag] = true
		if err := item.normalize(); err != nil {
			return nil, fmt.Errorf("tag %s: %w", item.Tag, err)
		}
		checked[i] = item
	}
	return &Poller{
		client:   client,
		items:    checked,
		batches:  groupPollItems(checked),
		interval: interval,
		logger:   zerolog.Nop(),
		stopCh:   make(chan struct{}),
	}, nil
}

// SetOnData sets the callback for samples
func (p *Poller) SetOnData(fn OnDataFunc) {
	p.onData.Store(fn)
}

// SetOnError sets the callback for failed reads
func (p *Poller) SetOnError(fn OnErrorFunc) {
	p.onError.Store(fn)
}

func (p *Poller) SetLogger(l zerolog.Logger) {
	p.logger = l
}

// Items returns the configured poll list.
func (p *Poller) Items() []PollItem {
	return p.items
}

// Start polls once immediately, then on every tick until Stop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.poll()
}

func (p *Poller) poll() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.PollOnce()
		}
	}
}

// Stop ends the polling loop and waits for the current cycle to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// PollOnce reads every item once. Each failure is reported to OnError
// and the joined failures are returned. A failed request fails every item
// it covers.
func (p *Poller) PollOnce() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for i := range p.batches {
		b := &p.batches[i]
		coils, registers, err := b.read(p.client)
		now := time.Now()
		if err != nil {
			for _, item := range b.items {
				errs = append(errs, p.fail(item, err))
			}
			continue
		}
		for j, sample := range b.split(coils, registers) {
			sample.Time = now
			item := b.items[j]
			if item.Type != "" {
				sample.Values, sample.Text, err = DecodeRegisters(sample.Registers, item.Type, item.Order, item.Scale)
				if err != nil {
					errs = append(errs, p.fail(item, err))
					continue
				}
			}
			if cb, _ := p.onData.Load().(OnDataFunc); cb != nil {
				cb(sample)
			}
		}
	}
	return errors.Join(errs...)
}

// fail wraps err with the item tag and reports it.
func (p *Poller) fail(item PollItem, err error) error {
	err = fmt.Errorf("poll %s: %w", item.Tag, err)
	p.logger.Warn().Err(err).Str("tag", item.Tag).Msg("Poll read failed")
	if cb, _ := p.onError.Load().(OnErrorFunc); cb != nil {
		cb(err)
	}
	return err
}
