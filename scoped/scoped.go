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

// Package scoped provides guards that put a coil or holding register into
// a known state when a unit of work ends:
//
//	guard, err := scoped.NewCoil(client, 12, scoped.CoilOff)
//	if err != nil {
//		return err
//	}
//	defer guard.Release()
//
// Release is best effort. Failures are not returned; register a hook with
// SetOnError to observe them.
package scoped

import (
	"errors"
	"fmt"
	"sync"

	modbus "github.com/hootrhino/gomodbus-tcp"
)

// ErrNilClient is returned by the constructors when no client is given.
var ErrNilClient = errors.New("scoped: nil client")

// CoilPolicy computes the state written on release.
type CoilPolicy uint8

const (
	CoilOn CoilPolicy = iota + 1
	CoilOff
	CoilToggle
)

func (p CoilPolicy) apply(current modbus.Coil) modbus.Coil {
	switch p {
	case CoilOn:
		return modbus.On
	case CoilOff:
		return modbus.Off
	}
	return current.Not()
}

// RegisterPolicy computes the value written on release from the value read.
type RegisterPolicy func(current uint16) uint16

var (
	RegisterZero      RegisterPolicy = func(uint16) uint16 { return 0 }
	RegisterIncrement RegisterPolicy = func(v uint16) uint16 { return v + 1 }
	RegisterDecrement RegisterPolicy = func(v uint16) uint16 { return v - 1 }
)

// RegisterValue always writes v.
func RegisterValue(v uint16) RegisterPolicy {
	return func(uint16) uint16 { return v }
}

// RegisterFunc writes f(current).
func RegisterFunc(f func(uint16) uint16) RegisterPolicy {
	return RegisterPolicy(f)
}

type guard struct {
	client  modbus.Client
	address uint16
	once    sync.Once
	mu      sync.Mutex
	onError func(error)
}

// SetOnError registers fn to receive release failures.
func (g *guard) SetOnError(fn func(error)) {
	g.mu.Lock()
	g.onError = fn
	g.mu.Unlock()
}

// Client returns the borrowed client for reads and writes inside the scope.
func (g *guard) Client() modbus.Client {
	return g.client
}

// Address returns the guarded address.
func (g *guard) Address() uint16 {
	return g.address
}

func (g *guard) release(restore func() error) {
	g.once.Do(func() {
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("scoped: release of address %d panicked: %v", g.address, r)
				}
			}()
			return restore()
		}()
		if err == nil {
			return
		}
		g.mu.Lock()
		fn := g.onError
		g.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

// CoilGuard restores a coil on Release.
type CoilGuard struct {
	guard
	policy CoilPolicy
}

// NewCoil guards the coil at address. Nothing is sent until Release.
func NewCoil(c modbus.Client, address uint16, policy CoilPolicy) (*CoilGuard, error) {
	if c == nil {
		return nil, ErrNilClient
	}
	if policy < CoilOn || policy > CoilToggle {
		return nil, fmt.Errorf("scoped: unknown coil policy %d", policy)
	}
	return &CoilGuard{guard: guard{client: c, address: address}, policy: policy}, nil
}

// Release reads the coil and writes the state chosen by the policy.
// Only the first call has an effect.
func (g *CoilGuard) Release() {
	g.release(func() error {
		values, err := g.client.ReadCoils(g.address, 1)
		if err != nil {
			return err
		}
		if len(values) != 1 {
			return modbus.UnexpectedReplySize
		}
		return g.client.WriteSingleCoil(g.address, g.policy.apply(values[0]))
	})
}

// RegisterGuard restores a holding register on Release.
type RegisterGuard struct {
	guard
	policy RegisterPolicy
}

// NewRegister guards the holding register at address. Nothing is sent until Release.
func NewRegister(c modbus.Client, address uint16, policy RegisterPolicy) (*RegisterGuard, error) {
	if c == nil {
		return nil, ErrNilClient
	}
	if policy == nil {
		return nil, errors.New("scoped: nil register policy")
	}
	return &RegisterGuard{guard: guard{client: c, address: address}, policy: policy}, nil
}

// Release reads the register and writes the value computed by the policy.
// Increment and decrement wrap around. Only the first call has an effect.
func (g *RegisterGuard) Release() {
	g.release(func() error {
		values, err := g.client.ReadHoldingRegisters(g.address, 1)
		if err != nil {
			return err
		}
		if len(values) != 1 {
			return modbus.UnexpectedReplySize
		}
		return g.client.WriteSingleRegister(g.address, g.policy(values[0]))
	})
}
