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

import "fmt"

// Coil is the state of a single bit-addressable point.
type Coil uint8

const (
	Off Coil = iota
	On
)

// Wire values of a coil in a Write Single Coil request.
const (
	CoilOnValue  uint16 = 0xFF00
	CoilOffValue uint16 = 0x0000
)

// CoilFromBool converts true to On and false to Off.
func CoilFromBool(b bool) Coil {
	if b {
		return On
	}
	return Off
}

// ParseCoil parses the literal tokens "On" and "Off".
func ParseCoil(s string) (Coil, error) {
	switch s {
	case "On":
		return On, nil
	case "Off":
		return Off, nil
	}
	return Off, fmt.Errorf("%w: %q", ErrInvalidCoil, s)
}

// Code returns the value written on the wire for this coil.
func (c Coil) Code() uint16 {
	if c == On {
		return CoilOnValue
	}
	return CoilOffValue
}

// Bool reports whether the coil is On.
func (c Coil) Bool() bool {
	return c == On
}

// Not returns the opposite state.
func (c Coil) Not() Coil {
	if c == On {
		return Off
	}
	return On
}

func (c Coil) String() string {
	if c == On {
		return "On"
	}
	return "Off"
}

// MarshalText encodes the coil as "On" or "Off".
func (c Coil) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts the tokens understood by ParseCoil.
func (c *Coil) UnmarshalText(text []byte) error {
	v, err := ParseCoil(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
