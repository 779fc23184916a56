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
)

// ExceptionCode is the reason byte of a device exception response.
type ExceptionCode uint8

const (
	IllegalFunction      ExceptionCode = 0x01
	IllegalDataAddress   ExceptionCode = 0x02
	IllegalDataValue     ExceptionCode = 0x03
	SlaveOrServerFailure ExceptionCode = 0x04
	Acknowledge          ExceptionCode = 0x05
	SlaveOrServerBusy    ExceptionCode = 0x06
	NegativeAcknowledge  ExceptionCode = 0x07
	MemoryParity         ExceptionCode = 0x08
	NotDefined           ExceptionCode = 0x09
	GatewayPath          ExceptionCode = 0x0A
	GatewayTarget        ExceptionCode = 0x0B
)

// getExceptionMessage returns a human-readable message for a Modbus exception code.
func getExceptionMessage(code ExceptionCode) string {
	switch code {
	case IllegalFunction:
		return "Illegal function"
	case IllegalDataAddress:
		return "Illegal data address"
	case IllegalDataValue:
		return "Illegal data value"
	case SlaveOrServerFailure:
		return "Slave device failure"
	case Acknowledge:
		return "Acknowledge"
	case SlaveOrServerBusy:
		return "Slave device busy"
	case NegativeAcknowledge:
		return "Negative acknowledge"
	case MemoryParity:
		return "Memory parity error"
	case NotDefined:
		return "Not defined"
	case GatewayPath:
		return "Gateway path unavailable"
	case GatewayTarget:
		return "Gateway target device failed to respond"
	default:
		return "Unknown exception code"
	}
}

// Valid reports whether c is one of the defined exception codes.
func (c ExceptionCode) Valid() bool {
	return c >= IllegalFunction && c <= GatewayTarget
}

func (c ExceptionCode) String() string {
	return getExceptionMessage(c)
}

// Error makes an ExceptionCode usable as an errors.Is target.
func (c ExceptionCode) Error() string {
	return fmt.Sprintf("modbus: exception 0x%02X - %s", uint8(c), getExceptionMessage(c))
}

// ModbusError is a protocol level rejection reported by the device.
// Reissuing the same request will not succeed.
type ModbusError struct {
	FunctionCode  uint8
	ExceptionCode ExceptionCode
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception response to function 0x%02X: code 0x%02X - %s",
		e.FunctionCode, uint8(e.ExceptionCode), getExceptionMessage(e.ExceptionCode))
}

// Is matches a bare ExceptionCode target, e.g. errors.Is(err, IllegalDataAddress).
func (e *ModbusError) Is(target error) bool {
	code, ok := target.(ExceptionCode)
	return ok && code == e.ExceptionCode
}

// Reason names a local validation failure of a request or reply.
type Reason uint8

const (
	UnexpectedReplySize Reason = iota + 1
	BytecountNotEven
	SendBufferEmpty
	RecvBufferEmpty
	SendBufferTooBig
)

var reasonStrings = map[Reason]string{
	UnexpectedReplySize: "unexpected reply size",
	BytecountNotEven:    "byte count not even",
	SendBufferEmpty:     "send buffer empty",
	RecvBufferEmpty:     "receive buffer empty",
	SendBufferTooBig:    "send buffer too big",
}

func (r Reason) String() string {
	if s, ok := reasonStrings[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

func (r Reason) Error() string {
	return "modbus: invalid data: " + r.String()
}

// Is makes every Reason match ErrInvalidData.
func (r Reason) Is(target error) bool {
	return target == ErrInvalidData
}

var (
	// ErrInvalidData matches any Reason.
	ErrInvalidData = errors.New("modbus: invalid data")
	// ErrInvalidResponse means the reply does not belong to the request:
	// transaction id, protocol id or function code mismatch.
	ErrInvalidResponse = errors.New("modbus: invalid response")
	// ErrInvalidFunction means a function was routed to the wrong exchange.
	ErrInvalidFunction = errors.New("modbus: invalid function for this exchange")
	// ErrInvalidCoil is returned by ParseCoil for tokens other than "On" and "Off".
	ErrInvalidCoil = errors.New("modbus: invalid coil value")
	// ErrParseInfo means a device information object is not valid UTF-8.
	ErrParseInfo = errors.New("modbus: device info is not valid UTF-8")
)

// IOError wraps a socket failure, including timeouts.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return "modbus: " + e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

// Timeout reports whether the underlying error is a deadline expiry.
func (e *IOError) Timeout() bool {
	type timeout interface {
		Timeout() bool
	}
	var t timeout
	return errors.As(e.Err, &t) && t.Timeout()
}

func wrapIOError(op string, err error) error {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: op, Err: err}
}
