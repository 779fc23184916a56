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
	"io"
	"os"
	"testing"
)

func TestGetExceptionMessage(t *testing.T) {
	testCases := []struct {
		code    ExceptionCode
		message string
	}{
		{code: 0x01, message: "Illegal function"},
		{code: 0x02, message: "Illegal data address"},
		{code: 0x03, message: "Illegal data value"},
		{code: 0x04, message: "Slave device failure"},
		{code: 0x05, message: "Acknowledge"},
		{code: 0x06, message: "Slave device busy"},
		{code: 0x07, message: "Negative acknowledge"},
		{code: 0x08, message: "Memory parity error"},
		{code: 0x09, message: "Not defined"},
		{code: 0x0A, message: "Gateway path unavailable"},
		{code: 0x0B, message: "Gateway target device failed to respond"},
		{code: 0xFF, message: "Unknown exception code"},
	}

	for _, tc := range testCases {
		message := getExceptionMessage(tc.code)
		if message != tc.message {
			t.Errorf("getExceptionMessage(%#02x) returned incorrect message: got %q, expected %q", uint8(tc.code), message, tc.message)
		}
	}
}

func TestExceptionCodeValid(t *testing.T) {
	for code := 0; code < 256; code++ {
		want := code >= 0x01 && code <= 0x0B
		if got := ExceptionCode(code).Valid(); got != want {
			t.Errorf("ExceptionCode(%#02x).Valid() = %v, want %v", code, got, want)
		}
	}
}

func TestModbusErrorMatching(t *testing.T) {
	err := fmt.Errorf("read failed: %w", &ModbusError{FunctionCode: FuncCodeReadCoils, ExceptionCode: IllegalDataAddress})

	if !errors.Is(err, IllegalDataAddress) {
		t.Error("expected errors.Is to match IllegalDataAddress")
	}
	if errors.Is(err, IllegalFunction) {
		t.Error("errors.Is must not match a different exception code")
	}
	var mbErr *ModbusError
	if !errors.As(err, &mbErr) {
		t.Fatal("expected errors.As to find *ModbusError")
	}
	if mbErr.FunctionCode != FuncCodeReadCoils {
		t.Errorf("FunctionCode = %#02x", mbErr.FunctionCode)
	}
}

func TestReasonMatching(t *testing.T) {
	reasons := []Reason{UnexpectedReplySize, BytecountNotEven, SendBufferEmpty, RecvBufferEmpty, SendBufferTooBig}
	for _, r := range reasons {
		var err error = r
		if !errors.Is(err, ErrInvalidData) {
			t.Errorf("%v should match ErrInvalidData", r)
		}
		if !errors.Is(err, r) {
			t.Errorf("%v should match itself", r)
		}
		if r.String() == "" || r.Error() == "" {
			t.Errorf("reason %d has no text", uint8(r))
		}
	}
	if errors.Is(UnexpectedReplySize, SendBufferTooBig) {
		t.Error("distinct reasons must not match")
	}
	if errors.Is(ErrInvalidResponse, ErrInvalidData) {
		t.Error("ErrInvalidResponse must not match ErrInvalidData")
	}
}

func TestIOError(t *testing.T) {
	err := wrapIOError("read header", io.ErrUnexpectedEOF)
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IOError, got %T", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("IOError should unwrap to the socket error")
	}
	if ioErr.Timeout() {
		t.Error("unexpected EOF is not a timeout")
	}
	if again := wrapIOError("other", err); again != err {
		t.Error("wrapIOError should not wrap twice")
	}

	timeout := wrapIOError("read", os.ErrDeadlineExceeded)
	if !errors.As(timeout, &ioErr) || !ioErr.Timeout() {
		t.Error("deadline expiry should report Timeout")
	}
}
