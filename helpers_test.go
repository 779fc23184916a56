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
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/hootrhino/gomodbus-tcp/internal/mbtest"
)

// assertUint16Equal checks if two slices of uint16 are equal.
func assertUint16Equal(t *testing.T, expected []uint16, actual []uint16) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Errorf("Expected length %d, but got %d", len(expected), len(actual))
		return
	}
	for i := range expected {
		if expected[i] != actual[i] {
			t.Errorf("Expected %v, but got %v", expected, actual)
			return
		}
	}
}

// assertCoilsEqual checks if two slices of coils are equal.
func assertCoilsEqual(t *testing.T, expected []Coil, actual []Coil) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Errorf("Expected length %d, but got %d", len(expected), len(actual))
		return
	}
	for i := range expected {
		if expected[i] != actual[i] {
			t.Errorf("Expected %v, but got %v", expected, actual)
			return
		}
	}
}

// startDevice starts an in-process device and returns it with a connected transport.
func startDevice(t *testing.T) (*mbtest.Server, *Transport) {
	t.Helper()
	srv := mbtest.NewServer()
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start test device: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	cfg := DefaultConfig()
	cfg.Port = srv.Port()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	tr, err := DialConfig(srv.Host(), cfg)
	if err != nil {
		t.Fatalf("Failed to connect to test device: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return srv, tr
}

// responder answers one request frame. A nil reply closes the device side,
// an empty one sends nothing.
type responder func(req []byte) []byte

// pipeTransport returns a transport on one end of a net.Pipe with respond
// serving the other end. Requests are forwarded to the returned channel.
func pipeTransport(t *testing.T, cfg Config, respond responder) (*Transport, <-chan []byte) {
	t.Helper()
	client, device := net.Pipe()
	requests := make(chan []byte, 16)

	go func() {
		defer device.Close()
		for {
			hdr := make([]byte, HeaderSize)
			if _, err := io.ReadFull(device, hdr); err != nil {
				return
			}
			rest := make([]byte, int(binary.BigEndian.Uint16(hdr[4:6]))-1)
			if _, err := io.ReadFull(device, rest); err != nil {
				return
			}
			req := append(hdr, rest...)
			requests <- req
			reply := respond(req)
			if reply == nil {
				return
			}
			if len(reply) > 0 {
				if _, err := device.Write(reply); err != nil {
					return
				}
			}
		}
	}()

	tr := NewTransport(client, cfg)
	t.Cleanup(func() { tr.Close() })
	return tr, requests
}

// replyFrame wraps pdu in an MBAP header echoing the request's transaction and unit ids.
func replyFrame(req []byte, pdu ...byte) []byte {
	frame := make([]byte, HeaderSize, HeaderSize+len(pdu))
	copy(frame[0:2], req[0:2])
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(pdu)+1))
	frame[6] = req[6]
	return append(frame, pdu...)
}
