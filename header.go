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

import "encoding/binary"

// Modbus TCP Protocol Constants
const (
	HeaderSize            = 7   // MBAP header length in bytes
	MaxPacketSize         = 260 // Maximum complete frame length
	ProtocolIdentifierTCP = 0x0000
	DefaultPort           = 502
)

// header is the MBAP prefix of every frame.
// Length counts the bytes that follow the length field: unit id plus PDU.
type header struct {
	tid    uint16
	pid    uint16
	length uint16
	uid    uint8
}

// newHeader draws the next transaction id from t for a frame of frameLen bytes.
func newHeader(t *Transport, frameLen int) header {
	return header{
		tid:    t.nextTID(),
		pid:    ProtocolIdentifierTCP,
		length: uint16(frameLen - 6),
		uid:    t.uid,
	}
}

// pack encodes the header as 7 big-endian bytes:
// Transaction Identifier (2) + Protocol Identifier (2) + Length (2) + Unit Identifier (1).
func (h header) pack() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.tid)
	binary.BigEndian.PutUint16(b[2:4], h.pid)
	binary.BigEndian.PutUint16(b[4:6], h.length)
	b[6] = h.uid
	return b
}

func unpackHeader(b []byte) (header, error) {
	if len(b) < HeaderSize {
		return header{}, UnexpectedReplySize
	}
	return header{
		tid:    binary.BigEndian.Uint16(b[0:2]),
		pid:    binary.BigEndian.Uint16(b[2:4]),
		length: binary.BigEndian.Uint16(b[4:6]),
		uid:    b[6],
	}, nil
}

// validateResponseHeader accepts a reply only for the transaction just sent.
// The unit id is not compared; gateways are free to rewrite it.
func validateResponseHeader(req, resp header) error {
	if req.tid != resp.tid || resp.pid != ProtocolIdentifierTCP {
		return ErrInvalidResponse
	}
	return nil
}
