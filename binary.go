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

// packedSize returns the number of bytes needed to hold count bits.
func packedSize(count int) int {
	return (count + 7) / 8
}

// UnpackBits expands packed coil states into count values.
// Bit i of the input (LSB first within each byte) becomes coil i.
// The caller guarantees len(data) >= ceil(count/8).
func UnpackBits(data []byte, count uint16) []Coil {
	coils := make([]Coil, count)
	for i := 0; i < int(count); i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if (data[byteIndex]>>bitIndex)&0x01 != 0 {
			coils[i] = On
		} else {
			coils[i] = Off
		}
	}
	return coils
}

// PackBits packs coil states into bytes, LSB first. Unused trailing bits are zero.
func PackBits(coils []Coil) []byte {
	data := make([]byte, packedSize(len(coils)))
	for i, c := range coils {
		if c == On {
			data[i/8] |= 1 << (i % 8)
		}
	}
	return data
}

// UnpackBytes splits 16-bit words into big-endian byte pairs.
func UnpackBytes(words []uint16) []byte {
	data := make([]byte, 2*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(data[2*i:2*i+2], w)
	}
	return data
}

// PackBytes joins big-endian byte pairs into 16-bit words.
// An odd number of bytes fails with BytecountNotEven.
func PackBytes(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, BytecountNotEven
	}
	words := make([]uint16, len(data)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(data[2*i : 2*i+2])
	}
	return words, nil
}
