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
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DataType names how a run of holding or input registers is interpreted,
// e.g. "uint16", "int32", "float32" or the array form "float32[4]".
type DataType string

// Supported base types
const (
	TypeUint16  DataType = "uint16"
	TypeInt16   DataType = "int16"
	TypeUint32  DataType = "uint32"
	TypeInt32   DataType = "int32"
	TypeFloat32 DataType = "float32"
	TypeUint64  DataType = "uint64"
	TypeInt64   DataType = "int64"
	TypeFloat64 DataType = "float64"
	TypeString  DataType = "string"
)

var arrayTypePattern = regexp.MustCompile(`^(\w+)\[(\d+)\]$`)

// parseArrayType splits "float32[4]" into its base type and element count.
// A plain type has count 1.
func parseArrayType(dataType DataType) (DataType, int, error) {
	s := strings.TrimSpace(string(dataType))
	if s == "" {
		return "", 0, fmt.Errorf("empty data type")
	}
	if !strings.Contains(s, "[") {
		return DataType(s), 1, nil
	}
	matches := arrayTypePattern.FindStringSubmatch(s)
	if len(matches) != 3 {
		return "", 0, fmt.Errorf("invalid array type format: %s (expected format: type[count])", s)
	}
	count, err := strconv.Atoi(matches[2])
	if err != nil || count < 1 {
		return "", 0, fmt.Errorf("invalid array length in type %s", s)
	}
	return DataType(matches[1]), count, nil
}

// elementSize returns the bytes per element. Strings take whatever was read.
func elementSize(base DataType) (int, error) {
	switch base {
	case TypeUint16, TypeInt16:
		return 2, nil
	case TypeUint32, TypeInt32, TypeFloat32:
		return 4, nil
	case TypeUint64, TypeInt64, TypeFloat64:
		return 8, nil
	case TypeString:
		return 0, nil
	}
	return 0, fmt.Errorf("unknown data type: %s", base)
}

// RegisterCount returns the number of registers dataType occupies.
// Strings have no fixed size and yield 0.
func RegisterCount(dataType DataType) (uint16, error) {
	base, count, err := parseArrayType(dataType)
	if err != nil {
		return 0, err
	}
	size, err := elementSize(base)
	if err != nil {
		return 0, err
	}
	return uint16(count * size / 2), nil
}

var byteOrders = map[int][]string{
	2: {"AB", "BA"},
	4: {"ABCD", "DCBA", "BADC", "CDAB"},
	8: {"ABCDEFGH", "HGFEDCBA", "BADCFEHG", "GHEFCDAB"},
}

// validOrder reports whether order applies to elements of size bytes.
// The empty order is big endian.
func validOrder(order string, size int) bool {
	if order == "" || size == 0 {
		return true
	}
	for _, o := range byteOrders[size] {
		if o == order {
			return true
		}
	}
	return false
}

// reorderBytes rearranges data, given in wire order ABCD..., into big endian.
func reorderBytes(data []byte, order string) []byte {
	switch order {
	case "BA":
		return []byte{data[1], data[0]}
	case "DCBA":
		return []byte{data[3], data[2], data[1], data[0]}
	case "BADC":
		return []byte{data[1], data[0], data[3], data[2]}
	case "CDAB":
		return []byte{data[2], data[3], data[0], data[1]}
	case "HGFEDCBA":
		return []byte{data[7], data[6], data[5], data[4], data[3], data[2], data[1], data[0]}
	case "BADCFEHG":
		return []byte{data[1], data[0], data[3], data[2], data[5], data[4], data[7], data[6]}
	case "GHEFCDAB":
		return []byte{data[6], data[7], data[4], data[5], data[2], data[3], data[0], data[1]}
	}
	return data
}

// ValidateDataType checks dataType and order together.
func ValidateDataType(dataType DataType, order string) error {
	base, _, err := parseArrayType(dataType)
	if err != nil {
		return err
	}
	size, err := elementSize(base)
	if err != nil {
		return err
	}
	if !validOrder(order, size) {
		return fmt.Errorf("byte order %q does not apply to %s", order, base)
	}
	return nil
}

// DecodeRegisters interprets registers as dataType. Numeric results are
// multiplied by scale unless scale is 0; strings are returned in text with
// trailing NULs and spaces removed.
func DecodeRegisters(registers []uint16, dataType DataType, order string, scale float64) (values []float64, text string, err error) {
	if err := ValidateDataType(dataType, order); err != nil {
		return nil, "", err
	}
	base, count, _ := parseArrayType(dataType)
	size, _ := elementSize(base)

	raw := UnpackBytes(registers)
	if base == TypeString {
		text = string(raw)
		if i := strings.IndexByte(text, 0); i >= 0 {
			text = text[:i]
		}
		return nil, strings.TrimSpace(text), nil
	}
	if len(raw) < size*count {
		return nil, "", fmt.Errorf("insufficient data for %s: have %d bytes, need %d", dataType, len(raw), size*count)
	}
	if scale == 0 {
		scale = 1
	}

	values = make([]float64, count)
	for i := range values {
		elem := reorderBytes(raw[i*size:(i+1)*size], order)
		values[i] = decodeElement(elem, base) * scale
	}
	return values, "", nil
}

func decodeElement(b []byte, base DataType) float64 {
	switch base {
	case TypeUint16:
		return float64(binary.BigEndian.Uint16(b))
	case TypeInt16:
		return float64(int16(binary.BigEndian.Uint16(b)))
	case TypeUint32:
		return float64(binary.BigEndian.Uint32(b))
	case TypeInt32:
		return float64(int32(binary.BigEndian.Uint32(b)))
	case TypeFloat32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case TypeUint64:
		return float64(binary.BigEndian.Uint64(b))
	case TypeInt64:
		return float64(int64(binary.BigEndian.Uint64(b)))
	case TypeFloat64:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	}
	return 0
}

// FuzzyEqual compares two float64 values with a tolerance
func FuzzyEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.0001
}
