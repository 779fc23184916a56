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

// Modbus function codes.
const (
	// Bit access
	FuncCodeReadCoils          = 0x01
	FuncCodeReadDiscreteInputs = 0x02
	FuncCodeWriteSingleCoil    = 0x05
	FuncCodeWriteMultipleCoils = 0x0F

	// 16-bit access
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleRegisters = 0x10

	// Encapsulated interface transport
	FuncCodeEncapsulatedInterface = 0x2B

	// Exception responses set the high bit of the request function code.
	exceptionBit = 0x80
)

// function is one request operation. Each variant carries exactly the
// fields its request encodes.
type function interface {
	code() uint8
}

type readCoils struct{ address, quantity uint16 }
type readDiscreteInputs struct{ address, quantity uint16 }
type readHoldingRegisters struct{ address, quantity uint16 }
type readInputRegisters struct{ address, quantity uint16 }

type writeSingleCoil struct {
	address uint16
	value   Coil
}

type writeSingleRegister struct{ address, value uint16 }

type writeMultipleCoils struct {
	address uint16
	values  []Coil
}

type writeMultipleRegisters struct {
	address uint16
	values  []uint16
}

func (readCoils) code() uint8              { return FuncCodeReadCoils }
func (readDiscreteInputs) code() uint8     { return FuncCodeReadDiscreteInputs }
func (readHoldingRegisters) code() uint8   { return FuncCodeReadHoldingRegisters }
func (readInputRegisters) code() uint8     { return FuncCodeReadInputRegisters }
func (writeSingleCoil) code() uint8        { return FuncCodeWriteSingleCoil }
func (writeSingleRegister) code() uint8    { return FuncCodeWriteSingleRegister }
func (writeMultipleCoils) code() uint8     { return FuncCodeWriteMultipleCoils }
func (writeMultipleRegisters) code() uint8 { return FuncCodeWriteMultipleRegisters }

// readParams returns the request fields of a read function and the
// number of payload bytes its reply must carry.
func readParams(fn function) (address, quantity uint16, expected int, err error) {
	switch f := fn.(type) {
	case readCoils:
		return f.address, f.quantity, packedSize(int(f.quantity)), nil
	case readDiscreteInputs:
		return f.address, f.quantity, packedSize(int(f.quantity)), nil
	case readHoldingRegisters:
		return f.address, f.quantity, 2 * int(f.quantity), nil
	case readInputRegisters:
		return f.address, f.quantity, 2 * int(f.quantity), nil
	}
	return 0, 0, 0, ErrInvalidFunction
}

func singleParams(fn function) (address, value uint16, err error) {
	switch f := fn.(type) {
	case writeSingleCoil:
		return f.address, f.value.Code(), nil
	case writeSingleRegister:
		return f.address, f.value, nil
	}
	return 0, 0, ErrInvalidFunction
}

// multipleParams returns the start address, item count and packed payload
// of a multiple write.
func multipleParams(fn function) (address, quantity uint16, payload []byte, err error) {
	switch f := fn.(type) {
	case writeMultipleCoils:
		return f.address, uint16(len(f.values)), PackBits(f.values), nil
	case writeMultipleRegisters:
		return f.address, uint16(len(f.values)), UnpackBytes(f.values), nil
	}
	return 0, 0, nil, ErrInvalidFunction
}

// functionName is used for log fields and metric labels.
func functionName(code uint8) string {
	switch code {
	case FuncCodeReadCoils:
		return "read_coils"
	case FuncCodeReadDiscreteInputs:
		return "read_discrete_inputs"
	case FuncCodeReadHoldingRegisters:
		return "read_holding_registers"
	case FuncCodeReadInputRegisters:
		return "read_input_registers"
	case FuncCodeWriteSingleCoil:
		return "write_single_coil"
	case FuncCodeWriteSingleRegister:
		return "write_single_register"
	case FuncCodeWriteMultipleCoils:
		return "write_multiple_coils"
	case FuncCodeWriteMultipleRegisters:
		return "write_multiple_registers"
	case FuncCodeEncapsulatedInterface:
		return "read_device_identification"
	}
	return "unknown"
}
