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

// Client defines the Modbus master operations. *Transport implements it;
// tests and higher layers may substitute their own.
type Client interface {
	ReadCoils(address, quantity uint16) ([]Coil, error)              // ReadCoils reads multiple coils
	ReadDiscreteInputs(address, quantity uint16) ([]Coil, error)     // ReadDiscreteInputs reads multiple discrete inputs
	ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) // ReadHoldingRegisters reads multiple holding registers
	ReadInputRegisters(address, quantity uint16) ([]uint16, error)   // ReadInputRegisters reads multiple input registers
	WriteSingleCoil(address uint16, value Coil) error                // WriteSingleCoil writes a single coil
	WriteSingleRegister(address, value uint16) error                 // WriteSingleRegister writes a single register
	WriteMultipleCoils(address uint16, values []Coil) error          // WriteMultipleCoils writes multiple coils
	WriteMultipleRegisters(address uint16, values []uint16) error    // WriteMultipleRegisters writes multiple registers
	SetUnitID(uid uint8)                                             // SetUnitID changes the addressed unit without reconnecting
}

func (t *Transport) ReadCoils(address, quantity uint16) ([]Coil, error) {
	data, err := t.read(readCoils{address, quantity})
	if err != nil {
		return nil, err
	}
	return UnpackBits(data, quantity), nil
}

func (t *Transport) ReadDiscreteInputs(address, quantity uint16) ([]Coil, error) {
	data, err := t.read(readDiscreteInputs{address, quantity})
	if err != nil {
		return nil, err
	}
	return UnpackBits(data, quantity), nil
}

func (t *Transport) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	data, err := t.read(readHoldingRegisters{address, quantity})
	if err != nil {
		return nil, err
	}
	return PackBytes(data)
}

func (t *Transport) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	data, err := t.read(readInputRegisters{address, quantity})
	if err != nil {
		return nil, err
	}
	return PackBytes(data)
}

func (t *Transport) WriteSingleCoil(address uint16, value Coil) error {
	return t.writeSingle(writeSingleCoil{address, value})
}

func (t *Transport) WriteSingleRegister(address, value uint16) error {
	return t.writeSingle(writeSingleRegister{address, value})
}

func (t *Transport) WriteMultipleCoils(address uint16, values []Coil) error {
	return t.writeMultiple(writeMultipleCoils{address, values})
}

func (t *Transport) WriteMultipleRegisters(address uint16, values []uint16) error {
	return t.writeMultiple(writeMultipleRegisters{address, values})
}
