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
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MEITypeReadDeviceID is the MEI type of Read Device Identification.
const MEITypeReadDeviceID = 0x0E

// DeviceInfoCategory selects which identification objects the device returns.
type DeviceInfoCategory uint8

const (
	DeviceInfoBasic    DeviceInfoCategory = 0x01
	DeviceInfoRegular  DeviceInfoCategory = 0x02
	DeviceInfoExtended DeviceInfoCategory = 0x03
)

func (c DeviceInfoCategory) String() string {
	switch c {
	case DeviceInfoBasic:
		return "basic"
	case DeviceInfoRegular:
		return "regular"
	case DeviceInfoExtended:
		return "extended"
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// ParseDeviceInfoCategory accepts "basic", "regular" and "extended" in any case.
func ParseDeviceInfoCategory(s string) (DeviceInfoCategory, error) {
	switch strings.ToLower(s) {
	case "basic":
		return DeviceInfoBasic, nil
	case "regular":
		return DeviceInfoRegular, nil
	case "extended":
		return DeviceInfoExtended, nil
	}
	return 0, fmt.Errorf("unknown device info category %q", s)
}

// Well-known object ids.
const (
	ObjectVendorName          uint8 = 0x00
	ObjectProductCode         uint8 = 0x01
	ObjectMajorMinorRevision  uint8 = 0x02
	ObjectVendorURL           uint8 = 0x03
	ObjectProductName         uint8 = 0x04
	ObjectModelName           uint8 = 0x05
	ObjectUserApplicationName uint8 = 0x06
)

var objectNames = map[uint8]string{
	ObjectVendorName:          "VendorName",
	ObjectProductCode:         "ProductCode",
	ObjectMajorMinorRevision:  "MajorMinorRevision",
	ObjectVendorURL:           "VendorUrl",
	ObjectProductName:         "ProductName",
	ObjectModelName:           "ModelName",
	ObjectUserApplicationName: "UserApplicationName",
}

// DeviceInfoObject is one identification string reported by a device.
type DeviceInfoObject struct {
	ID    uint8  `json:"id"`
	Value string `json:"value"`
}

// Name returns the well-known name of the object id, or a hex form of it.
func (o DeviceInfoObject) Name() string {
	if name, ok := objectNames[o.ID]; ok {
		return name
	}
	return fmt.Sprintf("Object0x%02X", o.ID)
}

func (o DeviceInfoObject) String() string {
	return o.Name() + ": " + o.Value
}

// ReadDeviceInfo issues function 0x2B / MEI type 0x0E starting at object 0.
// Devices without support answer with IllegalFunction, returned as *ModbusError.
func (t *Transport) ReadDeviceInfo(category DeviceInfoCategory) (objects []DeviceInfoObject, err error) {
	defer func(start time.Time) { t.track(FuncCodeEncapsulatedInterface, start, err) }(time.Now())

	frame := make([]byte, HeaderSize, HeaderSize+4)
	frame = append(frame, FuncCodeEncapsulatedInterface, MEITypeReadDeviceID, byte(category), 0x00)
	hd := newHeader(t, len(frame))
	copy(frame, hd.pack())

	reply, err := t.exchange(hd, frame)
	if err != nil {
		return nil, err
	}
	return parseDeviceInfo(reply[HeaderSize:])
}

// parseDeviceInfo decodes the PDU
// [0x2B][0x0E][code][conformity][more][next][count]{[id][len][value]}*.
func parseDeviceInfo(pdu []byte) ([]DeviceInfoObject, error) {
	if len(pdu) < 7 {
		return nil, UnexpectedReplySize
	}
	if pdu[1] != MEITypeReadDeviceID {
		return nil, ErrInvalidResponse
	}
	count := int(pdu[6])
	objects := make([]DeviceInfoObject, 0, count)
	cursor := 7
	for i := 0; i < count; i++ {
		if cursor+2 > len(pdu) {
			return nil, UnexpectedReplySize
		}
		id := pdu[cursor]
		n := int(pdu[cursor+1])
		cursor += 2
		if cursor+n > len(pdu) {
			return nil, UnexpectedReplySize
		}
		value := pdu[cursor : cursor+n]
		if !utf8.Valid(value) {
			return nil, ErrParseInfo
		}
		objects = append(objects, DeviceInfoObject{ID: id, Value: string(value)})
		cursor += n
	}
	return objects, nil
}
