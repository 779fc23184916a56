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
	"encoding/json"
	"errors"
	"testing"
)

func TestParseCoil(t *testing.T) {
	testCases := []struct {
		input   string
		want    Coil
		wantErr bool
	}{
		{"On", On, false},
		{"Off", Off, false},
		{"on", Off, true},
		{"1", Off, true},
		{"", Off, true},
	}

	for _, tc := range testCases {
		got, err := ParseCoil(tc.input)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidCoil) {
				t.Errorf("ParseCoil(%q) error = %v, want ErrInvalidCoil", tc.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCoil(%q) failed: %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("ParseCoil(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestCoilConversions(t *testing.T) {
	if On.Code() != 0xFF00 || Off.Code() != 0x0000 {
		t.Errorf("wire codes: On=%#04x Off=%#04x", On.Code(), Off.Code())
	}
	if !On.Bool() || Off.Bool() {
		t.Error("Bool mismatch")
	}
	if On.Not() != Off || Off.Not() != On {
		t.Error("Not mismatch")
	}
	if CoilFromBool(true) != On || CoilFromBool(false) != Off {
		t.Error("CoilFromBool mismatch")
	}
	if On.String() != "On" || Off.String() != "Off" {
		t.Errorf("String: %q %q", On.String(), Off.String())
	}
}

func TestCoilJSON(t *testing.T) {
	data, err := json.Marshal([]Coil{On, Off})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `["On","Off"]` {
		t.Errorf("Marshal = %s", data)
	}
	var back []Coil
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(back) != 2 || back[0] != On || back[1] != Off {
		t.Errorf("Unmarshal = %v", back)
	}
	if err := json.Unmarshal([]byte(`["maybe"]`), &back); !errors.Is(err, ErrInvalidCoil) {
		t.Errorf("Unmarshal invalid token error = %v", err)
	}
}
