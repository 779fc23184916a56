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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var pollCSVHeaders = []string{"tag", "kind", "address", "quantity"}

// ParsePollItemsCSV parses rows of tag,kind,address,quantity. The first row
// is a header naming the columns; column order is free. Optional type, order
// and scale columns describe how register values are decoded.
func ParsePollItemsCSV(reader io.Reader) ([]PollItem, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.Comment = '#'

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty CSV file")
	}

	headerMap := make(map[string]int)
	for i, h := range records[0] {
		headerMap[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, field := range pollCSVHeaders {
		if _, exists := headerMap[field]; !exists {
			return nil, fmt.Errorf("missing required field in CSV header: %s", field)
		}
	}

	var items []PollItem
	for i, record := range records[1:] {
		item, err := parsePollRecord(record, headerMap)
		if err != nil {
			return nil, fmt.Errorf("error parsing row %d: %w", i+2, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// LoadPollItemsCSV reads poll items from a CSV file.
func LoadPollItemsCSV(path string) ([]PollItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParsePollItemsCSV(f)
}

func parsePollRecord(record []string, headerMap map[string]int) (PollItem, error) {
	var item PollItem

	getField := func(fieldName string) string {
		if idx, exists := headerMap[fieldName]; exists && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}
	parseUint16Field := func(fieldName string) (uint16, error) {
		strVal := getField(fieldName)
		if strVal == "" {
			return 0, fmt.Errorf("'%s' is required", fieldName)
		}
		// base 0 accepts 0x prefixed addresses
		val, err := strconv.ParseUint(strVal, 0, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid '%s': %w", fieldName, err)
		}
		return uint16(val), nil
	}

	item.Tag = getField("tag")
	if item.Tag == "" {
		return item, fmt.Errorf("'tag' is required")
	}
	kind, err := ParsePollKind(strings.ToLower(getField("kind")))
	if err != nil {
		return item, err
	}
	item.Kind = kind
	if item.Address, err = parseUint16Field("address"); err != nil {
		return item, err
	}

	item.Type = DataType(getField("type"))
	item.Order = strings.ToUpper(getField("order"))
	if scale := getField("scale"); scale != "" {
		if item.Scale, err = strconv.ParseFloat(scale, 64); err != nil {
			return item, fmt.Errorf("invalid 'scale': %w", err)
		}
	}

	// quantity may be left empty when the type determines it
	if item.Type != "" && getField("quantity") == "" {
		return item, item.normalize()
	}
	if item.Quantity, err = parseUint16Field("quantity"); err != nil {
		return item, err
	}
	if item.Quantity == 0 {
		return item, fmt.Errorf("'quantity' must be at least 1")
	}
	if item.Type != "" {
		return item, item.normalize()
	}
	return item, nil
}
