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
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the connection settings of a Transport.
// A zero timeout disables the corresponding deadline.
type Config struct {
	Port           int           `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" validate:"min=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	UnitID         uint8         `yaml:"unit_id" json:"unit_id"`
}

// DefaultConfig returns port 502, unit id 1 and no timeouts.
func DefaultConfig() Config {
	return Config{
		Port:   DefaultPort,
		UnitID: 1,
	}
}

// Validate checks field ranges.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML file over DefaultConfig. Durations are Go
// duration strings such as "500ms".
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
