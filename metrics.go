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
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels
const (
	ResultOK              = "ok"
	ResultException       = "exception"
	ResultIO              = "io"
	ResultInvalidResponse = "invalid_response"
	ResultInvalidData     = "invalid_data"
)

// Metrics counts exchanges per function and outcome.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_tcp_requests_total",
			Help: "The total number of Modbus TCP requests by function and result",
		}, []string{"function", "result"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modbus_tcp_request_duration_seconds",
			Help:    "Round trip time of Modbus TCP requests",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"function"}),
	}
}

func (m *Metrics) observe(code uint8, start time.Time, err error) {
	if m == nil {
		return
	}
	name := functionName(code)
	m.Requests.WithLabelValues(name, resultLabel(err)).Inc()
	m.Duration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	var mbErr *ModbusError
	var ioErr *IOError
	switch {
	case err == nil:
		return ResultOK
	case errors.As(err, &mbErr):
		return ResultException
	case errors.As(err, &ioErr):
		return ResultIO
	case errors.Is(err, ErrInvalidData):
		return ResultInvalidData
	default:
		return ResultInvalidResponse
	}
}
