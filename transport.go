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
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Transport is a Modbus TCP session: one socket, one transaction id
// sequence and the unit id requests are addressed to.
//
// A Transport is not safe for concurrent use. Every call writes one
// request and blocks until its reply is read or fails.
type Transport struct {
	tid     uint16
	uid     uint8
	conn    net.Conn
	cfg     Config
	session string
	logger  zerolog.Logger
	metrics *Metrics
	closed  bool
}

var _ Client = (*Transport)(nil)

// Dial connects to host on port 502 with DefaultConfig.
func Dial(host string) (*Transport, error) {
	return DialConfig(host, DefaultConfig())
}

// DialConfig connects to host on cfg.Port. ConnectTimeout bounds the dial.
func DialConfig(host string, cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, wrapIOError("dial", err)
	}
	return NewTransport(conn, cfg), nil
}

// NewTransport wraps an established connection. Only the timeouts and
// unit id of cfg are used.
func NewTransport(conn net.Conn, cfg Config) *Transport {
	t := &Transport{
		uid:     cfg.UnitID,
		conn:    conn,
		cfg:     cfg,
		session: uuid.NewString(),
	}
	t.SetLogger(zerolog.Nop())
	return t
}

// SetLogger attaches l. Events carry the session id and remote address.
func (t *Transport) SetLogger(l zerolog.Logger) {
	ctx := l.With().Str("session", t.session)
	if addr := t.RemoteAddr(); addr != nil {
		ctx = ctx.Str("remote", addr.String())
	}
	t.logger = ctx.Logger()
}

// SetMetrics enables request instrumentation. nil disables it.
func (t *Transport) SetMetrics(m *Metrics) {
	t.metrics = m
}

// SetUnitID changes the unit addressed by subsequent requests.
func (t *Transport) SetUnitID(uid uint8) {
	t.uid = uid
}

// UnitID returns the unit currently addressed.
func (t *Transport) UnitID() uint8 {
	return t.uid
}

// Session returns the id attached to log events of this transport.
func (t *Transport) Session() string {
	return t.session
}

// LocalAddr returns the local network address
func (t *Transport) LocalAddr() net.Addr {
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteAddr returns the remote network address
func (t *Transport) RemoteAddr() net.Addr {
	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}

// nextTID advances the transaction id, wrapping from 65535 to 0.
func (t *Transport) nextTID() uint16 {
	t.tid++
	return t.tid
}

// send writes frame under the write deadline.
func (t *Transport) send(frame []byte) error {
	if t.cfg.WriteTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
			return wrapIOError("set write deadline", err)
		}
	}
	written := 0
	for written < len(frame) {
		n, err := t.conn.Write(frame[written:])
		if err != nil {
			return wrapIOError("write", err)
		}
		written += n
	}
	return nil
}

// receive reads one reply: the MBAP header first, then the number of
// bytes its length field announces. The result never exceeds MaxPacketSize.
func (t *Transport) receive() ([]byte, error) {
	deadline := time.Time{}
	if t.cfg.ReadTimeout > 0 {
		deadline = time.Now().Add(t.cfg.ReadTimeout)
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, wrapIOError("set read deadline", err)
	}

	reply := make([]byte, MaxPacketSize)
	if _, err := io.ReadFull(t.conn, reply[:HeaderSize]); err != nil {
		return nil, wrapIOError("read header", err)
	}

	// Length includes the unit id, which is already part of the header.
	remaining := int(binary.BigEndian.Uint16(reply[4:6])) - 1
	if remaining < 0 || HeaderSize+remaining > MaxPacketSize {
		return nil, UnexpectedReplySize
	}
	if _, err := io.ReadFull(t.conn, reply[HeaderSize:HeaderSize+remaining]); err != nil {
		return nil, wrapIOError("read pdu", err)
	}
	return reply[:HeaderSize+remaining], nil
}

// exchange sends a packed request and returns the reply after the header
// and response code have been validated.
func (t *Transport) exchange(req header, frame []byte) ([]byte, error) {
	t.logger.Debug().
		Uint16("tid", req.tid).
		Uint8("uid", req.uid).
		Str("function", functionName(frame[HeaderSize])).
		Int("bytes", len(frame)).
		Msg("Sending request")

	if err := t.send(frame); err != nil {
		return nil, err
	}
	reply, err := t.receive()
	if err != nil {
		return nil, err
	}

	t.logger.Debug().
		Uint16("tid", req.tid).
		Int("bytes", len(reply)).
		Msg("Received reply")

	resp, err := unpackHeader(reply)
	if err != nil {
		return nil, err
	}
	if err := validateResponseHeader(req, resp); err != nil {
		return nil, err
	}
	if err := validateResponseCode(frame, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// validateResponseCode compares the function byte of reply with the request.
// FUNC|0x80 carries an exception code in the next byte.
func validateResponseCode(req, resp []byte) error {
	if len(resp) <= HeaderSize {
		return UnexpectedReplySize
	}
	fc := req[HeaderSize]
	switch resp[HeaderSize] {
	case fc | exceptionBit:
		if len(resp) <= HeaderSize+1 {
			return UnexpectedReplySize
		}
		code := ExceptionCode(resp[HeaderSize+1])
		if !code.Valid() {
			return ErrInvalidResponse
		}
		return &ModbusError{FunctionCode: fc, ExceptionCode: code}
	case fc:
		return nil
	}
	return ErrInvalidResponse
}

// track records the outcome of one operation.
func (t *Transport) track(code uint8, start time.Time, err error) {
	t.metrics.observe(code, start, err)
	if err == nil {
		return
	}
	var mbErr *ModbusError
	if errors.As(err, &mbErr) {
		t.logger.Debug().Err(err).Str("function", functionName(code)).Msg("Exception response")
		return
	}
	t.logger.Warn().Err(err).Str("function", functionName(code)).Msg("Request failed")
}

// read performs a bit or register read and returns the raw payload.
func (t *Transport) read(fn function) (data []byte, err error) {
	defer func(start time.Time) { t.track(fn.code(), start, err) }(time.Now())
	address, quantity, expected, err := readParams(fn)
	if err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, RecvBufferEmpty
	}
	if HeaderSize+2+expected > MaxPacketSize {
		return nil, UnexpectedReplySize
	}

	hd := newHeader(t, HeaderSize+5)
	frame := hd.pack()
	frame = append(frame, fn.code())
	frame = binary.BigEndian.AppendUint16(frame, address)
	frame = binary.BigEndian.AppendUint16(frame, quantity)

	reply, err := t.exchange(hd, frame)
	if err != nil {
		return nil, err
	}
	if len(reply) != HeaderSize+2+expected || int(reply[HeaderSize+1]) != expected {
		return nil, UnexpectedReplySize
	}
	return reply[HeaderSize+2:], nil
}

func (t *Transport) writeSingle(fn function) (err error) {
	defer func(start time.Time) { t.track(fn.code(), start, err) }(time.Now())
	address, value, err := singleParams(fn)
	if err != nil {
		return err
	}
	frame := make([]byte, HeaderSize, HeaderSize+5)
	frame = append(frame, fn.code())
	frame = binary.BigEndian.AppendUint16(frame, address)
	frame = binary.BigEndian.AppendUint16(frame, value)
	return t.write(frame)
}

func (t *Transport) writeMultiple(fn function) (err error) {
	defer func(start time.Time) { t.track(fn.code(), start, err) }(time.Now())
	address, quantity, payload, err := multipleParams(fn)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return SendBufferEmpty
	}
	frame := make([]byte, HeaderSize, HeaderSize+6+len(payload))
	frame = append(frame, fn.code())
	frame = binary.BigEndian.AppendUint16(frame, address)
	frame = binary.BigEndian.AppendUint16(frame, quantity)
	frame = append(frame, byte(len(payload)))
	frame = append(frame, payload...)
	return t.write(frame)
}

// write fills in the header of frame, whose first HeaderSize bytes are
// reserved, and expects the 12 byte echo of a successful write.
func (t *Transport) write(frame []byte) error {
	if len(frame) <= HeaderSize {
		return SendBufferEmpty
	}
	if len(frame) > MaxPacketSize {
		return SendBufferTooBig
	}
	hd := newHeader(t, len(frame))
	copy(frame, hd.pack())

	reply, err := t.exchange(hd, frame)
	if err != nil {
		return err
	}
	if len(reply) != HeaderSize+5 {
		return UnexpectedReplySize
	}
	return nil
}

// Close shuts down both directions of the socket and releases it.
// Clones sharing the socket observe the shutdown.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.logger.Debug().Msg("Closing transport")
	if tc, ok := t.conn.(*net.TCPConn); ok {
		_ = tc.CloseRead()
		_ = tc.CloseWrite()
	}
	if err := t.conn.Close(); err != nil {
		return wrapIOError("close", err)
	}
	return nil
}

// Clone returns a Transport on a duplicate of the same socket with an
// independent copy of the transaction id counter.
//
// Both handles address one physical connection. Issue requests from one
// of them at a time; concurrent use yields interleaved replies and
// colliding transaction ids.
func (t *Transport) Clone() (*Transport, error) {
	tc, ok := t.conn.(*net.TCPConn)
	if !ok {
		return nil, &IOError{Op: "clone", Err: errors.New("connection is not a TCP socket")}
	}
	f, err := tc.File()
	if err != nil {
		return nil, wrapIOError("clone", err)
	}
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, wrapIOError("clone", err)
	}
	c := &Transport{
		tid:     t.tid,
		uid:     t.uid,
		conn:    conn,
		cfg:     t.cfg,
		session: t.session,
		logger:  t.logger,
		metrics: t.metrics,
	}
	return c, nil
}
