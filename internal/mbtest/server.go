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

// Package mbtest is an in-process Modbus TCP device for tests. It keeps
// the four data tables in memory, listens on an ephemeral loopback port
// and lets a test inject exceptions or raw replies.
package mbtest

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	headerSize = 7
	tableSize  = 65536
)

// Exception codes used by the device itself.
const (
	IllegalFunction    byte = 0x01
	IllegalDataAddress byte = 0x02
	IllegalDataValue   byte = 0x03
)

// Reply overrides the normal answer to one request. Raw is written as
// is (it may be empty); the connection is closed afterwards when Close is set.
type Reply struct {
	Raw   []byte
	Close bool
}

// Hook inspects a complete request frame. Returning nil lets the device answer normally.
type Hook func(req []byte) *Reply

// Server is a fake Modbus TCP device.
type Server struct {
	mu         sync.Mutex
	coils      []bool
	discrete   []bool
	holding    []uint16
	input      []uint16
	exceptions map[byte]byte
	deviceInfo map[byte]string
	hook       Hook
	lastUnitID byte

	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	requests atomic.Int64
	logger   zerolog.Logger
}

// NewServer returns a device with all tables zeroed. Call Start to listen.
func NewServer() *Server {
	return &Server{
		coils:      make([]bool, tableSize),
		discrete:   make([]bool, tableSize),
		holding:    make([]uint16, tableSize),
		input:      make([]uint16, tableSize),
		exceptions: make(map[byte]byte),
		deviceInfo: map[byte]string{
			0x00: "hootrhino",
			0x01: "MBTEST",
			0x02: "1.0",
		},
		conns:  make(map[net.Conn]struct{}),
		logger: zerolog.Nop(),
	}
}

func (s *Server) SetLogger(l zerolog.Logger) {
	s.logger = l
}

// Start listens on 127.0.0.1 with a kernel assigned port and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.wg.Add(1)
	go s.serve(listener)
	return nil
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Close stops accepting, drops open connections and waits for the handlers.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// Requests returns the number of request frames received.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// LastUnitID returns the unit id of the most recent request.
func (s *Server) LastUnitID() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUnitID
}

func (s *Server) SetCoil(address uint16, v bool) {
	s.mu.Lock()
	s.coils[address] = v
	s.mu.Unlock()
}

func (s *Server) Coil(address uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coils[address]
}

func (s *Server) SetDiscreteInput(address uint16, v bool) {
	s.mu.Lock()
	s.discrete[address] = v
	s.mu.Unlock()
}

func (s *Server) SetHoldingRegister(address, v uint16) {
	s.mu.Lock()
	s.holding[address] = v
	s.mu.Unlock()
}

func (s *Server) HoldingRegister(address uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holding[address]
}

func (s *Server) SetInputRegister(address, v uint16) {
	s.mu.Lock()
	s.input[address] = v
	s.mu.Unlock()
}

// SetDeviceInfo sets the identification object id to value.
func (s *Server) SetDeviceInfo(id byte, value string) {
	s.mu.Lock()
	s.deviceInfo[id] = value
	s.mu.Unlock()
}

// SetException makes every request with function code fc fail with code.
// A zero code removes the injection.
func (s *Server) SetException(fc, code byte) {
	s.mu.Lock()
	if code == 0 {
		delete(s.exceptions, fc)
	} else {
		s.exceptions[fc] = code
	}
	s.mu.Unlock()
}

// SetHook installs h for all following requests. nil removes it.
func (s *Server) SetHook(h Hook) {
	s.mu.Lock()
	s.hook = h
	s.mu.Unlock()
}

func (s *Server) serve(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.closed.Load() {
				s.logger.Error().Err(err).Msg("accept error")
			}
			return
		}
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.wg.Done()
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	for {
		req, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				s.logger.Debug().Err(err).Msg("read error")
			}
			return
		}
		s.requests.Add(1)

		s.mu.Lock()
		hook := s.hook
		s.mu.Unlock()
		if hook != nil {
			if reply := hook(req); reply != nil {
				if len(reply.Raw) > 0 {
					if _, err := conn.Write(reply.Raw); err != nil {
						return
					}
				}
				if reply.Close {
					return
				}
				continue
			}
		}

		if _, err := conn.Write(s.process(req)); err != nil {
			s.logger.Debug().Err(err).Msg("write error")
			return
		}
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	pduLen := int(binary.BigEndian.Uint16(header[4:6])) - 1
	if pduLen < 1 || pduLen > 253 {
		return nil, errors.New("invalid pdu length " + strconv.Itoa(pduLen))
	}
	frame := make([]byte, headerSize+pduLen)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[headerSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// Frame builds a response frame for req carrying pdu. It is exported for
// hooks that want to answer with a valid envelope around a crafted PDU.
func Frame(req []byte, pdu []byte) []byte {
	resp := make([]byte, headerSize+len(pdu))
	copy(resp[0:2], req[0:2])
	binary.BigEndian.PutUint16(resp[4:6], uint16(len(pdu)+1))
	resp[6] = req[6]
	copy(resp[headerSize:], pdu)
	return resp
}

func exception(fc, code byte) []byte {
	return []byte{fc | 0x80, code}
}

func (s *Server) process(req []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastUnitID = req[6]
	pdu := req[headerSize:]
	fc := pdu[0]
	if code, ok := s.exceptions[fc]; ok {
		return Frame(req, exception(fc, code))
	}

	var resp []byte
	switch fc {
	case 0x01:
		resp = s.readBits(pdu, s.coils)
	case 0x02:
		resp = s.readBits(pdu, s.discrete)
	case 0x03:
		resp = s.readWords(pdu, s.holding)
	case 0x04:
		resp = s.readWords(pdu, s.input)
	case 0x05:
		resp = s.writeSingleCoil(pdu)
	case 0x06:
		resp = s.writeSingleRegister(pdu)
	case 0x0F:
		resp = s.writeMultipleCoils(pdu)
	case 0x10:
		resp = s.writeMultipleRegisters(pdu)
	case 0x2B:
		resp = s.readDeviceInfo(pdu)
	default:
		resp = exception(fc, IllegalFunction)
	}
	return Frame(req, resp)
}

func addressRange(pdu []byte) (address, quantity int, ok bool) {
	if len(pdu) < 5 {
		return 0, 0, false
	}
	address = int(binary.BigEndian.Uint16(pdu[1:3]))
	quantity = int(binary.BigEndian.Uint16(pdu[3:5]))
	return address, quantity, true
}

func (s *Server) readBits(pdu []byte, table []bool) []byte {
	fc := pdu[0]
	address, quantity, ok := addressRange(pdu)
	if !ok || quantity < 1 || quantity > 2000 {
		return exception(fc, IllegalDataValue)
	}
	if address+quantity > tableSize {
		return exception(fc, IllegalDataAddress)
	}
	n := (quantity + 7) / 8
	resp := make([]byte, 2+n)
	resp[0] = fc
	resp[1] = byte(n)
	for i := 0; i < quantity; i++ {
		if table[address+i] {
			resp[2+i/8] |= 1 << (i % 8)
		}
	}
	return resp
}

func (s *Server) readWords(pdu []byte, table []uint16) []byte {
	fc := pdu[0]
	address, quantity, ok := addressRange(pdu)
	if !ok || quantity < 1 || quantity > 125 {
		return exception(fc, IllegalDataValue)
	}
	if address+quantity > tableSize {
		return exception(fc, IllegalDataAddress)
	}
	resp := make([]byte, 2+2*quantity)
	resp[0] = fc
	resp[1] = byte(2 * quantity)
	for i := 0; i < quantity; i++ {
		binary.BigEndian.PutUint16(resp[2+2*i:], table[address+i])
	}
	return resp
}

func (s *Server) writeSingleCoil(pdu []byte) []byte {
	fc := pdu[0]
	address, value, ok := addressRange(pdu)
	if !ok {
		return exception(fc, IllegalDataValue)
	}
	switch value {
	case 0xFF00:
		s.coils[address] = true
	case 0x0000:
		s.coils[address] = false
	default:
		return exception(fc, IllegalDataValue)
	}
	return append([]byte(nil), pdu[:5]...)
}

func (s *Server) writeSingleRegister(pdu []byte) []byte {
	fc := pdu[0]
	address, value, ok := addressRange(pdu)
	if !ok {
		return exception(fc, IllegalDataValue)
	}
	s.holding[address] = uint16(value)
	return append([]byte(nil), pdu[:5]...)
}

func (s *Server) writeMultipleCoils(pdu []byte) []byte {
	fc := pdu[0]
	address, quantity, ok := addressRange(pdu)
	if !ok || len(pdu) < 6 || quantity < 1 {
		return exception(fc, IllegalDataValue)
	}
	n := int(pdu[5])
	if n != (quantity+7)/8 || len(pdu) != 6+n {
		return exception(fc, IllegalDataValue)
	}
	if address+quantity > tableSize {
		return exception(fc, IllegalDataAddress)
	}
	data := pdu[6:]
	for i := 0; i < quantity; i++ {
		s.coils[address+i] = data[i/8]&(1<<(i%8)) != 0
	}
	return append([]byte(nil), pdu[:5]...)
}

func (s *Server) writeMultipleRegisters(pdu []byte) []byte {
	fc := pdu[0]
	address, quantity, ok := addressRange(pdu)
	if !ok || len(pdu) < 6 || quantity < 1 {
		return exception(fc, IllegalDataValue)
	}
	n := int(pdu[5])
	if n != 2*quantity || len(pdu) != 6+n {
		return exception(fc, IllegalDataValue)
	}
	if address+quantity > tableSize {
		return exception(fc, IllegalDataAddress)
	}
	for i := 0; i < quantity; i++ {
		s.holding[address+i] = binary.BigEndian.Uint16(pdu[6+2*i:])
	}
	return append([]byte(nil), pdu[:5]...)
}

// readDeviceInfo answers MEI type 0x0E with every object of the requested
// category in a single response.
func (s *Server) readDeviceInfo(pdu []byte) []byte {
	fc := pdu[0]
	if len(pdu) < 4 || pdu[1] != 0x0E {
		return exception(fc, IllegalDataValue)
	}
	category := pdu[2]
	var maxID byte
	switch category {
	case 0x01:
		maxID = 0x02
	case 0x02:
		maxID = 0x7F
	case 0x03:
		maxID = 0xFF
	default:
		return exception(fc, IllegalDataValue)
	}

	ids := make([]int, 0, len(s.deviceInfo))
	for id := range s.deviceInfo {
		if id <= maxID {
			ids = append(ids, int(id))
		}
	}
	sort.Ints(ids)

	resp := []byte{fc, 0x0E, category, 0x80 | category, 0x00, 0x00, byte(len(ids))}
	for _, id := range ids {
		value := s.deviceInfo[byte(id)]
		resp = append(resp, byte(id), byte(len(value)))
		resp = append(resp, value...)
	}
	return resp
}
