//go:build !linux

package netstream

import (
	"net"
	"time"
)

// socket reads each datagram whole and serves peeks from the copy.
type socket struct {
	conn    *net.UDPConn
	buf     []byte
	pending []byte
	has     bool
}

func newSocket(conn *net.UDPConn) (datagramConn, error) {
	return &socket{conn: conn, buf: make([]byte, maxDatagram)}, nil
}

func (s *socket) next() error {
	if s.has {
		return nil
	}
	n, err := s.conn.Read(s.buf)
	if err != nil {
		return err
	}
	s.pending = s.buf[:n]
	s.has = true
	return nil
}

func (s *socket) Peek(p []byte) (int, error) {
	if err := s.next(); err != nil {
		return 0, err
	}
	return copy(p, s.pending), nil
}

func (s *socket) ReadSegments(hdr, data []byte) (int, error) {
	if err := s.next(); err != nil {
		return 0, err
	}
	s.has = false
	n := copy(hdr, s.pending)
	if len(s.pending) > len(hdr) {
		n += copy(data, s.pending[len(hdr):])
	}
	return n, nil
}

func (s *socket) Discard() error {
	if err := s.next(); err != nil {
		return err
	}
	s.has = false
	return nil
}

func (s *socket) LocalAddr() net.Addr               { return s.conn.LocalAddr() }
func (s *socket) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }
func (s *socket) Close() error                      { return s.conn.Close() }
