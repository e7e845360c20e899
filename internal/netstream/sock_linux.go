//go:build linux

package netstream

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// socket reads datagrams straight from the file descriptor: MSG_PEEK for
// the transfer header and recvmsg with two buffers so the payload lands in
// place without an extra copy.
type socket struct {
	conn *net.UDPConn
	raw  syscall.RawConn
	junk [1]byte
}

func newSocket(conn *net.UDPConn) (datagramConn, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	return &socket{conn: conn, raw: raw}, nil
}

func retry(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}

func (s *socket) Peek(p []byte) (int, error) {
	var n int
	var serr error
	err := s.raw.Read(func(fd uintptr) bool {
		n, _, serr = unix.Recvfrom(int(fd), p, unix.MSG_PEEK)
		return !retry(serr)
	})
	if err != nil {
		return 0, err
	}
	return n, serr
}

func (s *socket) ReadSegments(hdr, data []byte) (int, error) {
	var n int
	var serr error
	err := s.raw.Read(func(fd uintptr) bool {
		n, _, _, _, serr = unix.RecvmsgBuffers(int(fd), [][]byte{hdr, data}, nil, 0)
		return !retry(serr)
	})
	if err != nil {
		return 0, err
	}
	return n, serr
}

func (s *socket) Discard() error {
	var serr error
	err := s.raw.Read(func(fd uintptr) bool {
		_, _, serr = unix.Recvfrom(int(fd), s.junk[:], 0)
		return !retry(serr)
	})
	if err != nil {
		return err
	}
	return serr
}

func (s *socket) LocalAddr() net.Addr               { return s.conn.LocalAddr() }
func (s *socket) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }
func (s *socket) Close() error                      { return s.conn.Close() }
