package ch10

import (
	"errors"
	"fmt"
	"io"
	"net"
)

func (s *Stream) readNextHeaderNet() (Header, error) {
	if s.state == StateReadData {
		s.net.MoveReadPointer(int64(s.dataLen - s.dataPos))
		s.state = StateReadHeader
	}
	for {
		n, err := s.net.Read(s.hdrBuf[:HeaderSize])
		if err != nil {
			return Header{}, netFailure(err)
		}
		var h Header
		var derr error
		if n < HeaderSize {
			derr = fmt.Errorf("%w: %d bytes left in buffer", ErrInvalidSync, n)
		} else {
			h, derr = decodePrimary(s.hdrBuf[:HeaderSize])
		}
		if derr == nil && h.HasSecondaryHeader() {
			n, err = s.net.Read(s.hdrBuf[HeaderSize:])
			if err != nil {
				return Header{}, netFailure(err)
			}
			if n < SecondaryHeaderSize {
				derr = fmt.Errorf("%w: truncated secondary header", ErrBufferOverrun)
			} else {
				derr = decodeSecondary(&h, s.hdrBuf[HeaderSize:])
			}
		}
		if derr == nil {
			derr = checkLengths(h)
		}
		if derr != nil {
			wasSynced := s.state != StateUnsynced
			s.state = StateUnsynced
			s.net.Dump()
			if wasSynced {
				s.noteCorruption(-1, derr)
				if !errors.Is(derr, ErrInvalidSync) {
					return Header{}, derr
				}
			}
			continue
		}
		s.hdr = h
		s.hdrPos = -1
		s.dataLen = h.DataBufferLen()
		s.dataPos = 0
		s.state = StateReadData
		if s.metrics != nil {
			s.metrics.AddPacket(int64(h.PacketLen))
		}
		return h, nil
	}
}

func (s *Stream) readDataNet(buf []byte) (int, error) {
	n, err := s.net.Read(buf)
	if err != nil {
		return n, netFailure(err)
	}
	if n < len(buf) {
		s.state = StateUnsynced
		s.net.Dump()
		return n, fmt.Errorf("%w: packet data %d of %d bytes", ErrBufferOverrun, n, len(buf))
	}
	s.dataPos = s.dataLen
	s.state = StateReadHeader
	return n, nil
}

func netFailure(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ErrEndOfFile
	}
	return ioFailure(ErrReadFailed, err)
}
