package ch10

import (
	"errors"
	"fmt"
)

// SetTimeRef installs the pairing used to translate relative times.
func (s *Stream) SetTimeRef(ref TimeRef) {
	s.timeRef = ref
	s.timeRefSet = true
}

// TimeRef returns the current time reference and whether one was set.
func (s *Stream) TimeRef() (TimeRef, bool) { return s.timeRef, s.timeRefSet }

// RelToIrig translates a relative time with the stream's time reference.
func (s *Stream) RelToIrig(rel RelTime) (IrigTime, error) {
	if !s.timeRefSet {
		return IrigTime{}, fmt.Errorf("%w: no time reference", ErrTimeNotFound)
	}
	return s.timeRef.RelToIrig(rel), nil
}

// FindTimePacket reads forward from the current position for a Time F1
// packet and returns it. With requireExternal only externally synchronized
// time sources qualify. A positive limitSecs bounds the search to that many
// seconds of relative time after the first header read. The read position
// is restored on return.
func (s *Stream) FindTimePacket(requireExternal bool, limitSecs int) (Header, TimeF1, error) {
	if err := s.checkFile(); err != nil {
		return Header{}, TimeF1{}, err
	}
	start := s.pos
	defer func() {
		s.pos = start
		s.state = StateUnsynced
	}()

	var limit RelTime
	first := true
	var buf []byte
	for {
		h, err := s.readNextHeaderFile()
		if err != nil {
			if errors.Is(err, ErrEndOfFile) {
				return Header{}, TimeF1{}, fmt.Errorf("%w: no time packet before end of data", ErrTimeNotFound)
			}
			if IsCorruption(err) {
				continue
			}
			return Header{}, TimeF1{}, err
		}
		if first {
			first = false
			if limitSecs > 0 {
				limit = h.RelTime + RelTime(limitSecs)*TicksPerSecond
			}
		}
		if limitSecs > 0 && h.RelTime > limit {
			return Header{}, TimeF1{}, fmt.Errorf("%w: no time packet within %d s", ErrTimeNotFound, limitSecs)
		}
		if h.DataType != DataTypeTimeF1 {
			continue
		}
		if cap(buf) < s.dataLen {
			buf = make([]byte, s.dataLen)
		}
		n, err := s.ReadData(buf[:s.dataLen])
		if err != nil {
			return Header{}, TimeF1{}, err
		}
		tf, err := DecodeTimeF1(buf[:n])
		if err != nil {
			continue
		}
		if requireExternal && tf.CSDW.Source != TimeSourceExternal {
			continue
		}
		return h, tf, nil
	}
}

// SyncTime finds the first qualifying time packet (see FindTimePacket) and
// makes it the stream's time reference.
func (s *Stream) SyncTime(requireExternal bool, limitSecs int) error {
	h, tf, err := s.FindTimePacket(requireExternal, limitSecs)
	if err != nil {
		return err
	}
	s.SetTimeRef(TimeRef{RelTime: h.RelTime, Irig: tf.Time})
	return nil
}
