package ch10

import (
	"encoding/binary"
	"fmt"
	"time"
)

// RelTime is the 48-bit relative time counter of a packet header in 10 MHz
// ticks.
type RelTime int64

// RelTimeFromBytes reads a 6-byte little-endian counter.
func RelTimeFromBytes(b []byte) RelTime {
	var v uint64
	for i := 5; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return RelTime(v)
}

// PutBytes writes the low 48 bits of r into b[0:6].
func (r RelTime) PutBytes(b []byte) {
	v := uint64(r) & relTimeMask
	for i := 0; i < 6; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// Duration converts a tick count into a time.Duration.
func (r RelTime) Duration() time.Duration {
	return time.Duration(int64(r) * 100)
}

// DateFormat tells whether an absolute time came from a day-of-year or a
// day-month-year source.
type DateFormat uint8

const (
	DateFormatDay DateFormat = iota
	DateFormatDMY
)

// IrigTime is an absolute time in seconds since the Unix epoch plus a
// fraction in 100 ns units.
type IrigTime struct {
	Secs   int64
	Frac   uint32
	Format DateFormat
}

// Time converts t to a UTC time.Time.
func (t IrigTime) Time() time.Time {
	return time.Unix(t.Secs, int64(t.Frac)*100).UTC()
}

func (t IrigTime) String() string {
	ts := t.Time()
	if t.Format == DateFormatDay {
		return fmt.Sprintf("%03d:%s", ts.YearDay(), ts.Format("15:04:05.0000000"))
	}
	return ts.Format("2006/01/02 15:04:05.0000000")
}

// IrigTimeFrom converts a time.Time, truncating to 100 ns.
func IrigTimeFrom(ts time.Time, format DateFormat) IrigTime {
	return IrigTime{Secs: ts.Unix(), Frac: uint32(ts.Nanosecond() / 100), Format: format}
}

// TimeRef pairs a relative counter value with the absolute time it
// represents.
type TimeRef struct {
	RelTime RelTime
	Irig    IrigTime
}

// RelToIrig converts a relative counter value to absolute time.
func (r TimeRef) RelToIrig(rel RelTime) IrigTime {
	diff := int64(rel - r.RelTime)
	secs := r.Irig.Secs + diff/TicksPerSecond
	frac := int64(r.Irig.Frac) + diff%TicksPerSecond
	for frac < 0 {
		frac += TicksPerSecond
		secs--
	}
	for frac >= TicksPerSecond {
		frac -= TicksPerSecond
		secs++
	}
	return IrigTime{Secs: secs, Frac: uint32(frac), Format: r.Irig.Format}
}

// IrigToRel converts an absolute time to the relative counter domain.
func (r TimeRef) IrigToRel(t IrigTime) RelTime {
	diff := (t.Secs-r.Irig.Secs)*TicksPerSecond + (int64(t.Frac) - int64(r.Irig.Frac))
	return r.RelTime + RelTime(diff)
}

// Ch4BinaryToIrig decodes a Chapter 4 binary weighted time: high order
// time (LSB 655.36 s), low order time (LSB 10 ms) and microseconds, each a
// little-endian 16-bit word.
func Ch4BinaryToIrig(b []byte) (IrigTime, error) {
	if len(b) < 6 {
		return IrigTime{}, fmt.Errorf("%w: ch4 binary time needs 6 bytes, have %d", ErrBufferTooSmall, len(b))
	}
	high := uint64(binary.LittleEndian.Uint16(b[0:2]))
	low := uint64(binary.LittleEndian.Uint16(b[2:4]))
	usecs := uint64(binary.LittleEndian.Uint16(b[4:6]))
	hundredths := high<<16 | low
	secs := hundredths / 100
	frac := (hundredths%100)*100_000 + usecs*10
	for frac >= TicksPerSecond {
		frac -= TicksPerSecond
		secs++
	}
	return IrigTime{Secs: int64(secs), Frac: uint32(frac)}, nil
}

// IrigToCh4Binary is the inverse of Ch4BinaryToIrig. Fractions finer than a
// microsecond are dropped.
func IrigToCh4Binary(t IrigTime, b []byte) {
	hundredths := uint64(t.Secs)*100 + uint64(t.Frac)/100_000
	usecs := (uint64(t.Frac) % 100_000) / 10
	binary.LittleEndian.PutUint16(b[0:2], uint16(hundredths>>16))
	binary.LittleEndian.PutUint16(b[2:4], uint16(hundredths))
	binary.LittleEndian.PutUint16(b[4:6], uint16(usecs))
	b[6], b[7] = 0, 0
}

// IEEE1588ToIrig decodes nanoseconds then seconds, each little-endian 32-bit.
func IEEE1588ToIrig(b []byte) (IrigTime, error) {
	if len(b) < 8 {
		return IrigTime{}, fmt.Errorf("%w: ieee-1588 time needs 8 bytes, have %d", ErrBufferTooSmall, len(b))
	}
	nanos := binary.LittleEndian.Uint32(b[0:4])
	secs := binary.LittleEndian.Uint32(b[4:8])
	return IrigTime{Secs: int64(secs), Frac: nanos / 100}, nil
}

// IrigToIEEE1588 is the inverse of IEEE1588ToIrig.
func IrigToIEEE1588(t IrigTime, b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], t.Frac*100)
	binary.LittleEndian.PutUint32(b[4:8], uint32(t.Secs))
}

// SecondaryTime decodes the absolute time of a packet's secondary header.
func (h Header) SecondaryTime() (IrigTime, error) {
	if !h.HasSecondaryHeader() {
		return IrigTime{}, fmt.Errorf("%w: packet has no secondary header", ErrInvalidData)
	}
	switch h.TimeFormat() {
	case TimeFormatCh4Binary:
		return Ch4BinaryToIrig(h.Secondary.Time[:])
	case TimeFormatIEEE1588:
		return IEEE1588ToIrig(h.Secondary.Time[:])
	default:
		return IrigTime{}, fmt.Errorf("%w: secondary header time format %s", ErrUnsupported, h.TimeFormat())
	}
}

// SetSecondaryTime sets the secondary header flag, time format and time
// field.
func (h *Header) SetSecondaryTime(f TimeFormat, t IrigTime) error {
	switch f {
	case TimeFormatCh4Binary:
		IrigToCh4Binary(t, h.Secondary.Time[:])
	case TimeFormatIEEE1588:
		IrigToIEEE1588(t, h.Secondary.Time[:])
	default:
		return fmt.Errorf("%w: secondary header time format %s", ErrUnsupported, f)
	}
	h.Flags |= FlagSecondaryHeader
	h.SetTimeFormat(f)
	return nil
}
