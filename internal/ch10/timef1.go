package ch10

import (
	"encoding/binary"
	"fmt"
	"time"
)

// TimeSource is the origin of the time carried in a Time F1 packet.
type TimeSource uint8

const (
	TimeSourceInternal    TimeSource = 0x0
	TimeSourceExternal    TimeSource = 0x1
	TimeSourceInternalRMM TimeSource = 0x2
	TimeSourceNone        TimeSource = 0xF
)

// Time code formats of the Time F1 channel specific word.
const (
	TimeCodeIRIGB     = 0x0
	TimeCodeIRIGA     = 0x1
	TimeCodeIRIGG     = 0x2
	TimeCodeRTC       = 0x3
	TimeCodeGPSUTC    = 0x4
	TimeCodeGPSNative = 0x5
)

const (
	timeF1CSDWSize = 4
	timeF1DaySize  = 6
	timeF1DMYSize  = 8
)

// TimeF1CSDW is the channel specific data word of a Time F1 packet.
type TimeF1CSDW struct {
	Source     TimeSource
	TimeCode   uint8
	LeapYear   bool
	DateFormat DateFormat
}

// DecodeTimeF1CSDW unpacks the bit fields of a Time F1 channel word.
func DecodeTimeF1CSDW(v uint32) TimeF1CSDW {
	return TimeF1CSDW{
		Source:     TimeSource(v & 0xF),
		TimeCode:   uint8(v >> 4 & 0xF),
		LeapYear:   v>>8&1 == 1,
		DateFormat: DateFormat(v >> 9 & 1),
	}
}

func (c TimeF1CSDW) Encode() uint32 {
	v := uint32(c.Source&0xF) | uint32(c.TimeCode&0xF)<<4 | uint32(c.DateFormat&1)<<9
	if c.LeapYear {
		v |= 1 << 8
	}
	return v
}

// TimeF1 is a decoded Time F1 packet body.
type TimeF1 struct {
	CSDW TimeF1CSDW
	Time IrigTime
}

// DecodeTimeF1 decodes the data buffer of a Time F1 packet.
func DecodeTimeF1(buf []byte) (TimeF1, error) {
	if len(buf) < timeF1CSDWSize {
		return TimeF1{}, fmt.Errorf("%w: time packet needs %d bytes, have %d", ErrBufferOverrun, timeF1CSDWSize, len(buf))
	}
	csdw := DecodeTimeF1CSDW(binary.LittleEndian.Uint32(buf[0:4]))
	t, err := DecodeTimeF1Buff(csdw.DateFormat, csdw.LeapYear, buf[timeF1CSDWSize:])
	if err != nil {
		return TimeF1{}, err
	}
	return TimeF1{CSDW: csdw, Time: t}, nil
}

func bcd(v uint16, shift, bits uint) int {
	return int(v >> shift & (1<<bits - 1))
}

// DecodeTimeF1Buff decodes the BCD time message that follows the channel
// word. Index packets carry the same message without a channel word, so the
// date format and leap year flag are supplied by the caller.
//
// Day-of-year messages carry no year; they decode into 1971, or 1972 when
// leapYear is set. A day number of 0 is read as January 1st.
func DecodeTimeF1Buff(format DateFormat, leapYear bool, b []byte) (IrigTime, error) {
	need := timeF1DaySize
	if format == DateFormatDMY {
		need = timeF1DMYSize
	}
	if len(b) < need {
		return IrigTime{}, fmt.Errorf("%w: time message needs %d bytes, have %d", ErrBufferOverrun, need, len(b))
	}
	w0 := binary.LittleEndian.Uint16(b[0:2])
	w1 := binary.LittleEndian.Uint16(b[2:4])
	w2 := binary.LittleEndian.Uint16(b[4:6])

	frac := uint32(bcd(w0, 4, 4))*1_000_000 + uint32(bcd(w0, 0, 4))*100_000
	sec := bcd(w0, 12, 3)*10 + bcd(w0, 8, 4)
	minute := bcd(w1, 4, 3)*10 + bcd(w1, 0, 4)
	hour := bcd(w1, 12, 2)*10 + bcd(w1, 8, 4)

	var ts time.Time
	if format == DateFormatDay {
		yday := bcd(w2, 8, 2)*100 + bcd(w2, 4, 4)*10 + bcd(w2, 0, 4)
		if yday == 0 {
			yday = 1
		}
		year := 1971
		if leapYear {
			year = 1972
		}
		ts = time.Date(year, time.January, 1, hour, minute, sec, 0, time.UTC).AddDate(0, 0, yday-1)
	} else {
		w3 := binary.LittleEndian.Uint16(b[6:8])
		day := bcd(w2, 4, 4)*10 + bcd(w2, 0, 4)
		month := bcd(w2, 12, 1)*10 + bcd(w2, 8, 4)
		year := bcd(w3, 12, 2)*1000 + bcd(w3, 8, 4)*100 + bcd(w3, 4, 4)*10 + bcd(w3, 0, 4)
		ts = time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.UTC)
	}
	return IrigTime{Secs: ts.Unix(), Frac: frac, Format: format}, nil
}

// EncodeTimeF1 builds the data buffer of a Time F1 packet: channel word plus
// BCD time message. The leap year flag is derived from t. Fractions finer
// than 10 ms are dropped.
func EncodeTimeF1(src TimeSource, timeCode uint8, t IrigTime) []byte {
	ts := t.Time()
	csdw := TimeF1CSDW{
		Source:     src,
		TimeCode:   timeCode,
		DateFormat: t.Format,
		LeapYear:   ts.Year()%4 == 0,
	}
	size := timeF1CSDWSize + timeF1DaySize
	if t.Format == DateFormatDMY {
		size = timeF1CSDWSize + timeF1DMYSize
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], csdw.Encode())
	EncodeTimeF1Buff(t, buf[timeF1CSDWSize:])
	return buf
}

// EncodeTimeF1Buff writes the BCD time message for t into b.
func EncodeTimeF1Buff(t IrigTime, b []byte) {
	ts := t.Time()
	hundredths := t.Frac / 100_000
	w0 := uint16(hundredths%10) | uint16(hundredths/10%10)<<4 |
		uint16(ts.Second()%10)<<8 | uint16(ts.Second()/10)<<12
	w1 := uint16(ts.Minute()%10) | uint16(ts.Minute()/10)<<4 |
		uint16(ts.Hour()%10)<<8 | uint16(ts.Hour()/10)<<12
	binary.LittleEndian.PutUint16(b[0:2], w0)
	binary.LittleEndian.PutUint16(b[2:4], w1)
	if t.Format == DateFormatDay {
		yday := ts.YearDay()
		w2 := uint16(yday%10) | uint16(yday/10%10)<<4 | uint16(yday/100%10)<<8
		binary.LittleEndian.PutUint16(b[4:6], w2)
		return
	}
	day, month, year := ts.Day(), int(ts.Month()), ts.Year()
	w2 := uint16(day%10) | uint16(day/10)<<4 | uint16(month%10)<<8 | uint16(month/10)<<12
	w3 := uint16(year%10) | uint16(year/10%10)<<4 | uint16(year/100%10)<<8 | uint16(year/1000%10)<<12
	binary.LittleEndian.PutUint16(b[4:6], w2)
	binary.LittleEndian.PutUint16(b[6:8], w3)
}
