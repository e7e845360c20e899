package index

import (
	"encoding/binary"
	"errors"
	"fmt"

	"example.com/ch10stream/internal/ch10"
)

// Layout of a recording index packet (data type 0x03): channel word,
// optional 64-bit file size, then fixed size entries. Every entry starts
// with an 8-byte time stamp whose first six bytes are the relative time,
// optionally followed by an 8-byte secondary time. Node entries then carry
// channel ID and data type in one 32-bit word. All entries end with a
// 64-bit file offset.
const (
	csdwSize      = 4
	fileSizeSize  = 8
	timeStampSize = 8
	nodeDataSize  = 4
	offsetSize    = 8
)

// CSDW is the channel specific data word of an index packet.
type CSDW struct {
	Count uint16
	// SecondaryTime marks entries carrying an absolute time after the
	// relative one.
	SecondaryTime bool
	FileSize      bool
	Node          bool
}

func decodeCSDW(v uint32) CSDW {
	return CSDW{
		Count:         uint16(v),
		SecondaryTime: v>>29&1 == 1,
		FileSize:      v>>30&1 == 1,
		Node:          v>>31 == 1,
	}
}

func (c CSDW) Encode() uint32 {
	v := uint32(c.Count)
	if c.SecondaryTime {
		v |= 1 << 29
	}
	if c.FileSize {
		v |= 1 << 30
	}
	if c.Node {
		v |= 1 << 31
	}
	return v
}

func (c CSDW) entrySize() int {
	n := timeStampSize + offsetSize
	if c.SecondaryTime {
		n += timeStampSize
	}
	if c.Node {
		n += nodeDataSize
	}
	return n
}

// Item is one decoded index entry: a NodeEntry, RootEntry or RootLink.
type Item interface {
	Times() Stamp
}

// Stamp holds the times every entry carries. Time is nil when the packet has
// no secondary times or the time format cannot be decoded.
type Stamp struct {
	RelTime ch10.RelTime
	Time    *ch10.IrigTime
}

func (s Stamp) Times() Stamp { return s }

// NodeEntry points at one indexed data packet.
type NodeEntry struct {
	Stamp
	ChannelID uint16
	DataType  ch10.DataType
	Offset    int64
}

// RootEntry points at a node index packet.
type RootEntry struct {
	Stamp
	Offset int64
}

// RootLink is the last entry of a root packet. It points at the next root
// packet; a link to the packet itself ends the chain.
type RootLink struct {
	Stamp
	Offset int64
}

// Packet is a decoded index packet.
type Packet struct {
	CSDW CSDW
	// FileSize is nil when the packet does not carry one.
	FileSize *int64
	Items    []Item
}

// Iter walks the entries of one index packet.
type Iter struct {
	csdw     CSDW
	format   ch10.TimeFormat
	fileSize *int64
	entries  []byte
	n        int
}

// First starts iteration over the data buffer of an index packet. It
// returns ErrNoMoreData for a packet without entries and ErrBufferOverrun
// when the first entry does not fit the data.
func First(h ch10.Header, data []byte) (*Iter, error) {
	if h.DataType != ch10.DataTypeRecordingIndex {
		return nil, fmt.Errorf("%w: data type %s is not a recording index", ch10.ErrInvalidData, h.DataType)
	}
	if int(h.DataLen) < len(data) {
		data = data[:h.DataLen]
	}
	if len(data) < csdwSize {
		return nil, fmt.Errorf("%w: index packet of %d bytes", ch10.ErrBufferOverrun, len(data))
	}
	it := &Iter{csdw: decodeCSDW(binary.LittleEndian.Uint32(data)), format: h.TimeFormat()}
	off := csdwSize
	if it.csdw.FileSize {
		if len(data) < off+fileSizeSize {
			return nil, fmt.Errorf("%w: index file size field", ch10.ErrBufferOverrun)
		}
		fs := int64(binary.LittleEndian.Uint64(data[off:]))
		it.fileSize = &fs
		off += fileSizeSize
	}
	it.entries = data[off:]
	if it.csdw.Count == 0 {
		return it, ch10.ErrNoMoreData
	}
	if len(it.entries) < it.csdw.entrySize() {
		return nil, fmt.Errorf("%w: first index entry at %d, data is %d bytes", ch10.ErrBufferOverrun, off, len(data))
	}
	return it, nil
}

func (it *Iter) CSDW() CSDW { return it.csdw }

// FileSize returns the file size field, or nil when absent.
func (it *Iter) FileSize() *int64 { return it.fileSize }

// Next returns the next entry, or ErrNoMoreData after the last one.
func (it *Iter) Next() (Item, error) {
	if it.n >= int(it.csdw.Count) {
		return nil, ch10.ErrNoMoreData
	}
	size := it.csdw.entrySize()
	start := it.n * size
	if start+size > len(it.entries) {
		return nil, fmt.Errorf("%w: index entry %d of %d", ch10.ErrBufferOverrun, it.n, it.csdw.Count)
	}
	b := it.entries[start : start+size]
	it.n++

	st := Stamp{RelTime: ch10.RelTimeFromBytes(b[:6])}
	b = b[timeStampSize:]
	if it.csdw.SecondaryTime {
		st.Time = decodeTime(it.format, b[:timeStampSize])
		b = b[timeStampSize:]
	}
	if it.csdw.Node {
		word := binary.LittleEndian.Uint32(b)
		return NodeEntry{
			Stamp:     st,
			ChannelID: uint16(word),
			DataType:  ch10.DataType(word >> 16),
			Offset:    int64(binary.LittleEndian.Uint64(b[nodeDataSize:])),
		}, nil
	}
	off := int64(binary.LittleEndian.Uint64(b))
	if it.n == int(it.csdw.Count) {
		return RootLink{Stamp: st, Offset: off}, nil
	}
	return RootEntry{Stamp: st, Offset: off}, nil
}

func decodeTime(f ch10.TimeFormat, b []byte) *ch10.IrigTime {
	var t ch10.IrigTime
	var err error
	switch f {
	case ch10.TimeFormatCh4Binary:
		t, err = ch10.Ch4BinaryToIrig(b)
	case ch10.TimeFormatIEEE1588:
		t, err = ch10.IEEE1588ToIrig(b)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return &t
}

// DecodeIndexPacket decodes every entry of an index packet.
func DecodeIndexPacket(h ch10.Header, data []byte) (Packet, error) {
	it, err := First(h, data)
	if err != nil {
		return Packet{}, err
	}
	p := Packet{CSDW: it.csdw, FileSize: it.fileSize, Items: make([]Item, 0, it.csdw.Count)}
	for {
		item, err := it.Next()
		if errors.Is(err, ch10.ErrNoMoreData) {
			return p, nil
		}
		if err != nil {
			return p, err
		}
		p.Items = append(p.Items, item)
	}
}

// EncodePacket builds the data buffer of an index packet. Items must be all
// NodeEntry or all root entries (RootEntry followed by one RootLink).
// Secondary times are written in format f when withTime is set.
func EncodePacket(items []Item, fileSize *int64, withTime bool, f ch10.TimeFormat) ([]byte, error) {
	if len(items) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d index entries", ch10.ErrInvalidData, len(items))
	}
	csdw := CSDW{Count: uint16(len(items)), SecondaryTime: withTime, FileSize: fileSize != nil}
	if len(items) > 0 {
		_, csdw.Node = items[0].(NodeEntry)
	}
	size := csdwSize + len(items)*csdw.entrySize()
	if csdw.FileSize {
		size += fileSizeSize
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf, csdw.Encode())
	off := csdwSize
	if csdw.FileSize {
		binary.LittleEndian.PutUint64(buf[off:], uint64(*fileSize))
		off += fileSizeSize
	}
	for i, item := range items {
		st := item.Times()
		st.RelTime.PutBytes(buf[off : off+6])
		off += timeStampSize
		if withTime {
			if st.Time != nil {
				switch f {
				case ch10.TimeFormatCh4Binary:
					ch10.IrigToCh4Binary(*st.Time, buf[off:off+timeStampSize])
				case ch10.TimeFormatIEEE1588:
					ch10.IrigToIEEE1588(*st.Time, buf[off:off+timeStampSize])
				default:
					return nil, fmt.Errorf("%w: secondary time format %s", ch10.ErrUnsupported, f)
				}
			}
			off += timeStampSize
		}
		var target int64
		switch e := item.(type) {
		case NodeEntry:
			if !csdw.Node {
				return nil, fmt.Errorf("%w: node entry %d in root packet", ch10.ErrInvalidData, i)
			}
			binary.LittleEndian.PutUint32(buf[off:], uint32(e.ChannelID)|uint32(e.DataType)<<16)
			off += nodeDataSize
			target = e.Offset
		case RootEntry:
			if csdw.Node || i == len(items)-1 {
				return nil, fmt.Errorf("%w: root entry %d misplaced", ch10.ErrInvalidData, i)
			}
			target = e.Offset
		case RootLink:
			if csdw.Node || i != len(items)-1 {
				return nil, fmt.Errorf("%w: root link %d is not the last entry", ch10.ErrInvalidData, i)
			}
			target = e.Offset
		default:
			return nil, fmt.Errorf("%w: index entry type %T", ch10.ErrInvalidData, item)
		}
		binary.LittleEndian.PutUint64(buf[off:], uint64(target))
		off += offsetSize
	}
	return buf, nil
}

type indexCodec struct{}

func (indexCodec) Decode(h ch10.Header, data []byte) (any, error) {
	return DecodeIndexPacket(h, data)
}

type messageIter struct{ it *Iter }

func (m messageIter) Next() (any, error) { return m.it.Next() }

func (indexCodec) First(h ch10.Header, data []byte) (ch10.MessageIter, error) {
	it, err := First(h, data)
	if err != nil {
		return nil, err
	}
	return messageIter{it}, nil
}

// Register installs the recording index codec in r.
func Register(r *ch10.Registry) {
	r.Register(ch10.DataTypeRecordingIndex, indexCodec{})
}
