// Package index builds time ordered packet indexes for container files,
// either from the recording index packets a recorder embeds or by scanning
// the whole file.
package index

import (
	"errors"
	"fmt"
	"sort"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/tmats"
)

// Entry locates one indexed packet.
type Entry struct {
	ChannelID uint16
	DataType  ch10.DataType
	RelTime   ch10.RelTime
	// Time is nil when no absolute time could be established.
	Time   *ch10.IrigTime
	Offset int64
}

// RecordingInfo is the part of the recording setup the indexer needs.
// *tmats.Document implements it.
type RecordingInfo interface {
	IndexEnabled() bool
	Channels() []uint16
}

// timeSearchSecs bounds the search for a time packet.
const timeSearchSecs = 10

// IndexPresent reports whether the file carries a usable embedded index: the
// setup record enables indexing and the last packet is a recording index.
// When info is nil it is parsed from the setup record. The read position is
// restored.
func IndexPresent(s *ch10.Stream, info RecordingInfo) (bool, error) {
	if s.Mode() != ch10.ModeRead {
		return false, fmt.Errorf("%w: index lookup needs mode %s, stream is %s", ch10.ErrWrongMode, ch10.ModeRead, s.Mode())
	}
	start, err := s.GetPos()
	if err != nil {
		return false, err
	}
	defer s.SetPos(start)

	if err := s.FirstMsg(); err != nil {
		return false, err
	}
	h, data, err := s.ReadPacket()
	if err != nil {
		return false, err
	}
	if h.DataType != ch10.DataTypeTMATS {
		return false, fmt.Errorf("%w: first packet is %s, not a setup record", ch10.ErrInvalidData, h.DataType)
	}
	if info == nil {
		doc, err := tmats.FromPacket(data)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ch10.ErrInvalidData, err)
		}
		info = doc
	}
	if !info.IndexEnabled() {
		return false, nil
	}
	if err := s.LastMsg(); err != nil {
		return false, err
	}
	h, err = s.ReadNextHeader()
	if err != nil {
		return false, err
	}
	return h.DataType == ch10.DataTypeRecordingIndex, nil
}

// FindTimePacket looks for a time packet starting at the middle of the file,
// then from the start, and returns it. The read position is restored.
func FindTimePacket(s *ch10.Stream) (ch10.Header, ch10.TimeF1, error) {
	start, err := s.GetPos()
	if err != nil {
		return ch10.Header{}, ch10.TimeF1{}, err
	}
	defer s.SetPos(start)

	if err := s.LastMsg(); err != nil {
		return ch10.Header{}, ch10.TimeF1{}, err
	}
	last, err := s.GetPos()
	if err != nil {
		return ch10.Header{}, ch10.TimeF1{}, err
	}
	for _, from := range []int64{last / 2, 0} {
		if err := s.SetPos(from); err != nil {
			return ch10.Header{}, ch10.TimeF1{}, err
		}
		h, tf, err := s.FindTimePacket(false, timeSearchSecs)
		if err == nil || !errors.Is(err, ch10.ErrTimeNotFound) {
			return h, tf, err
		}
	}
	return ch10.Header{}, ch10.TimeF1{}, fmt.Errorf("%w: no time packet in %s", ch10.ErrTimeNotFound, s.Path())
}

// ensureTimeRef gives s a time reference unless it already has one. A file
// without a usable time packet is not an error; entries then carry no
// absolute time.
func ensureTimeRef(s *ch10.Stream) bool {
	if _, ok := s.TimeRef(); ok {
		return true
	}
	h, tf, err := FindTimePacket(s)
	if err != nil {
		common.Debugf("index: %s: no time reference: %v", s.Path(), err)
		return false
	}
	s.SetTimeRef(ch10.TimeRef{RelTime: h.RelTime, Irig: tf.Time})
	return true
}

// ReadIndexes builds the index from the recording index packets of the
// file: the root chain is followed from the last packet and every node
// packet it references is decoded. Entries are sorted by relative time. The
// read position is restored.
func ReadIndexes(s *ch10.Stream, info RecordingInfo) ([]Entry, error) {
	present, err := IndexPresent(s, info)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, ch10.ErrNoIndex
	}
	start, err := s.GetPos()
	if err != nil {
		return nil, err
	}
	defer s.SetPos(start)

	r := &reader{s: s, hasRef: ensureTimeRef(s)}
	if err := s.LastMsg(); err != nil {
		return nil, err
	}
	root, err := s.GetPos()
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool)
	for {
		if seen[root] {
			return nil, fmt.Errorf("%w: root index chain loops at offset %d", ch10.ErrInvalidData, root)
		}
		seen[root] = true
		next, err := r.root(root)
		if err != nil {
			return nil, err
		}
		if next == root {
			break
		}
		root = next
	}
	sortEntries(r.entries)
	common.Debugf("index: %s: %d entries from %d root packets", s.Path(), len(r.entries), len(seen))
	return r.entries, nil
}

type reader struct {
	s       *ch10.Stream
	hasRef  bool
	entries []Entry
}

// packetAt reads the packet whose header is at off.
func (r *reader) packetAt(off int64) (ch10.Header, []byte, error) {
	if err := r.s.SetPos(off); err != nil {
		return ch10.Header{}, nil, err
	}
	h, data, err := r.s.ReadPacket()
	if err != nil {
		return h, nil, err
	}
	if r.s.HeaderPos() != off {
		return h, nil, fmt.Errorf("%w: no packet header at offset %d", ch10.ErrInvalidData, off)
	}
	return h, data, nil
}

func (r *reader) indexPacketAt(off int64) (Packet, error) {
	h, data, err := r.packetAt(off)
	if err != nil {
		return Packet{}, err
	}
	p, err := DecodeIndexPacket(h, data)
	if err != nil && !errors.Is(err, ch10.ErrNoMoreData) {
		return Packet{}, err
	}
	return p, nil
}

// root processes the root packet at off and returns the offset of the next
// root packet.
func (r *reader) root(off int64) (int64, error) {
	p, err := r.indexPacketAt(off)
	if err != nil {
		return 0, err
	}
	if p.CSDW.Node {
		return 0, fmt.Errorf("%w: node index packet at %d where a root packet was expected", ch10.ErrInvalidData, off)
	}
	next := off
	for _, item := range p.Items {
		switch e := item.(type) {
		case RootEntry:
			if err := r.node(e.Offset); err != nil {
				return 0, err
			}
		case RootLink:
			next = e.Offset
		}
	}
	return next, nil
}

func (r *reader) node(off int64) error {
	p, err := r.indexPacketAt(off)
	if err != nil {
		return err
	}
	if !p.CSDW.Node {
		return fmt.Errorf("%w: root index packet at %d where a node packet was expected", ch10.ErrInvalidData, off)
	}
	for _, item := range p.Items {
		n, ok := item.(NodeEntry)
		if !ok {
			continue
		}
		e := Entry{ChannelID: n.ChannelID, DataType: n.DataType, RelTime: n.RelTime, Offset: n.Offset}
		e.Time = r.absolute(n)
		r.entries = append(r.entries, e)
	}
	return nil
}

// absolute picks the best absolute time for a node entry: its own secondary
// time, the time carried by the indexed time packet, or the translated
// relative time.
func (r *reader) absolute(n NodeEntry) *ch10.IrigTime {
	if n.Time != nil {
		t := *n.Time
		return &t
	}
	if n.DataType == ch10.DataTypeTimeF1 {
		if _, data, err := r.packetAt(n.Offset); err == nil {
			if tf, err := ch10.DecodeTimeF1(data); err == nil {
				return &tf.Time
			}
		}
	}
	if r.hasRef {
		if t, err := r.s.RelToIrig(n.RelTime); err == nil {
			return &t
		}
	}
	return nil
}

// MakeIndex builds the index of one channel by reading every packet of the
// file.
func MakeIndex(s *ch10.Stream, channelID uint16) ([]Entry, error) {
	return MakeIndexForChannels(s, []uint16{channelID})
}

// MakeIndexForChannels builds the index of several channels in one pass.
// Packets with damaged headers are skipped. The read position is restored.
func MakeIndexForChannels(s *ch10.Stream, channels []uint16) ([]Entry, error) {
	start, err := s.GetPos()
	if err != nil {
		return nil, err
	}
	defer s.SetPos(start)

	want := make(map[uint16]bool, len(channels))
	for _, ch := range channels {
		want[ch] = true
	}
	hasRef := ensureTimeRef(s)
	if err := s.FirstMsg(); err != nil {
		return nil, err
	}
	var entries []Entry
	for {
		h, err := s.ReadNextHeader()
		if err != nil {
			if errors.Is(err, ch10.ErrEndOfFile) {
				break
			}
			if ch10.IsCorruption(err) {
				continue
			}
			return nil, err
		}
		if !want[h.ChannelID] {
			continue
		}
		e := Entry{ChannelID: h.ChannelID, DataType: h.DataType, RelTime: h.RelTime, Offset: s.HeaderPos()}
		if t, err := h.SecondaryTime(); err == nil {
			e.Time = &t
		} else if hasRef {
			if t, err := s.RelToIrig(h.RelTime); err == nil {
				e.Time = &t
			}
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].RelTime < entries[j].RelTime })
}

// Seek returns the position of the first entry at or after rel in entries
// sorted by relative time. Times outside the indexed range clamp to the
// first or last entry and return ErrTimeNotFound.
func Seek(entries []Entry, rel ch10.RelTime) (int, error) {
	if len(entries) == 0 {
		return -1, ch10.ErrNoIndex
	}
	if rel < entries[0].RelTime {
		return 0, fmt.Errorf("%w: before first entry", ch10.ErrTimeNotFound)
	}
	if rel > entries[len(entries)-1].RelTime {
		return len(entries) - 1, fmt.Errorf("%w: after last entry", ch10.ErrTimeNotFound)
	}
	return sort.Search(len(entries), func(i int) bool { return entries[i].RelTime >= rel }), nil
}

// Channel returns the entries of one channel, keeping their order.
func Channel(entries []Entry, channelID uint16) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.ChannelID == channelID {
			out = append(out, e)
		}
	}
	return out
}
