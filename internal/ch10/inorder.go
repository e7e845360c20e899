package ch10

import (
	"errors"
	"fmt"
	"sort"

	"example.com/ch10stream/internal/common"
)

// SortStatus tracks the in-order index of a stream.
type SortStatus int

const (
	SortUnsorted SortStatus = iota
	SortSorted
	SortError
)

func (s SortStatus) String() string {
	switch s {
	case SortUnsorted:
		return "unsorted"
	case SortSorted:
		return "sorted"
	case SortError:
		return "error"
	default:
		return fmt.Sprintf("sort-status(%d)", int(s))
	}
}

// IndexEntry locates one packet by offset and relative time.
type IndexEntry struct {
	Offset  int64
	RelTime RelTime
}

// InOrderIndex lists every packet of a file ordered by relative time. The
// first two entries keep their file position: they are the setup record
// and the first time packet, which precede everything else regardless of
// their time stamps.
type InOrderIndex struct {
	Entries []IndexEntry
	Status  SortStatus
	cursor  int
}

func (ix *InOrderIndex) reset() {
	ix.Entries = ix.Entries[:0]
	ix.Status = SortUnsorted
	ix.cursor = 0
}

func (ix *InOrderIndex) add(e IndexEntry) {
	if len(ix.Entries) == cap(ix.Entries) {
		grown := make([]IndexEntry, len(ix.Entries), cap(ix.Entries)*3/2+100)
		copy(grown, ix.Entries)
		ix.Entries = grown
	}
	ix.Entries = append(ix.Entries, e)
}

func (ix *InOrderIndex) sortByTime() {
	if len(ix.Entries) <= 2 {
		return
	}
	tail := ix.Entries[2:]
	sort.SliceStable(tail, func(i, j int) bool { return tail[i].RelTime < tail[j].RelTime })
}

func (ix *InOrderIndex) locate(offset int64) int {
	for i, e := range ix.Entries {
		if e.Offset == offset {
			return i
		}
	}
	return -1
}

// search returns the entry for rel. The first two entries are matched
// exactly; otherwise it is the first sorted entry at or after rel.
func (ix *InOrderIndex) search(rel RelTime) int {
	for i := 0; i < 2 && i < len(ix.Entries); i++ {
		if ix.Entries[i].RelTime == rel {
			return i
		}
	}
	if len(ix.Entries) <= 2 {
		return len(ix.Entries) - 1
	}
	tail := ix.Entries[2:]
	i := sort.Search(len(tail), func(i int) bool { return tail[i].RelTime >= rel })
	if i == len(tail) {
		i--
	}
	return i + 2
}

// MakeInOrderIndex reads every header of the file and builds the in-order
// index. Headers with checksum errors are left out. The read position is
// restored afterwards and must be a packet boundary.
func (s *Stream) MakeInOrderIndex() error {
	if err := s.checkFile(); err != nil {
		return err
	}
	start := s.pos
	s.index.reset()
	s.pos = 0
	s.state = StateUnsynced
	for {
		h, err := s.readNextHeaderFile()
		if err != nil {
			if errors.Is(err, ErrEndOfFile) {
				break
			}
			if IsCorruption(err) {
				continue
			}
			s.index.Status = SortError
			s.pos, s.state = start, StateUnsynced
			return fmt.Errorf("%w: %w", ErrSortError, err)
		}
		s.index.add(IndexEntry{Offset: s.hdrPos, RelTime: h.RelTime})
		s.reportProgress(s.pos)
	}
	s.index.sortByTime()
	s.pos, s.state = start, StateUnsynced
	cur := s.index.locate(start)
	if cur < 0 {
		s.index.Status = SortError
		return fmt.Errorf("%w: start offset %d is not a packet boundary", ErrSortError, start)
	}
	s.index.cursor = cur
	s.index.Status = SortSorted
	common.Debugf("%s: in-order index built, %d packets", s.describe(), len(s.index.Entries))
	return nil
}

// LoadInOrderIndex installs entries built earlier, for example from a
// persisted index store. Entries past the first two must be in time order.
func (s *Stream) LoadInOrderIndex(entries []IndexEntry) error {
	if err := s.checkFile(); err != nil {
		return err
	}
	for i := 3; i < len(entries); i++ {
		if entries[i].RelTime < entries[i-1].RelTime {
			s.index.Status = SortError
			return fmt.Errorf("%w: entry %d out of order", ErrSortError, i)
		}
	}
	s.index.Entries = append(s.index.Entries[:0], entries...)
	s.index.cursor = 0
	if cur := s.index.locate(s.pos); cur >= 0 {
		s.index.cursor = cur
	}
	s.index.Status = SortSorted
	return nil
}

// InOrderEntries returns a copy of the in-order index and its status.
func (s *Stream) InOrderEntries() ([]IndexEntry, SortStatus) {
	return append([]IndexEntry(nil), s.index.Entries...), s.index.Status
}

func (s *Stream) readNextHeaderInOrder() (Header, error) {
	if s.state == StateReadData {
		s.state = StateReadHeader
	}
	if s.index.cursor >= len(s.index.Entries) {
		s.state = StateUnsynced
		return Header{}, ErrEndOfFile
	}
	want := s.index.Entries[s.index.cursor].Offset
	s.index.cursor++
	s.pos = want
	s.state = StateReadHeader
	h, err := s.readNextHeaderFile()
	if err != nil {
		return h, err
	}
	if s.hdrPos != want {
		if cur := s.index.locate(s.hdrPos); cur >= 0 {
			s.index.cursor = cur + 1
		}
	}
	return h, nil
}

// SetPosToTime positions the stream on the packet at or after t, using the
// stream's time reference.
func (s *Stream) SetPosToTime(t IrigTime) error {
	if err := s.checkFile(); err != nil {
		return err
	}
	return s.SetPosToRelTime(s.timeRef.IrigToRel(t))
}

// SetPosToRelTime positions the stream on the first packet whose relative
// time is at or after rel. Times outside the indexed range clamp to the
// first or last packet and return ErrTimeNotFound.
func (s *Stream) SetPosToRelTime(rel RelTime) error {
	if err := s.checkFile(); err != nil {
		return err
	}
	if s.index.Status != SortSorted {
		return ErrNoIndex
	}
	entries := s.index.Entries
	if len(entries) == 0 {
		return ErrNoIndex
	}
	if rel < entries[0].RelTime {
		if err := s.FirstMsg(); err != nil {
			return err
		}
		return fmt.Errorf("%w: before first packet", ErrTimeNotFound)
	}
	if rel > entries[len(entries)-1].RelTime {
		if err := s.LastMsg(); err != nil {
			return err
		}
		return fmt.Errorf("%w: after last packet", ErrTimeNotFound)
	}
	i := s.index.search(rel)
	s.index.cursor = i
	return s.SetPos(entries[i].Offset)
}
