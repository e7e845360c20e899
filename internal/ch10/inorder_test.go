package ch10

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestInOrderIndexTwoPackets(t *testing.T) {
	path, offsets := buildFile(t, tmatsPacket(100), timePacket(50, TimeSourceExternal, epoch))
	s := mustOpenRead(t, path, ModeRead)
	require.NoError(t, s.MakeInOrderIndex())

	entries, status := s.InOrderEntries()
	require.Equal(t, SortSorted, status)
	want := []IndexEntry{{Offset: 0, RelTime: 100}, {Offset: offsets[1], RelTime: 50}}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("index mismatch (-want +got):\n%s", diff)
	}
}

func outOfOrderPackets() []testPacket {
	return []testPacket{
		tmatsPacket(0),
		timePacket(10, TimeSourceExternal, epoch),
		dataPacket(2, 50, 16),
		dataPacket(3, 30, 16),
		dataPacket(2, 40, 16),
		dataPacket(3, 20, 16),
	}
}

func TestReadInOrder(t *testing.T) {
	path, offsets := buildFile(t, outOfOrderPackets()...)
	s := mustOpenRead(t, path, ModeReadInOrder)
	require.NoError(t, s.MakeInOrderIndex())

	var rels []RelTime
	var pos []int64
	for _, h := range readAllHeaders(t, s) {
		rels = append(rels, h.RelTime)
		pos = append(pos, s.HeaderPos())
	}
	require.Equal(t, []RelTime{0, 10, 20, 30, 40, 50}, rels)
	require.Equal(t, []int64{offsets[0], offsets[1], offsets[5], offsets[3], offsets[4], offsets[2]}, pos)
}

func TestReadInOrderPrevHeader(t *testing.T) {
	path, _ := buildFile(t, outOfOrderPackets()...)
	s := mustOpenRead(t, path, ModeReadInOrder)
	require.NoError(t, s.MakeInOrderIndex())

	for i := 0; i < 4; i++ {
		_, err := s.ReadNextHeader()
		require.NoError(t, err)
	}
	h, err := s.ReadPrevHeader()
	require.NoError(t, err)
	require.Equal(t, RelTime(20), h.RelTime)
	h, err = s.ReadNextHeader()
	require.NoError(t, err)
	require.Equal(t, RelTime(30), h.RelTime)
}

func TestInOrderIndexSeekExactTimes(t *testing.T) {
	pkts := outOfOrderPackets()
	path, offsets := buildFile(t, pkts...)
	for _, mode := range []Mode{ModeRead, ModeReadInOrder} {
		t.Run(mode.String(), func(t *testing.T) {
			s := mustOpenRead(t, path, mode)
			require.NoError(t, s.MakeInOrderIndex())
			for i, p := range pkts {
				require.NoError(t, s.SetPosToRelTime(p.rel), "packet %d", i)
				pos, err := s.GetPos()
				require.NoError(t, err)
				require.Equal(t, offsets[i], pos, "packet %d", i)
				h, err := s.ReadNextHeader()
				require.NoError(t, err)
				require.Equal(t, p.rel, h.RelTime)
			}
		})
	}
}

func TestInOrderIndexSeekBounds(t *testing.T) {
	pkts := []testPacket{
		tmatsPacket(100),
		timePacket(110, TimeSourceExternal, epoch),
		dataPacket(2, 130, 16),
		dataPacket(2, 120, 16),
	}
	path, offsets := buildFile(t, pkts...)
	s := mustOpenRead(t, path, ModeRead)

	require.ErrorIs(t, s.SetPosToRelTime(120), ErrNoIndex)
	require.NoError(t, s.MakeInOrderIndex())

	require.ErrorIs(t, s.SetPosToRelTime(99), ErrTimeNotFound)
	pos, _ := s.GetPos()
	require.Equal(t, offsets[0], pos)

	require.ErrorIs(t, s.SetPosToRelTime(131), ErrTimeNotFound)
	pos, _ = s.GetPos()
	require.Equal(t, offsets[3], pos)

	require.NoError(t, s.SetPosToRelTime(125))
	pos, _ = s.GetPos()
	require.Equal(t, offsets[2], pos)
}

func TestSetPosToTime(t *testing.T) {
	pkts := outOfOrderPackets()
	path, offsets := buildFile(t, pkts...)
	s := mustOpenRead(t, path, ModeReadInOrder)
	require.NoError(t, s.SyncTime(true, 0))
	require.NoError(t, s.MakeInOrderIndex())

	ref, _ := s.TimeRef()
	require.NoError(t, s.SetPosToTime(ref.RelToIrig(40)))
	pos, _ := s.GetPos()
	require.Equal(t, offsets[4], pos)
}

func TestInOrderIndexSkipsCorruptHeaders(t *testing.T) {
	data, offsets := encodePackets(t, outOfOrderPackets()...)
	data[offsets[3]+6] ^= 0x01
	path := writeFile(t, data)
	s := mustOpenRead(t, path, ModeRead)
	require.NoError(t, s.MakeInOrderIndex())
	entries, _ := s.InOrderEntries()
	require.Len(t, entries, 5)
	for _, e := range entries {
		require.NotEqual(t, offsets[3], e.Offset)
	}
}

func TestInOrderIndexNeedsPacketBoundary(t *testing.T) {
	path, _ := buildFile(t, outOfOrderPackets()...)
	s := mustOpenRead(t, path, ModeRead)
	require.NoError(t, s.SetPos(3))
	require.ErrorIs(t, s.MakeInOrderIndex(), ErrSortError)
	_, status := s.InOrderEntries()
	require.Equal(t, SortError, status)
}

func TestLoadInOrderIndex(t *testing.T) {
	path, offsets := buildFile(t, outOfOrderPackets()...)
	s := mustOpenRead(t, path, ModeReadInOrder)
	require.NoError(t, s.MakeInOrderIndex())
	entries, _ := s.InOrderEntries()

	other := mustOpenRead(t, path, ModeReadInOrder)
	bad := append([]IndexEntry(nil), entries...)
	bad[3], bad[4] = bad[4], bad[3]
	require.ErrorIs(t, other.LoadInOrderIndex(bad), ErrSortError)

	require.NoError(t, other.LoadInOrderIndex(entries))
	require.NoError(t, other.SetPosToRelTime(30))
	pos, _ := other.GetPos()
	require.Equal(t, offsets[3], pos)
}

func TestIndexSearch(t *testing.T) {
	ix := InOrderIndex{Entries: []IndexEntry{
		{Offset: 0, RelTime: 5},
		{Offset: 10, RelTime: 90},
		{Offset: 20, RelTime: 10},
		{Offset: 30, RelTime: 20},
		{Offset: 40, RelTime: 20},
		{Offset: 50, RelTime: 40},
	}}
	tests := []struct {
		rel  RelTime
		want int
	}{
		{5, 0},
		{90, 1},
		{10, 2},
		{15, 3},
		{20, 3},
		{21, 5},
		{40, 5},
		{41, 5},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, ix.search(tc.rel), "rel %d", tc.rel)
	}
}
