package ch10

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/ch10stream/internal/common"
)

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func samplePackets() []testPacket {
	return []testPacket{
		tmatsPacket(0),
		timePacket(10, TimeSourceExternal, epoch),
		dataPacket(2, 20, 37),
		dataPacket(3, 30, 64),
		dataPacket(2, 40, 5),
		dataPacket(4, 50, 100),
	}
}

func TestOpenRejectsMissingSync(t *testing.T) {
	path := writeFile(t, make([]byte, 64))
	_, err := Open(path, ModeRead)
	require.ErrorIs(t, err, ErrOpenFailed)
	require.ErrorIs(t, err, ErrInvalidSync)

	_, err = Open(filepath.Join(t.TempDir(), "missing.ch10"), ModeRead)
	require.ErrorIs(t, err, ErrOpenFailed)

	_, err = Open(path, ModeReadNetStream)
	require.ErrorIs(t, err, ErrWrongMode)
}

func TestOpenWarnsWithoutSetupRecord(t *testing.T) {
	path, _ := buildFile(t, dataPacket(2, 5, 10), dataPacket(2, 6, 10))
	s, err := Open(path, ModeRead)
	require.ErrorIs(t, err, ErrOpenWarning)
	require.NotNil(t, s)
	defer s.Close()
	require.Len(t, readAllHeaders(t, s), 2)
}

func TestReadSequential(t *testing.T) {
	pkts := samplePackets()
	path, offsets := buildFile(t, pkts...)
	s := mustOpenRead(t, path, ModeRead)

	for i, p := range pkts {
		h, err := s.ReadNextHeader()
		require.NoError(t, err, "packet %d", i)
		require.Equal(t, p.ch, h.ChannelID)
		require.Equal(t, p.dt, h.DataType)
		require.Equal(t, p.rel, h.RelTime)
		require.Equal(t, offsets[i], s.HeaderPos())
		if i%2 == 0 {
			buf := make([]byte, s.DataBufferLen())
			n, err := s.ReadData(buf)
			require.NoError(t, err)
			require.Equal(t, p.payload, buf[:h.DataLen])
			require.NoError(t, VerifyPayloadChecksum(h, buf[:n]))
		}
	}
	_, err := s.ReadNextHeader()
	require.ErrorIs(t, err, ErrEndOfFile)
	require.Equal(t, StateUnsynced, s.State())
}

func TestResyncAfterCorruptHeader(t *testing.T) {
	pkts := samplePackets()
	data, offsets := encodePackets(t, pkts...)
	data[offsets[3]+22] ^= 0x04
	path := writeFile(t, data)
	s := mustOpenRead(t, path, ModeRead)
	m := common.NewMetrics()
	s.SetMetrics(m)
	events := common.NewEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	s.SetEventLog(events)

	var got []RelTime
	var failures int
	for {
		h, err := s.ReadNextHeader()
		if errors.Is(err, ErrEndOfFile) {
			break
		}
		if err != nil {
			require.ErrorIs(t, err, ErrHeaderChecksum)
			failures++
			continue
		}
		got = append(got, h.RelTime)
	}
	require.Equal(t, 1, failures)
	require.Equal(t, []RelTime{0, 10, 20, 40, 50}, got)
	snap := m.Snapshot()
	require.Equal(t, int64(1), snap.ChecksumErrors)
	require.Equal(t, int64(5), snap.Packets)

	logged, err := common.ReadEventLog(events.Path())
	require.NoError(t, err)
	require.Len(t, logged, 1)
	require.Equal(t, "header-checksum", logged[0].Kind)
	require.Equal(t, offsets[3], logged[0].Offset)
}

func TestResyncFromArbitraryOffset(t *testing.T) {
	path, offsets := buildFile(t, samplePackets()...)
	s := mustOpenRead(t, path, ModeRead)
	s.SetResyncWindow(32)
	require.NoError(t, s.SetPos(offsets[2]+3))
	h, err := s.ReadNextHeader()
	require.NoError(t, err)
	require.Equal(t, RelTime(30), h.RelTime)
	require.Equal(t, offsets[3], s.HeaderPos())
}

func TestReadPrevHeader(t *testing.T) {
	pkts := samplePackets()
	path, offsets := buildFile(t, pkts...)
	s := mustOpenRead(t, path, ModeRead)
	s.SetResyncWindow(50)

	_, err := s.ReadPrevHeader()
	require.ErrorIs(t, err, ErrBeginningOfFile)

	require.Len(t, readAllHeaders(t, s), len(pkts))
	for i := len(pkts) - 1; i >= 0; i-- {
		h, err := s.ReadPrevHeader()
		require.NoError(t, err, "packet %d", i)
		require.Equal(t, pkts[i].rel, h.RelTime)
		require.Equal(t, offsets[i], s.HeaderPos())
	}
	_, err = s.ReadPrevHeader()
	require.ErrorIs(t, err, ErrBeginningOfFile)
}

func TestFirstAndLastMsg(t *testing.T) {
	pkts := samplePackets()
	path, offsets := buildFile(t, pkts...)
	s := mustOpenRead(t, path, ModeRead)

	require.NoError(t, s.LastMsg())
	pos, err := s.GetPos()
	require.NoError(t, err)
	require.Equal(t, offsets[len(offsets)-1], pos)
	h, err := s.ReadNextHeader()
	require.NoError(t, err)
	require.Equal(t, RelTime(50), h.RelTime)

	require.NoError(t, s.FirstMsg())
	h, err = s.ReadNextHeader()
	require.NoError(t, err)
	require.Equal(t, DataTypeTMATS, h.DataType)
}

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ch10")
	pkts := samplePackets()

	w, err := Open(path, ModeOverwrite)
	require.NoError(t, err)
	for i, p := range pkts[:3] {
		writePacket(t, w, p, uint8(i))
	}
	require.NoError(t, w.Close())

	w, err = Open(path, ModeAppend)
	require.NoError(t, err)
	start, err := w.GetPos()
	require.NoError(t, err)
	require.NotZero(t, start)
	for i, p := range pkts[3:] {
		writePacket(t, w, p, uint8(i+3))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	s := mustOpenRead(t, path, ModeRead)
	hdrs := readAllHeaders(t, s)
	require.Len(t, hdrs, len(pkts))
	for i, h := range hdrs {
		require.Equal(t, pkts[i].rel, h.RelTime)
		require.Equal(t, uint8(i), h.SeqNum)
	}
}

func writePacket(t *testing.T, s *Stream, p testPacket, seq uint8) {
	t.Helper()
	pkt, err := BuildPacket(Header{ChannelID: p.ch, DataType: p.dt, RelTime: p.rel, SeqNum: seq, Flags: p.flags}, p.payload)
	require.NoError(t, err)
	h, err := DecodeHeader(pkt)
	require.NoError(t, err)
	require.NoError(t, s.WriteMessage(h, pkt[h.HeaderLen():]))
}

func TestStreamMisuse(t *testing.T) {
	var nilStream *Stream
	_, err := nilStream.ReadNextHeader()
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.ErrorIs(t, nilStream.Close(), ErrInvalidHandle)

	path, _ := buildFile(t, samplePackets()...)
	s, err := Open(path, ModeRead)
	require.NoError(t, err)

	_, err = s.ReadData(make([]byte, 16))
	require.ErrorIs(t, err, ErrReadFailed)
	require.True(t, errors.Is(s.WriteMessage(Header{}, nil), ErrWrongMode))

	_, err = s.ReadNextHeader()
	require.NoError(t, err)
	_, err = s.ReadData(make([]byte, 1))
	require.ErrorIs(t, err, ErrBufferTooSmall)
	require.True(t, IsMisuse(err))

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Close(), ErrNotOpen)
	_, err = s.ReadNextHeader()
	require.ErrorIs(t, err, ErrNotOpen)

	w, err := Open(filepath.Join(t.TempDir(), "w.ch10"), ModeOverwrite)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.ReadNextHeader()
	require.ErrorIs(t, err, ErrWrongMode)
	require.ErrorIs(t, w.SetPos(0), ErrWrongMode)
}

func TestSyncTime(t *testing.T) {
	internal := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	pkts := []testPacket{
		tmatsPacket(0),
		timePacket(10, TimeSourceInternal, internal),
		dataPacket(2, 20, 8),
		timePacket(30, TimeSourceExternal, epoch),
		dataPacket(2, 30+TicksPerSecond, 8),
	}
	path, _ := buildFile(t, pkts...)
	s := mustOpenRead(t, path, ModeRead)

	_, ok := s.TimeRef()
	require.False(t, ok)
	_, err := s.RelToIrig(0)
	require.ErrorIs(t, err, ErrTimeNotFound)

	require.NoError(t, s.SyncTime(true, 0))
	ref, ok := s.TimeRef()
	require.True(t, ok)
	require.Equal(t, RelTime(30), ref.RelTime)
	require.Equal(t, epoch.Unix(), ref.Irig.Secs)
	pos, err := s.GetPos()
	require.NoError(t, err)
	require.Zero(t, pos)

	abs, err := s.RelToIrig(30 + TicksPerSecond)
	require.NoError(t, err)
	require.Equal(t, epoch.Add(time.Second), abs.Time())

	require.NoError(t, s.SyncTime(false, 0))
	ref, _ = s.TimeRef()
	require.Equal(t, RelTime(10), ref.RelTime)
}

func TestSyncTimeLimit(t *testing.T) {
	pkts := []testPacket{
		tmatsPacket(0),
		dataPacket(2, 5, 8),
		timePacket(3*TicksPerSecond, TimeSourceExternal, epoch),
	}
	path, _ := buildFile(t, pkts...)
	s := mustOpenRead(t, path, ModeRead)
	require.ErrorIs(t, s.SyncTime(false, 1), ErrTimeNotFound)
	require.NoError(t, s.SyncTime(false, 5))
}

func TestOpenEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ch10")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := Open(path, ModeRead)
	require.ErrorIs(t, err, ErrOpenFailed)
}
