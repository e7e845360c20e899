package ch10

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testPacket struct {
	ch      uint16
	dt      DataType
	rel     RelTime
	flags   uint8
	payload []byte
}

func tmatsPacket(rel RelTime) testPacket {
	return testPacket{dt: DataTypeTMATS, rel: rel, payload: []byte("G\\DSI\\N:1;R-1\\ID:TEST;")}
}

func timePacket(rel RelTime, src TimeSource, ts time.Time) testPacket {
	return testPacket{
		ch:      1,
		dt:      DataTypeTimeF1,
		rel:     rel,
		payload: EncodeTimeF1(src, TimeCodeIRIGB, IrigTimeFrom(ts, DateFormatDMY)),
	}
}

func dataPacket(ch uint16, rel RelTime, n int) testPacket {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = byte(i%200 + 1)
	}
	return testPacket{ch: ch, dt: DataTypePCMF1, rel: rel, flags: uint8(Checksum16), payload: payload}
}

func encodePackets(t *testing.T, pkts ...testPacket) ([]byte, []int64) {
	t.Helper()
	var buf bytes.Buffer
	offsets := make([]int64, 0, len(pkts))
	for i, p := range pkts {
		h := Header{ChannelID: p.ch, DataType: p.dt, RelTime: p.rel, SeqNum: uint8(i), Flags: p.flags}
		pkt, err := BuildPacket(h, p.payload)
		require.NoError(t, err)
		offsets = append(offsets, int64(buf.Len()))
		buf.Write(pkt)
	}
	return buf.Bytes(), offsets
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec.ch10")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func buildFile(t *testing.T, pkts ...testPacket) (string, []int64) {
	t.Helper()
	data, offsets := encodePackets(t, pkts...)
	return writeFile(t, data), offsets
}

func mustOpenRead(t *testing.T, path string, mode Mode) *Stream {
	t.Helper()
	s, err := Open(path, mode)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func readAllHeaders(t *testing.T, s *Stream) []Header {
	t.Helper()
	var out []Header
	for {
		h, err := s.ReadNextHeader()
		if errors.Is(err, ErrEndOfFile) {
			return out
		}
		require.NoError(t, err)
		out = append(out, h)
	}
}
