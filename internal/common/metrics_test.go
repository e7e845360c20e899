package common

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsCountsConcurrently(t *testing.T) {
	m := NewMetrics()
	m.Start()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.AddPacket(24)
				m.IncDatagram()
			}
		}()
	}
	wg.Wait()
	m.AddPacket(0)
	m.AddSequenceGap(-3)
	m.AddSequenceGap(2)
	m.Stop()

	snap := m.Snapshot()
	require.Equal(t, int64(800), snap.Packets)
	require.Equal(t, int64(800*24), snap.Bytes)
	require.Equal(t, int64(800), snap.Datagrams)
	require.Equal(t, int64(2), snap.SequenceGaps)
	require.True(t, snap.Damaged())

	frozen := snap.Duration
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, frozen, m.Snapshot().Duration)
}

func TestSnapshotCompletion(t *testing.T) {
	require.Zero(t, MetricsSnapshot{Bytes: 10}.Completion())
	require.InDelta(t, 0.25, MetricsSnapshot{Bytes: 25, TotalBytes: 100}.Completion(), 1e-9)
	require.Equal(t, 1.0, MetricsSnapshot{Bytes: 200, TotalBytes: 100}.Completion())
	require.Zero(t, MetricsSnapshot{Bytes: 10}.ThroughputBytesPerSecond())
	require.Equal(t, 10.0, MetricsSnapshot{Bytes: 20, Duration: 2 * time.Second}.ThroughputBytesPerSecond())

	m := NewMetrics()
	m.SetTotalBytes(-5)
	require.Zero(t, m.Snapshot().TotalBytes)
}

func TestFormatBytes(t *testing.T) {
	for in, want := range map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.00 KiB",
		1536:    "1.50 KiB",
		5 << 20: "5.00 MiB",
		3 << 40: "3.00 TiB",
	} {
		require.Equal(t, want, FormatBytes(in), "FormatBytes(%d)", in)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinter(t *testing.T) {
	m := NewMetrics()
	m.Start()
	m.SetTotalBytes(4096)
	m.AddPacket(1024)
	m.IncResync()
	var out syncBuffer
	stop := StartProgressPrinter(&out, m, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Progress:  25.00%")
	}, time.Second, 5*time.Millisecond)
	stop()
	stop()
	require.Contains(t, out.String(), "resyncs=1")
	require.True(t, strings.HasSuffix(out.String(), "\r\n"))

	require.NotPanics(t, func() { StartProgressPrinter(nil, m, 0)() })
}

func TestEventLogRoundTrip(t *testing.T) {
	log := NewEventLog(filepath.Join(t.TempDir(), "nested", "events.jsonl"))
	require.Error(t, log.Append(Event{Offset: 1}))
	require.NoError(t, log.Append(Event{Kind: "sync-lost", Offset: 48}))
	require.NoError(t, log.Append(Event{Kind: "header-checksum", Offset: 96, Detail: "got 0x0001"}))

	events, err := ReadEventLog(log.Path())
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(96), events[1].Offset)
	require.False(t, events[0].Ts.IsZero())

	stopErr := errors.New("stop")
	seen := 0
	err = EachEvent(log.Path(), func(Event) error {
		seen++
		return stopErr
	})
	require.ErrorIs(t, err, stopErr)
	require.Equal(t, 1, seen)

	var nilLog *EventLog
	require.Error(t, nilLog.Append(Event{Kind: "x"}))
	require.Empty(t, nilLog.Path())
}
