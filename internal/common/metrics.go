package common

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics counts throughput and the damage seen while reading or receiving a
// stream. Counters are updated from the packet path without locking; only
// the start and stop marks share a mutex.
type Metrics struct {
	clock   sync.Mutex
	started time.Time
	stopped time.Time

	total     atomic.Int64
	bytes     atomic.Int64
	packets   atomic.Int64
	datagrams atomic.Int64

	resyncs   atomic.Int64
	badSums   atomic.Int64
	gaps      atomic.Int64
	discarded atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Start marks the beginning of the measured interval. Later calls are
// ignored until the interval is stopped and reset.
func (m *Metrics) Start() {
	m.clock.Lock()
	defer m.clock.Unlock()
	if m.started.IsZero() {
		m.started = time.Now()
		m.stopped = time.Time{}
	}
}

func (m *Metrics) Stop() {
	m.clock.Lock()
	defer m.clock.Unlock()
	if m.started.IsZero() || !m.stopped.IsZero() {
		return
	}
	m.stopped = time.Now()
}

func (m *Metrics) elapsed() time.Duration {
	m.clock.Lock()
	defer m.clock.Unlock()
	switch {
	case m.started.IsZero():
		return 0
	case m.stopped.IsZero():
		return time.Since(m.started)
	default:
		return m.stopped.Sub(m.started)
	}
}

// AddPacket counts one packet of size bytes.
func (m *Metrics) AddPacket(size int64) {
	if size > 0 {
		m.bytes.Add(size)
		m.packets.Add(1)
	}
}

// AddBytes counts bytes that do not end a packet, such as transfer
// segments on the sending side.
func (m *Metrics) AddBytes(n int64) {
	if n > 0 {
		m.bytes.Add(n)
	}
}

func (m *Metrics) IncDatagram()      { m.datagrams.Add(1) }
func (m *Metrics) IncResync()        { m.resyncs.Add(1) }
func (m *Metrics) IncChecksumError() { m.badSums.Add(1) }

// IncDropped counts a partially reassembled packet that was thrown away.
func (m *Metrics) IncDropped() { m.discarded.Add(1) }

// AddSequenceGap records n transfer sequence numbers that never arrived.
func (m *Metrics) AddSequenceGap(n int64) {
	if n > 0 {
		m.gaps.Add(n)
	}
}

// SetTotalBytes sets the expected size used for completion; negative
// values clear it.
func (m *Metrics) SetTotalBytes(total int64) {
	m.total.Store(max(total, 0))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Duration:       m.elapsed(),
		Bytes:          m.bytes.Load(),
		TotalBytes:     m.total.Load(),
		Packets:        m.packets.Load(),
		Datagrams:      m.datagrams.Load(),
		Resyncs:        m.resyncs.Load(),
		ChecksumErrors: m.badSums.Load(),
		SequenceGaps:   m.gaps.Load(),
		Dropped:        m.discarded.Load(),
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Duration   time.Duration
	Bytes      int64
	TotalBytes int64
	Packets    int64
	Datagrams  int64

	Resyncs        int64
	ChecksumErrors int64
	SequenceGaps   int64
	Dropped        int64
}

func (s MetricsSnapshot) ThroughputBytesPerSecond() float64 {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Bytes) / secs
}

// Completion is the fraction of TotalBytes processed, clamped to [0, 1].
// It is zero when the total is unknown.
func (s MetricsSnapshot) Completion() float64 {
	if s.TotalBytes <= 0 || s.Bytes <= 0 {
		return 0
	}
	return min(float64(s.Bytes)/float64(s.TotalBytes), 1)
}

// Damaged reports whether any resync, checksum error, gap or drop was seen.
func (s MetricsSnapshot) Damaged() bool {
	return s.Resyncs+s.ChecksumErrors+s.SequenceGaps+s.Dropped > 0
}

var byteUnits = [...]string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// FormatBytes renders b with a binary unit suffix.
func FormatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v := float64(b) / 1024
	unit := 0
	for v >= 1024 && unit < len(byteUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", v, byteUnits[unit])
}

func progressLine(s MetricsSnapshot) string {
	rate := s.ThroughputBytesPerSecond() / (1 << 20)
	var line string
	if s.TotalBytes > 0 {
		line = fmt.Sprintf("Progress: %6.2f%% (%s / %s) %.2f MiB/s",
			s.Completion()*100, FormatBytes(s.Bytes), FormatBytes(s.TotalBytes), rate)
	} else {
		line = fmt.Sprintf("Processed: %s %.2f MiB/s", FormatBytes(s.Bytes), rate)
	}
	if s.Damaged() {
		line += fmt.Sprintf(" [resyncs=%d gaps=%d]", s.Resyncs, s.SequenceGaps)
	}
	return line
}

// StartProgressPrinter rewrites a single progress line on w every interval
// until the returned function is called.
func StartProgressPrinter(w io.Writer, m *Metrics, interval time.Duration) func() {
	if m == nil || w == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}
	p := &progressPrinter{w: w}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.show(progressLine(m.Snapshot()))
			case <-done:
				p.clear()
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-finished
	}
}

type progressPrinter struct {
	w    io.Writer
	last int
}

func (p *progressPrinter) show(line string) {
	width := len(line)
	if pad := p.last - width; pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	fmt.Fprintf(p.w, "\r%s", line)
	p.last = width
}

func (p *progressPrinter) clear() {
	if p.last > 0 {
		fmt.Fprintf(p.w, "\r%s\r\n", strings.Repeat(" ", p.last))
	}
}
