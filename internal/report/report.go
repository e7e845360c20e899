// Package report walks a recording and summarizes its integrity: packet and
// byte counts per channel, resynchronizations, checksum failures and the
// covered time range. Reports are saved as JSON or rendered to PDF.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/index"
	"example.com/ch10stream/internal/tmats"
)

// Finding is one damaged spot in the recording.
type Finding struct {
	Kind      string `json:"kind"`
	Offset    int64  `json:"offset"`
	ChannelID uint16 `json:"channelId,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// ChannelSummary counts the packets of one channel.
type ChannelSummary struct {
	ID           uint16 `json:"id"`
	DataType     string `json:"dataType"`
	Name         string `json:"name,omitempty"`
	Declared     bool   `json:"declared"`
	Packets      int64  `json:"packets"`
	Bytes        int64  `json:"bytes"`
	FirstRelTime int64  `json:"firstRelTime"`
	LastRelTime  int64  `json:"lastRelTime"`
}

// ScanReport is the result of Scan.
type ScanReport struct {
	File        string    `json:"file"`
	Size        int64     `json:"size"`
	Digest      string    `json:"digest"`
	Fingerprint string    `json:"fingerprint"`
	ScannedAt   time.Time `json:"scannedAt"`
	DurationMs  int64     `json:"durationMs"`

	Packets              int64 `json:"packets"`
	Bytes                int64 `json:"bytes"`
	Resyncs              int64 `json:"resyncs"`
	HeaderChecksumErrors int64 `json:"headerChecksumErrors"`
	PayloadErrors        int64 `json:"payloadErrors"`

	SetupRecord  bool   `json:"setupRecord"`
	IndexPresent bool   `json:"indexPresent"`
	FirstRelTime int64  `json:"firstRelTime"`
	LastRelTime  int64  `json:"lastRelTime"`
	FirstTime    string `json:"firstTime,omitempty"`
	LastTime     string `json:"lastTime,omitempty"`

	Channels []ChannelSummary `json:"channels"`
	Findings []Finding        `json:"findings"`
}

// Clean reports whether the scan found no damage.
func (r ScanReport) Clean() bool {
	return len(r.Findings) == 0 && r.Resyncs == 0 && r.PayloadErrors == 0
}

// ScanOptions tunes Scan.
type ScanOptions struct {
	// VerifyPayload reads every data buffer and checks its trailer checksum.
	VerifyPayload bool
	Metrics       *common.Metrics
	Events        *common.EventLog
}

// Scan reads every packet of the file at path and builds its report.
func Scan(path string, opts ScanOptions) (ScanReport, error) {
	rep := ScanReport{File: path, ScannedAt: time.Now().UTC()}
	fp, err := common.FingerprintFile(path)
	if err != nil {
		return rep, err
	}
	digest, _, err := common.HashFile(path)
	if err != nil {
		return rep, err
	}
	rep.Size = fp.Size
	rep.Fingerprint = fp.String()
	rep.Digest = fmt.Sprintf("%016x", digest)

	s, err := ch10.Open(path, ch10.ModeRead)
	if err != nil && !errors.Is(err, ch10.ErrOpenWarning) {
		return rep, err
	}
	defer s.Close()
	rep.SetupRecord = err == nil
	if err != nil {
		common.Warnf("scan %s: %v", path, err)
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = common.NewMetrics()
	}
	metrics.SetTotalBytes(s.Size())
	metrics.Start()
	s.SetMetrics(metrics)
	if opts.Events != nil {
		s.SetEventLog(opts.Events)
	}

	w := &walker{s: s, rep: &rep, verify: opts.VerifyPayload, channels: make(map[uint16]*ChannelSummary)}
	if err := w.run(); err != nil {
		return rep, err
	}
	metrics.Stop()
	snap := metrics.Snapshot()
	rep.DurationMs = snap.Duration.Milliseconds()
	rep.Resyncs = snap.Resyncs
	rep.HeaderChecksumErrors = snap.ChecksumErrors

	if rep.SetupRecord && w.setup != nil {
		present, err := index.IndexPresent(s, w.setup)
		if err != nil {
			common.Debugf("scan %s: index lookup: %v", path, err)
		}
		rep.IndexPresent = present
	}
	w.finish()
	return rep, nil
}

type walker struct {
	s        *ch10.Stream
	rep      *ScanReport
	verify   bool
	setup    *tmats.Document
	channels map[uint16]*ChannelSummary
	buf      []byte
	anyTime  bool
}

func (w *walker) run() error {
	for {
		h, err := w.s.ReadNextHeader()
		if err != nil {
			if errors.Is(err, ch10.ErrEndOfFile) {
				return nil
			}
			if ch10.IsCorruption(err) {
				// the stream stops one byte past the rejected header
				pos, _ := w.s.GetPos()
				w.rep.Findings = append(w.rep.Findings, Finding{
					Kind:   ch10.CorruptionKind(err),
					Offset: pos - 1,
					Detail: err.Error(),
				})
				continue
			}
			return err
		}
		w.count(h)
		if !w.wantsData(h) {
			continue
		}
		data, err := w.readData()
		if err != nil {
			if errors.Is(err, ch10.ErrEndOfFile) {
				w.rep.Findings = append(w.rep.Findings, Finding{Kind: "truncated", Offset: w.s.HeaderPos(), ChannelID: h.ChannelID})
				return nil
			}
			return err
		}
		w.inspect(h, data)
	}
}

func (w *walker) count(h ch10.Header) {
	w.rep.Packets++
	w.rep.Bytes += int64(h.PacketLen)
	rel := int64(h.RelTime)
	if !w.anyTime || rel < w.rep.FirstRelTime {
		w.rep.FirstRelTime = rel
	}
	if !w.anyTime || rel > w.rep.LastRelTime {
		w.rep.LastRelTime = rel
	}
	w.anyTime = true

	c, ok := w.channels[h.ChannelID]
	if !ok {
		c = &ChannelSummary{ID: h.ChannelID, DataType: h.DataType.String(), FirstRelTime: rel, LastRelTime: rel}
		w.channels[h.ChannelID] = c
	}
	c.Packets++
	c.Bytes += int64(h.PacketLen)
	if rel < c.FirstRelTime {
		c.FirstRelTime = rel
	}
	if rel > c.LastRelTime {
		c.LastRelTime = rel
	}
}

func (w *walker) wantsData(h ch10.Header) bool {
	if w.verify {
		return true
	}
	switch h.DataType {
	case ch10.DataTypeTMATS:
		return w.setup == nil
	case ch10.DataTypeTimeF1:
		_, ok := w.s.TimeRef()
		return !ok
	}
	return false
}

func (w *walker) readData() ([]byte, error) {
	n := w.s.DataBufferLen()
	if cap(w.buf) < n {
		w.buf = make([]byte, n)
	}
	got, err := w.s.ReadData(w.buf[:n])
	return w.buf[:got], err
}

func (w *walker) inspect(h ch10.Header, data []byte) {
	if w.verify {
		if err := ch10.VerifyPayloadChecksum(h, data); err != nil {
			w.rep.PayloadErrors++
			w.rep.Findings = append(w.rep.Findings, Finding{
				Kind:      "payload-checksum",
				Offset:    w.s.HeaderPos(),
				ChannelID: h.ChannelID,
				Detail:    err.Error(),
			})
		}
	}
	switch h.DataType {
	case ch10.DataTypeTMATS:
		if w.setup != nil {
			return
		}
		doc, err := tmats.FromPacket(data)
		if err != nil {
			common.Warnf("scan %s: setup record: %v", w.s.Path(), err)
			return
		}
		w.setup = doc
	case ch10.DataTypeTimeF1:
		if _, ok := w.s.TimeRef(); ok {
			return
		}
		tf, err := ch10.DecodeTimeF1(data)
		if err != nil {
			common.Debugf("scan %s: time packet at %d: %v", w.s.Path(), w.s.HeaderPos(), err)
			return
		}
		w.s.SetTimeRef(ch10.TimeRef{RelTime: h.RelTime, Irig: tf.Time})
	}
}

// finish fills in the parts of the report that need the whole file: the
// absolute time range and the channel list merged with the setup record.
func (w *walker) finish() {
	if w.anyTime {
		if first, err := w.s.RelToIrig(ch10.RelTime(w.rep.FirstRelTime)); err == nil {
			w.rep.FirstTime = first.String()
		}
		if last, err := w.s.RelToIrig(ch10.RelTime(w.rep.LastRelTime)); err == nil {
			w.rep.LastTime = last.String()
		}
	}
	if w.setup != nil {
		for _, ch := range w.setup.ChannelInfo() {
			c, ok := w.channels[ch.ID]
			if !ok {
				c = &ChannelSummary{ID: ch.ID, DataType: ch.DataType}
				w.channels[ch.ID] = c
			}
			c.Declared = true
			c.Name = ch.Name
		}
	}
	ids := make([]uint16, 0, len(w.channels))
	for id := range w.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	w.rep.Channels = make([]ChannelSummary, 0, len(ids))
	for _, id := range ids {
		w.rep.Channels = append(w.rep.Channels, *w.channels[id])
	}
	if w.rep.Findings == nil {
		w.rep.Findings = []Finding{}
	}
}

func SaveScanJSON(rep ScanReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadScanJSON(path string) (ScanReport, error) {
	var rep ScanReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}
