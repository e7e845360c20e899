package main

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/index"
	"example.com/ch10stream/internal/netstream"
	"example.com/ch10stream/internal/report"
)

const setupRecord = "G\\DSI\\N:1;\nR-1\\IDX\\E:T;\nR-1\\N:2;\n" +
	"R-1\\TK1-1:1;R-1\\CDT-1:TIMEIN;\nR-1\\TK1-2:5;R-1\\CDT-2:PCMIN;\n"

// writeSyntheticChapter10 writes a recording with a setup record, one time
// packet and four data packets per second for three seconds, closed by an
// embedded index.
func writeSyntheticChapter10(t *testing.T, path string) {
	t.Helper()
	var buf []byte
	var seq uint8
	var nodes []index.Item
	add := func(h ch10.Header, payload []byte) int64 {
		h.SeqNum = seq
		seq++
		pkt, err := ch10.BuildPacket(h, payload)
		if err != nil {
			t.Fatalf("BuildPacket: %v", err)
		}
		off := int64(len(buf))
		buf = append(buf, pkt...)
		return off
	}
	add(ch10.Header{DataType: ch10.DataTypeTMATS}, append([]byte{0x07, 0, 0, 0}, setupRecord...))
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var last ch10.RelTime
	for sec := 0; sec < 3; sec++ {
		rel := ch10.RelTime(sec+1) * ch10.TicksPerSecond
		tm := ch10.IrigTimeFrom(start.Add(time.Duration(sec)*time.Second), ch10.DateFormatDMY)
		off := add(ch10.Header{ChannelID: 1, DataType: ch10.DataTypeTimeF1, RelTime: rel},
			ch10.EncodeTimeF1(ch10.TimeSourceExternal, ch10.TimeCodeIRIGB, tm))
		nodes = append(nodes, index.NodeEntry{Stamp: index.Stamp{RelTime: rel}, ChannelID: 1, DataType: ch10.DataTypeTimeF1, Offset: off})
		for i := 0; i < 4; i++ {
			last = rel + ch10.RelTime(i+1)*2_000_000
			off := add(ch10.Header{ChannelID: 5, DataType: ch10.DataTypePCMF1, RelTime: last, Flags: uint8(ch10.Checksum16)},
				bytes.Repeat([]byte{byte(sec), byte(i)}, 40))
			nodes = append(nodes, index.NodeEntry{Stamp: index.Stamp{RelTime: last}, ChannelID: 5, DataType: ch10.DataTypePCMF1, Offset: off})
		}
	}
	payload, err := index.EncodePacket(nodes, nil, false, ch10.TimeFormatCh4Binary)
	if err != nil {
		t.Fatalf("EncodePacket nodes: %v", err)
	}
	node := add(ch10.Header{DataType: ch10.DataTypeRecordingIndex, RelTime: last}, payload)
	root := int64(len(buf))
	payload, err = index.EncodePacket([]index.Item{index.RootEntry{Offset: node}, index.RootLink{Offset: root}}, nil, false, ch10.TimeFormatCh4Binary)
	if err != nil {
		t.Fatalf("EncodePacket root: %v", err)
	}
	add(ch10.Header{DataType: ch10.DataTypeRecordingIndex, RelTime: last}, payload)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("ch10ctl %s: %v\n%s", strings.Join(args, " "), err, errOut.String())
	}
	return out.String()
}

func TestScanCmdWritesReports(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "rec.ch10")
	writeSyntheticChapter10(t, in)
	jsonOut := filepath.Join(root, "scan.json")
	pdfOut := filepath.Join(root, "scan.pdf")

	out := run(t, "scan", in, "--json", jsonOut, "--pdf", pdfOut)
	if !strings.Contains(out, "CLEAN") || !strings.Contains(out, "packets=18") {
		t.Fatalf("unexpected scan output:\n%s", out)
	}
	rep, err := report.LoadScanJSON(jsonOut)
	if err != nil {
		t.Fatalf("LoadScanJSON: %v", err)
	}
	if !rep.Clean() || !rep.IndexPresent || rep.Packets != 18 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if info, err := os.Stat(pdfOut); err != nil || info.Size() == 0 {
		t.Fatalf("pdf missing: %v", err)
	}
}

func TestDumpCmdFiltersChannels(t *testing.T) {
	in := filepath.Join(t.TempDir(), "rec.ch10")
	writeSyntheticChapter10(t, in)

	out := run(t, "dump", in, "--channel", "5", "--limit", "3")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 rows, got:\n%s", out)
	}
	for _, line := range lines[1:] {
		if !strings.Contains(line, "pcm-f1") || !strings.Contains(line, "2024/03/01 12:00:0") {
			t.Fatalf("unexpected row %q", line)
		}
	}
}

func TestIndexCmdUsesEmbeddedIndexAndStore(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "rec.ch10")
	writeSyntheticChapter10(t, in)
	store := filepath.Join(root, "index.db")

	out := run(t, "index", in, "--store", store)
	if !strings.Contains(out, "15 entries (embedded index)") {
		t.Fatalf("unexpected first run:\n%s", out)
	}
	out = run(t, "index", in, "--store", store, "--at", "20000000")
	if !strings.Contains(out, "15 entries (store)") || !strings.Contains(out, "at 20000000: offset=") {
		t.Fatalf("unexpected second run:\n%s", out)
	}

	out = run(t, "index", in, "--channel", "5", "--list")
	if !strings.Contains(out, "12 entries (scan)") {
		t.Fatalf("unexpected channel index:\n%s", out)
	}
	if strings.Contains(out, "time-f1") {
		t.Fatalf("channel index lists other channels:\n%s", out)
	}
}

func TestSeekCmd(t *testing.T) {
	in := filepath.Join(t.TempDir(), "rec.ch10")
	writeSyntheticChapter10(t, in)

	out := run(t, "seek", in, "--time", "2024-03-01T12:00:01Z", "--count", "2")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "reltime=20000000") {
		t.Fatalf("unexpected seek output:\n%s", out)
	}

	out = run(t, "seek", in, "--rel", "999999999999", "--count", "1")
	if !strings.Contains(out, "clamped") {
		t.Fatalf("expected clamp note:\n%s", out)
	}
}

func TestSendCmdReplaysRecording(t *testing.T) {
	in := filepath.Join(t.TempDir(), "rec.ch10")
	writeSyntheticChapter10(t, in)

	r, err := netstream.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := ch10.OpenNetReader(r)
	defer s.Close()
	if err := r.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}

	out := run(t, "send", in, "--addr", r.LocalAddr().String(), "--max-datagram", "128")
	if !strings.Contains(out, "sent 18 packets") {
		t.Fatalf("unexpected send output:\n%s", out)
	}
	var got int
	for got < 18 {
		h, err := s.ReadNextHeader()
		if err != nil {
			if errors.Is(err, ch10.ErrEndOfFile) || netstream.IsTimeout(err) {
				break
			}
			t.Fatalf("ReadNextHeader: %v", err)
		}
		if got == 0 && h.DataType != ch10.DataTypeTMATS {
			t.Fatalf("first packet is %s", h.DataType)
		}
		got++
	}
	if got != 18 {
		t.Fatalf("received %d packets, want 18", got)
	}
}

func TestManifestCmdCreatesAndVerifies(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "rec.ch10")
	writeSyntheticChapter10(t, in)
	mf := filepath.Join(root, "manifest.json")

	out := run(t, "manifest", mf, "--create", in)
	if !strings.Contains(out, "1 files") {
		t.Fatalf("unexpected create output:\n%s", out)
	}
	out = run(t, "manifest", mf)
	if !strings.Contains(out, "1 files match (unsigned)") {
		t.Fatalf("unexpected verify output:\n%s", out)
	}

	if err := os.WriteFile(in, []byte("truncated"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	var buf bytes.Buffer
	cmd := NewRootCommand(&buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"manifest", mf})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("verify succeeded on a modified file")
	}
	if !strings.Contains(buf.String(), "MISMATCH rec.ch10") {
		t.Fatalf("mismatch not reported:\n%s", buf.String())
	}
}

type datagramLog struct{ datagrams [][]byte }

func (d *datagramLog) Write(p []byte) (int, error) {
	d.datagrams = append(d.datagrams, append([]byte(nil), p...))
	return len(p), nil
}

func (d *datagramLog) Close() error { return nil }

func TestCaptureCmdRebuildsRecording(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "rec.ch10")
	writeSyntheticChapter10(t, in)
	original, err := os.ReadFile(in)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	log := &datagramLog{}
	sender, err := netstream.NewSender(log, 128)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	s, err := ch10.Open(in, ch10.ModeRead)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for {
		h, data, err := s.ReadPacket()
		if errors.Is(err, ch10.ErrEndOfFile) {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		if err := sender.WritePacket(append(h.Encode(), data...)); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}
	s.Close()

	var pcap bytes.Buffer
	w := pcapgo.NewWriter(&pcap)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader: %v", err)
	}
	for _, d := range log.datagrams {
		eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}, DstMAC: net.HardwareAddr{2, 0, 0, 0, 0, 2}, EthernetType: layers.EthernetTypeIPv4}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2)}
		udp := &layers.UDP{SrcPort: 40000, DstPort: 4400}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatalf("SetNetworkLayerForChecksum: %v", err)
		}
		buf := gopacket.NewSerializeBuffer()
		if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, eth, ip, udp, gopacket.Payload(d)); err != nil {
			t.Fatalf("SerializeLayers: %v", err)
		}
		frame := buf.Bytes()
		if err := w.WritePacket(gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame), Length: len(frame)}, frame); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}
	capPath := filepath.Join(root, "stream.pcap")
	if err := os.WriteFile(capPath, pcap.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	outPath := filepath.Join(root, "rebuilt.ch10")
	out := run(t, "capture", capPath, outPath)
	if !strings.Contains(out, "wrote 18 packets") {
		t.Fatalf("unexpected capture output:\n%s", out)
	}
	rebuilt, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(original, rebuilt) {
		t.Fatalf("rebuilt recording differs: %d bytes, want %d", len(rebuilt), len(original))
	}
}
