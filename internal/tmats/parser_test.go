package tmats

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseSetupAttributes(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		comments int
		want     map[string]string
		keys     []string
	}{
		{
			name: "one attribute per line",
			raw:  "G\\DSI\\N:1;\nR-1\\ID:FLIGHT;\n",
			want: map[string]string{"G\\DSI\\N": "1", "R-1\\ID": "FLIGHT"},
			keys: []string{"G\\DSI\\N", "R-1\\ID"},
		},
		{
			name:     "repeated attribute keeps last value",
			raw:      "# setup\nR-1\\TK1-1:3; R-1\\TK1-1:4;\nR-1\\CDT-1:PCMIN;# trailing\n",
			comments: 1,
			want:     map[string]string{"R-1\\TK1-1": "4", "R-1\\CDT-1": "PCMIN"},
			keys:     []string{"R-1\\TK1-1", "R-1\\CDT-1"},
		},
		{
			name: "CRLF and blank lines",
			raw:  "\r\nR-1\\N:2;\r\n\r\n",
			want: map[string]string{"R-1\\N": "2"},
			keys: []string{"R-1\\N"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := parseString(tc.raw)
			if got := len(doc.Comments()); got != tc.comments {
				t.Fatalf("comments = %d, want %d", got, tc.comments)
			}
			for k, want := range tc.want {
				if got, ok := doc.Get(k); !ok || got != want {
					t.Fatalf("%s = %q, %v; want %q", k, got, ok, want)
				}
			}
			if !reflect.DeepEqual(doc.Keys(), tc.keys) {
				t.Fatalf("keys = %v, want %v", doc.Keys(), tc.keys)
			}
		})
	}
}

func TestEditSetupRecord(t *testing.T) {
	doc := New()
	if !doc.Set(`R-1\IDX\E`, "T") || doc.Set(`R-1\IDX\E`, "T") {
		t.Fatalf("Set should report only real changes")
	}
	if !doc.IndexEnabled() {
		t.Fatalf("index flag not picked up after Set")
	}
	if !doc.Delete(`R-1\IDX\E`) || doc.Delete(`R-1\IDX\E`) {
		t.Fatalf("Delete should succeed exactly once")
	}
	if _, ok := doc.Get(`R-1\IDX\E`); ok {
		t.Fatalf("deleted attribute still present")
	}

	if !doc.AddComment("recorder A") || doc.AddComment("# recorder A") {
		t.Fatalf("AddComment should ignore a repeated comment")
	}
	if !doc.EnsureCommentWithTag("GEN", "# GEN sample") || doc.EnsureCommentWithTag("GEN", "# GEN other") {
		t.Fatalf("EnsureCommentWithTag should add one comment per tag")
	}
	if got := len(doc.Comments()); got != 2 {
		t.Fatalf("comments = %d, want 2", got)
	}
}

func TestSetupDigest(t *testing.T) {
	doc := parseString("R-1\\TK1-1:1;\nG\\SHA:deadbeef;\n")
	if strings.Contains(doc.StringWithoutDigest(), `G\SHA`) {
		t.Fatalf("digest attribute rendered: %q", doc.StringWithoutDigest())
	}
	digest, err := doc.ComputeDigest()
	if err != nil {
		t.Fatalf("ComputeDigest: %v", err)
	}
	signed := WithDigest(doc, digest)
	if !strings.Contains(signed, digest) {
		t.Fatalf("rendered record lacks digest %s", digest)
	}
	if again, _ := parseString(signed).ComputeDigest(); again != digest {
		t.Fatalf("digest not stable across a reparse: %s != %s", again, digest)
	}

	doc.Set(`R-1\TK1-1`, "2")
	if changed, _ := doc.ComputeDigest(); changed == digest {
		t.Fatalf("digest ignored an attribute change")
	}
}

func TestDataTypeNames(t *testing.T) {
	for code, want := range map[uint8]string{0x08: "PCMIN", 0x99: "0x99"} {
		if got := DataTypeName(code); got != want {
			t.Fatalf("DataTypeName(%#x) = %q, want %q", code, got, want)
		}
	}
}

func TestRecordingInfo(t *testing.T) {
	raw := "G\\DSI\\N:1;\nR-1\\IDX\\E:T;\nR-1\\N:3;\n" +
		"R-1\\TK1-1:12;R-1\\CDT-1:PCMIN;R-1\\DSI-1:PCM1;\n" +
		"R-1\\TK1-2:1;R-1\\CDT-2:TIMEIN;\n" +
		"R-1\\TK1-3:7;R-1\\CDT-3:VIDIN;R-1\\CHE-3:F;\n"
	doc := parseString(raw)
	if !doc.IndexEnabled() {
		t.Fatalf("expected index enabled")
	}
	if got := doc.Channels(); !reflect.DeepEqual(got, []uint16{1, 7, 12}) {
		t.Fatalf("unexpected channels: %v", got)
	}
	info := doc.ChannelInfo()
	if len(info) != 3 || info[0].Name != "PCM1" || info[2].Enabled {
		t.Fatalf("unexpected channel info: %+v", info)
	}

	doc.Delete("R-1\\N")
	doc.Set("R-1\\IDX\\E", "F")
	if doc.IndexEnabled() {
		t.Fatalf("expected index disabled")
	}
	if got := doc.Channels(); len(got) != 3 {
		t.Fatalf("channel count without R-1\\N: %v", got)
	}
}

func TestPacketRoundTrip(t *testing.T) {
	doc := parseString("R-1\\IDX\\E:T;\nR-1\\TK1-1:3;\n")
	data := append(doc.Packet(0x07), 0, 0)
	if data[0] != 0x07 {
		t.Fatalf("version not in channel word: %x", data[:4])
	}
	back, err := FromPacket(data)
	if err != nil {
		t.Fatalf("FromPacket: %v", err)
	}
	if !reflect.DeepEqual(back.Keys(), doc.Keys()) || !back.IndexEnabled() {
		t.Fatalf("round trip mismatch: %v", back.Keys())
	}
	if _, err := FromPacket([]byte{1, 2}); err == nil {
		t.Fatalf("expected error for short packet")
	}
}

func TestParseSetupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup.tmats")
	if err := os.WriteFile(path, []byte("# bench\nR-1\\TK1-1:5;\nR-1\\CDT-1:PCMIN;\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	doc, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := doc.Channels(); !reflect.DeepEqual(got, []uint16{5}) {
		t.Fatalf("channels = %v", got)
	}
	if _, err := Parse(filepath.Join(t.TempDir(), "missing.tmats")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}
