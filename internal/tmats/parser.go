package tmats

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// DigestKey holds the document digest written by WithDigest.
const DigestKey = `G\SHA`

// csdwSize is the channel word in front of the text of a setup record packet.
const csdwSize = 4

// Document is a parsed TMATS attribute set. Attribute order is preserved.
type Document struct {
	keys     []string
	values   map[string]string
	comments []string
}

// New returns an empty document.
func New() *Document {
	return &Document{values: make(map[string]string)}
}

// Parse loads a TMATS document from disk.
func Parse(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseString(string(data)), nil
}

// FromPacket parses the data buffer of a setup record packet.
func FromPacket(data []byte) (*Document, error) {
	if len(data) < csdwSize {
		return nil, fmt.Errorf("setup record of %d bytes has no channel word", len(data))
	}
	text := strings.TrimRight(string(data[csdwSize:]), "\x00")
	return parseString(text), nil
}

func parseString(raw string) *Document {
	doc := New()
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			doc.comments = append(doc.comments, line)
			continue
		}
		for _, attr := range strings.Split(line, ";") {
			attr = strings.TrimSpace(attr)
			if attr == "" || strings.HasPrefix(attr, "#") {
				continue
			}
			key, value, ok := strings.Cut(attr, ":")
			if !ok {
				continue
			}
			doc.Set(strings.TrimSpace(key), strings.TrimSpace(value))
		}
	}
	return doc
}

// Get returns the value of key.
func (d *Document) Get(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Set stores value under key and reports whether the document changed.
func (d *Document) Set(key, value string) bool {
	old, ok := d.values[key]
	if ok && old == value {
		return false
	}
	if !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return true
}

func (d *Document) Delete(key string) bool {
	if _, ok := d.values[key]; !ok {
		return false
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys lists the attribute names in document order.
func (d *Document) Keys() []string {
	return append([]string(nil), d.keys...)
}

func (d *Document) Comments() []string {
	return append([]string(nil), d.comments...)
}

// AddComment appends a comment line unless an identical one exists. A
// missing "#" prefix is added.
func (d *Document) AddComment(text string) bool {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "#") {
		text = "# " + text
	}
	for _, c := range d.comments {
		if c == text {
			return false
		}
	}
	d.comments = append(d.comments, text)
	return true
}

// EnsureCommentWithTag adds comment unless a comment containing tag exists.
func (d *Document) EnsureCommentWithTag(tag, comment string) bool {
	for _, c := range d.comments {
		if strings.Contains(c, tag) {
			return false
		}
	}
	return d.AddComment(comment)
}

func (d *Document) String() string {
	return d.render(true)
}

// StringWithoutDigest renders the document without the digest attribute.
func (d *Document) StringWithoutDigest() string {
	return d.render(false)
}

func (d *Document) render(withDigest bool) string {
	var b strings.Builder
	for _, c := range d.comments {
		b.WriteString(c)
		b.WriteByte('\n')
	}
	for _, k := range d.keys {
		if !withDigest && k == DigestKey {
			continue
		}
		fmt.Fprintf(&b, "%s:%s;\n", k, d.values[k])
	}
	return b.String()
}

// Packet returns the document as the data of a setup record packet. The
// channel word carries the TMATS version in its low bits.
func (d *Document) Packet(version uint8) []byte {
	text := d.String()
	buf := make([]byte, csdwSize+len(text))
	buf[0] = version
	copy(buf[csdwSize:], text)
	return buf
}

// ComputeDigest computes a SHA-256 digest of the document without its
// digest attribute.
func (d *Document) ComputeDigest() (string, error) {
	sum := sha256.Sum256([]byte(d.StringWithoutDigest()))
	return hex.EncodeToString(sum[:]), nil
}

// WithDigest stores digest in the document and renders it.
func WithDigest(doc *Document, digest string) string {
	doc.Set(DigestKey, digest)
	return doc.String()
}

// IndexEnabled reports whether the recorder declared recording index
// packets (R-1\IDX\E).
func (d *Document) IndexEnabled() bool {
	v, _ := d.Get(`R-1\IDX\E`)
	return strings.EqualFold(v, "T")
}

// Channel is one data source of the R-1 record.
type Channel struct {
	ID       uint16
	DataType string
	Enabled  bool
	Name     string
}

// ChannelInfo lists the channels declared by R-1\TK1-n, in declaration
// order. Entries without a parsable channel ID are skipped.
func (d *Document) ChannelInfo() []Channel {
	n := 0
	if v, ok := d.Get(`R-1\N`); ok {
		n, _ = strconv.Atoi(v)
	}
	if n == 0 {
		n = d.highestTrackIndex()
	}
	var out []Channel
	for i := 1; i <= n; i++ {
		v, ok := d.Get(fmt.Sprintf(`R-1\TK1-%d`, i))
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 16)
		if err != nil {
			continue
		}
		ch := Channel{ID: uint16(id), Enabled: true}
		ch.DataType, _ = d.Get(fmt.Sprintf(`R-1\CDT-%d`, i))
		ch.Name, _ = d.Get(fmt.Sprintf(`R-1\DSI-%d`, i))
		if e, ok := d.Get(fmt.Sprintf(`R-1\CHE-%d`, i)); ok {
			ch.Enabled = strings.EqualFold(e, "T")
		}
		out = append(out, ch)
	}
	return out
}

// Channels returns the channel IDs of ChannelInfo, sorted.
func (d *Document) Channels() []uint16 {
	info := d.ChannelInfo()
	ids := make([]uint16, 0, len(info))
	for _, ch := range info {
		ids = append(ids, ch.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *Document) highestTrackIndex() int {
	highest := 0
	for _, k := range d.keys {
		rest, ok := strings.CutPrefix(k, `R-1\TK1-`)
		if !ok {
			continue
		}
		if i, err := strconv.Atoi(rest); err == nil && i > highest {
			highest = i
		}
	}
	return highest
}

var dataTypeNames = map[uint8]string{
	0x01: "TMATS",
	0x03: "INDEX",
	0x08: "PCMIN",
	0x09: "PCMIN",
	0x11: "TIMEIN",
	0x19: "1553IN",
	0x21: "ANAIN",
	0x29: "DISIN",
	0x30: "MSGIN",
	0x38: "ARININ",
	0x40: "VIDIN",
	0x48: "IMGIN",
	0x50: "UARTIN",
	0x60: "PARIN",
	0x68: "ETHIN",
	0x78: "CANIN",
}

// DataTypeName returns the R-x\CDT name of a packet data type code, or the
// code in hex when it has none.
func DataTypeName(code uint8) string {
	if name, ok := dataTypeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", code)
}
