package ch10

import (
	"encoding/binary"
	"fmt"
)

// RequiredPayloadBufferSize returns the number of bytes that follow the
// headers for a payload of dataLen bytes: the payload, the trailer checksum
// and enough filler for 4-byte alignment.
func RequiredPayloadBufferSize(dataLen int, kind ChecksumKind) int {
	n := dataLen + kind.Width()
	return (n + 3) &^ 3
}

// PayloadChecksum accumulates an 8, 16 or 32-bit wraparound sum over one or
// more sub-buffers. Words are little-endian and may straddle sub-buffer
// boundaries. Bytes never added count as zero, which is how filler is
// treated.
type PayloadChecksum struct {
	kind    ChecksumKind
	sum     uint32
	pending [4]byte
	npend   int
}

// NewPayloadChecksum returns an empty accumulator for kind.
func NewPayloadChecksum(kind ChecksumKind) *PayloadChecksum {
	return &PayloadChecksum{kind: kind}
}

// Add folds b into the running sum.
func (c *PayloadChecksum) Add(b []byte) {
	if c == nil || c.kind == ChecksumNone {
		return
	}
	if c.kind == Checksum8 {
		for _, v := range b {
			c.sum = (c.sum + uint32(v)) & 0xFF
		}
		return
	}
	w := c.kind.Width()
	for len(b) > 0 {
		if c.npend == 0 && len(b) >= w {
			c.addWord(b[:w])
			b = b[w:]
			continue
		}
		n := copy(c.pending[c.npend:w], b)
		c.npend += n
		b = b[n:]
		if c.npend == w {
			c.addWord(c.pending[:w])
			c.npend = 0
		}
	}
}

func (c *PayloadChecksum) addWord(w []byte) {
	switch c.kind {
	case Checksum16:
		c.sum = (c.sum + uint32(binary.LittleEndian.Uint16(w))) & 0xFFFF
	case Checksum32:
		c.sum += binary.LittleEndian.Uint32(w)
	}
}

// Sum returns the checksum with any trailing partial word zero padded.
func (c *PayloadChecksum) Sum() uint32 {
	if c == nil {
		return 0
	}
	sum := c.sum
	if c.npend > 0 {
		var word [4]byte
		copy(word[:], c.pending[:c.npend])
		switch c.kind {
		case Checksum16:
			sum = (sum + uint32(binary.LittleEndian.Uint16(word[:2]))) & 0xFFFF
		case Checksum32:
			sum += binary.LittleEndian.Uint32(word[:])
		}
	}
	return sum
}

// AddFillerChecksum prepares the data buffer of a packet for writing. It sets
// h.PacketLen, zeroes the filler and trailer bytes after h.DataLen and stores
// the checksum selected by the header flags in the last bytes of the buffer.
// The sum covers the payload and the zeroed filler, so buf must hold at least
// RequiredPayloadBufferSize bytes; the returned slice is the full data buffer.
//
// Filler is always assumed to be zero. Recorders that write non-zero filler
// produce checksums this function (and VerifyPayloadChecksum) disagree with.
func AddFillerChecksum(h *Header, buf []byte) ([]byte, error) {
	kind := h.ChecksumKind()
	size := RequiredPayloadBufferSize(int(h.DataLen), kind)
	if len(buf) < size {
		return nil, fmt.Errorf("%w: data buffer needs %d bytes, have %d", ErrBufferTooSmall, size, len(buf))
	}
	h.PacketLen = uint32(h.HeaderLen() + size)
	buf = buf[:size]
	clear(buf[h.DataLen:])
	w := kind.Width()
	if w == 0 {
		return buf, nil
	}
	sum := NewPayloadChecksum(kind)
	sum.Add(buf[:size-w])
	putChecksum(kind, buf[size-w:], sum.Sum())
	return buf, nil
}

// VerifyPayloadChecksum checks the trailer checksum of a data buffer read
// from a packet with header h.
func VerifyPayloadChecksum(h Header, buf []byte) error {
	kind := h.ChecksumKind()
	w := kind.Width()
	if w == 0 {
		return nil
	}
	size := h.DataBufferLen()
	if len(buf) < size || size < w {
		return fmt.Errorf("%w: data buffer %d bytes, packet declares %d", ErrBufferOverrun, len(buf), size)
	}
	sum := NewPayloadChecksum(kind)
	sum.Add(buf[:size-w])
	stored := readChecksum(kind, buf[size-w:size])
	if got := sum.Sum(); got != stored {
		return fmt.Errorf("%w: payload checksum computed 0x%X, stored 0x%X", ErrInvalidData, got, stored)
	}
	return nil
}

func putChecksum(kind ChecksumKind, dst []byte, v uint32) {
	switch kind {
	case Checksum8:
		dst[0] = uint8(v)
	case Checksum16:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case Checksum32:
		binary.LittleEndian.PutUint32(dst, v)
	}
}

func readChecksum(kind ChecksumKind, src []byte) uint32 {
	switch kind {
	case Checksum8:
		return uint32(src[0])
	case Checksum16:
		return uint32(binary.LittleEndian.Uint16(src))
	case Checksum32:
		return binary.LittleEndian.Uint32(src)
	}
	return 0
}

// BuildPacket assembles a complete packet for payload: h.DataLen is set to
// the payload length, the data buffer is padded and checksummed, and the
// header is finalized.
func BuildPacket(h Header, payload []byte) ([]byte, error) {
	h.DataLen = uint32(len(payload))
	buf := make([]byte, RequiredPayloadBufferSize(len(payload), h.ChecksumKind()))
	copy(buf, payload)
	data, err := AddFillerChecksum(&h, buf)
	if err != nil {
		return nil, err
	}
	h.Finalize()
	pkt := make([]byte, 0, int(h.PacketLen))
	pkt = append(h.AppendTo(pkt), data...)
	return pkt, nil
}
