package ch10

import (
	"encoding/binary"
	"fmt"
)

// Header is a decoded packet header together with its optional secondary
// header. Field layout on the wire is little-endian.
type Header struct {
	ChannelID uint16
	PacketLen uint32
	DataLen   uint32
	Version   uint8
	SeqNum    uint8
	Flags     uint8
	DataType  DataType
	RelTime   RelTime
	Checksum  uint16

	// Secondary is meaningful only when FlagSecondaryHeader is set.
	Secondary SecondaryHeader
}

// SecondaryHeader carries the absolute time stamp of a packet.
type SecondaryHeader struct {
	Time     [8]byte
	Reserved uint16
	Checksum uint16
}

func (h Header) HasSecondaryHeader() bool { return h.Flags&FlagSecondaryHeader != 0 }
func (h Header) ChecksumKind() ChecksumKind {
	return ChecksumKind(h.Flags & FlagChecksumMask)
}
func (h Header) TimeFormat() TimeFormat {
	return TimeFormat((h.Flags & FlagTimeFormatMask) >> timeFormatFlagShift)
}
func (h Header) Overflow() bool              { return h.Flags&FlagOverflow != 0 }
func (h Header) TimeSyncError() bool         { return h.Flags&FlagTimeSyncError != 0 }
func (h Header) IntraPacketTimeSource() bool { return h.Flags&FlagIntraPacketTime != 0 }

// HeaderLen is the number of bytes preceding the payload.
func (h Header) HeaderLen() int {
	if h.HasSecondaryHeader() {
		return HeaderSize + SecondaryHeaderSize
	}
	return HeaderSize
}

// DataBufferLen is the number of bytes following the headers: payload,
// filler and trailer checksum.
func (h Header) DataBufferLen() int {
	n := int(h.PacketLen) - h.HeaderLen()
	if n < 0 {
		return 0
	}
	return n
}

// SetChecksumKind replaces the checksum bits of the flags.
func (h *Header) SetChecksumKind(k ChecksumKind) {
	h.Flags = h.Flags&^FlagChecksumMask | uint8(k)&FlagChecksumMask
}

// SetTimeFormat replaces the secondary time format bits of the flags.
func (h *Header) SetTimeFormat(f TimeFormat) {
	h.Flags = h.Flags&^FlagTimeFormatMask | (uint8(f)<<timeFormatFlagShift)&FlagTimeFormatMask
}

// Finalize sets the packet length from the data length and checksum kind and
// recomputes both header checksums.
func (h *Header) Finalize() {
	if h.Version == 0 {
		h.Version = DefaultHeaderVer
	}
	h.PacketLen = uint32(h.HeaderLen()) + uint32(RequiredPayloadBufferSize(int(h.DataLen), h.ChecksumKind()))
	var buf [HeaderSize + SecondaryHeaderSize]byte
	h.put(buf[:], true)
	h.Checksum = binary.LittleEndian.Uint16(buf[22:24])
	if h.HasSecondaryHeader() {
		h.Secondary.Checksum = binary.LittleEndian.Uint16(buf[HeaderSize+secondaryCksumOffset:])
	} else {
		h.Secondary = SecondaryHeader{}
	}
}

// Encode returns the wire bytes of the header (and secondary header when
// flagged). Packet length and checksums are computed, not copied.
func (h Header) Encode() []byte {
	h.Finalize()
	buf := make([]byte, h.HeaderLen())
	h.put(buf, true)
	return buf
}

// AppendTo appends the encoded header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	return append(dst, h.Encode()...)
}

// EncodeRaw writes the header fields as they are, including PacketLen and
// the checksums, without recomputing anything.
func (h Header) EncodeRaw() []byte {
	buf := make([]byte, h.HeaderLen())
	h.put(buf, false)
	return buf
}

func (h Header) put(buf []byte, sums bool) {
	binary.LittleEndian.PutUint16(buf[0:2], SyncPattern)
	binary.LittleEndian.PutUint16(buf[2:4], h.ChannelID)
	binary.LittleEndian.PutUint32(buf[4:8], h.PacketLen)
	binary.LittleEndian.PutUint32(buf[8:12], h.DataLen)
	buf[12] = h.Version
	buf[13] = h.SeqNum
	buf[14] = h.Flags
	buf[15] = uint8(h.DataType)
	h.RelTime.PutBytes(buf[16:22])
	cksum := h.Checksum
	if sums {
		cksum = HeaderChecksum(buf[:HeaderSize])
	}
	binary.LittleEndian.PutUint16(buf[22:24], cksum)
	if !h.HasSecondaryHeader() {
		return
	}
	sec := buf[HeaderSize : HeaderSize+SecondaryHeaderSize]
	copy(sec[0:8], h.Secondary.Time[:])
	binary.LittleEndian.PutUint16(sec[8:10], h.Secondary.Reserved)
	cksum = h.Secondary.Checksum
	if sums {
		cksum = SecondaryHeaderChecksum(sec)
	}
	binary.LittleEndian.PutUint16(sec[10:12], cksum)
}

// DecodeHeader parses a header from b. The secondary header is decoded when
// the flags announce one, so b must then hold HeaderSize+SecondaryHeaderSize
// bytes.
func DecodeHeader(b []byte) (Header, error) {
	h, err := decodePrimary(b)
	if err != nil {
		return Header{}, err
	}
	if !h.HasSecondaryHeader() {
		return h, nil
	}
	if len(b) < HeaderSize+SecondaryHeaderSize {
		return Header{}, fmt.Errorf("%w: secondary header needs %d bytes, have %d", ErrBufferTooSmall, HeaderSize+SecondaryHeaderSize, len(b))
	}
	if err := decodeSecondary(&h, b[HeaderSize:HeaderSize+SecondaryHeaderSize]); err != nil {
		return Header{}, err
	}
	return h, nil
}

func decodePrimary(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("%w: header needs %d bytes, have %d", ErrBufferTooSmall, HeaderSize, len(b))
	}
	if binary.LittleEndian.Uint16(b[0:2]) != SyncPattern {
		return h, ErrInvalidSync
	}
	h.Checksum = binary.LittleEndian.Uint16(b[22:24])
	if sum := HeaderChecksum(b[:HeaderSize]); sum != h.Checksum {
		return h, fmt.Errorf("%w: computed 0x%04X, stored 0x%04X", ErrHeaderChecksum, sum, h.Checksum)
	}
	h.ChannelID = binary.LittleEndian.Uint16(b[2:4])
	h.PacketLen = binary.LittleEndian.Uint32(b[4:8])
	h.DataLen = binary.LittleEndian.Uint32(b[8:12])
	h.Version = b[12]
	h.SeqNum = b[13]
	h.Flags = b[14]
	h.DataType = DataType(b[15])
	h.RelTime = RelTimeFromBytes(b[16:22])
	return h, nil
}

func decodeSecondary(h *Header, sec []byte) error {
	stored := binary.LittleEndian.Uint16(sec[secondaryCksumOffset : secondaryCksumOffset+2])
	if sum := SecondaryHeaderChecksum(sec); sum != stored {
		return fmt.Errorf("%w: secondary header computed 0x%04X, stored 0x%04X", ErrHeaderChecksum, sum, stored)
	}
	copy(h.Secondary.Time[:], sec[secondaryTimeOffset:secondaryTimeOffset+8])
	h.Secondary.Reserved = binary.LittleEndian.Uint16(sec[8:10])
	h.Secondary.Checksum = stored
	return nil
}

// HeaderChecksum is the 16-bit wraparound sum of the first eleven
// little-endian words of a header.
func HeaderChecksum(b []byte) uint16 {
	return wordSum16(b[:HeaderSize-2])
}

// SecondaryHeaderChecksum is the 16-bit wraparound sum of the first five
// little-endian words of a secondary header, as IRIG 106 defines it. Some
// older readers sum the ten bytes instead, so they reject secondary headers
// written here unless every odd byte is zero.
func SecondaryHeaderChecksum(b []byte) uint16 {
	return wordSum16(b[:SecondaryHeaderSize-2])
}

func wordSum16(b []byte) uint16 {
	var sum uint16
	for i := 0; i+1 < len(b); i += 2 {
		sum += binary.LittleEndian.Uint16(b[i : i+2])
	}
	return sum
}

// validHeaderAt reports whether window[i:] starts with a header whose sync
// and primary checksum are valid.
func validHeaderAt(window []byte, i int) bool {
	if i < 0 || i+HeaderSize > len(window) {
		return false
	}
	b := window[i : i+HeaderSize]
	if b[0] != 0x25 || b[1] != 0xEB {
		return false
	}
	return HeaderChecksum(b) == binary.LittleEndian.Uint16(b[22:24])
}
