package ch10

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		hdr  Header
	}{
		{name: "plain", hdr: Header{ChannelID: 3, DataLen: 100, SeqNum: 7, DataType: DataTypePCMF1, RelTime: 0x123456789A}},
		{name: "checksum32", hdr: Header{ChannelID: 0xFFFF, DataLen: 1, Flags: uint8(Checksum32), DataType: DataType1553F1, RelTime: relTimeMask}},
		{name: "flags", hdr: Header{DataLen: 8, Flags: FlagOverflow | FlagTimeSyncError | FlagIntraPacketTime, DataType: DataTypeEthernetF0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			want := tc.hdr
			want.Finalize()
			got, err := DecodeHeader(want.Encode())
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestHeaderRoundTripSecondary(t *testing.T) {
	for _, f := range []TimeFormat{TimeFormatCh4Binary, TimeFormatIEEE1588} {
		h := Header{ChannelID: 9, DataLen: 40, DataType: DataTypeAnalogF1, RelTime: 42}
		require.NoError(t, h.SetSecondaryTime(f, IrigTime{Secs: 1_000_000, Frac: 4_500_000}))
		h.Finalize()
		b := h.Encode()
		require.Len(t, b, HeaderSize+SecondaryHeaderSize)
		got, err := DecodeHeader(b)
		require.NoError(t, err)
		require.Equal(t, h, got)
		ts, err := got.SecondaryTime()
		require.NoError(t, err)
		require.Equal(t, int64(1_000_000), ts.Secs)
		require.Equal(t, uint32(4_500_000), ts.Frac)
	}
}

func TestDecodeHeaderRejectsBitFlips(t *testing.T) {
	h := Header{ChannelID: 5, DataLen: 64, DataType: DataTypeVideoF0, RelTime: 99}
	good := h.Encode()
	for bit := 0; bit < HeaderSize*8; bit++ {
		b := append([]byte(nil), good...)
		b[bit/8] ^= 1 << (bit % 8)
		_, err := DecodeHeader(b)
		if bit < 16 {
			require.ErrorIs(t, err, ErrInvalidSync, "bit %d", bit)
			continue
		}
		require.ErrorIs(t, err, ErrHeaderChecksum, "bit %d", bit)
	}
}

func TestDecodeHeaderNeverAcceptsBadChecksum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := make([]byte, HeaderSize)
	for i := 0; i < 20000; i++ {
		rng.Read(b)
		if i%2 == 0 {
			b[0], b[1] = 0x25, 0xEB
		}
		if i%3 == 0 {
			sum := HeaderChecksum(b)
			b[22], b[23] = byte(sum), byte(sum>>8)
		}
		h, err := DecodeHeader(b)
		if err != nil {
			if !errors.Is(err, ErrInvalidSync) && !errors.Is(err, ErrHeaderChecksum) && !errors.Is(err, ErrBufferTooSmall) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			continue
		}
		require.Equal(t, HeaderChecksum(b), h.Checksum)
	}
}

func TestDecodeHeaderSecondaryChecksum(t *testing.T) {
	h := Header{DataLen: 4, DataType: DataTypeDiscreteF1}
	require.NoError(t, h.SetSecondaryTime(TimeFormatIEEE1588, IrigTime{Secs: 5}))
	b := h.Encode()
	b[HeaderSize+3] ^= 0x40
	_, err := DecodeHeader(b)
	require.ErrorIs(t, err, ErrHeaderChecksum)

	_, err = DecodeHeader(h.Encode()[:HeaderSize])
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestSecondaryHeaderChecksumSumsWords(t *testing.T) {
	sec := make([]byte, SecondaryHeaderSize)
	copy(sec, []byte{0x01, 0x02, 0x03, 0x04, 0xFF, 0xFF, 0x00, 0x10, 0x00, 0x00})
	// 0x0201 + 0x0403 + 0xFFFF + 0x1000 wraps to 0x1603; a byte sum gives 0x0218
	require.Equal(t, uint16(0x1603), SecondaryHeaderChecksum(sec))
}

func TestHeaderLengths(t *testing.T) {
	h := Header{DataLen: 5, Flags: uint8(Checksum8)}
	h.Finalize()
	require.Equal(t, uint32(HeaderSize+8), h.PacketLen)
	require.Equal(t, 8, h.DataBufferLen())
	require.Equal(t, DefaultHeaderVer, int(h.Version))
	require.Equal(t, Checksum8, h.ChecksumKind())

	h.SetChecksumKind(Checksum32)
	h.SetTimeFormat(TimeFormatIEEE1588)
	require.Equal(t, Checksum32, h.ChecksumKind())
	require.Equal(t, TimeFormatIEEE1588, h.TimeFormat())
}

func TestEncodeRawKeepsFields(t *testing.T) {
	h := Header{DataLen: 4, PacketLen: 1000, Checksum: 0xBEEF}
	b := h.EncodeRaw()
	_, err := DecodeHeader(b)
	require.ErrorIs(t, err, ErrHeaderChecksum)
	require.Equal(t, byte(0xEF), b[22])
}
