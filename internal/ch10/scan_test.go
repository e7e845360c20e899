package ch10

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanWindow(t *testing.T) {
	window := make([]byte, 80)
	hdr := Header{ChannelID: 2, DataLen: 4, DataType: DataTypePCMF1}.Encode()
	copy(window[5:], hdr)
	copy(window[40:], hdr)
	window[70], window[71] = 0x25, 0xEB

	require.Equal(t, 5, scanForward(window, 0, validHeaderAt))
	require.Equal(t, 5, scanForward(window, -3, validHeaderAt))
	require.Equal(t, 40, scanForward(window, 6, validHeaderAt))
	require.Equal(t, -1, scanForward(window, 41, validHeaderAt))

	require.Equal(t, 40, scanBackward(window, len(window), validHeaderAt))
	require.Equal(t, 40, scanBackward(window, 41, validHeaderAt))
	require.Equal(t, 5, scanBackward(window, 40, validHeaderAt))
	require.Equal(t, -1, scanBackward(window, 5, validHeaderAt))
}

func TestScanTruncatedHeader(t *testing.T) {
	hdr := Header{DataLen: 4}.Encode()
	window := append(make([]byte, 3), hdr[:HeaderSize-1]...)
	require.Equal(t, -1, scanForward(window, 0, validHeaderAt))
	require.Equal(t, -1, scanBackward(window, len(window), validHeaderAt))
	require.False(t, validHeaderAt(window, -1))
}
