package index

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"example.com/ch10stream/internal/ch10"
)

func indexHeader(data []byte) ch10.Header {
	return ch10.Header{DataType: ch10.DataTypeRecordingIndex, DataLen: uint32(len(data))}
}

func TestIndexPacketCombinations(t *testing.T) {
	at := ch10.IrigTime{Secs: 1_600_000_123, Frac: 4_560_000}
	size := int64(987_654_321)
	for _, node := range []bool{false, true} {
		for _, withSize := range []bool{false, true} {
			for _, withTime := range []bool{false, true} {
				name := fmt.Sprintf("node=%v size=%v time=%v", node, withSize, withTime)
				t.Run(name, func(t *testing.T) {
					var stamp Stamp
					stamp.RelTime = 0x123456789A
					if withTime {
						tm := at
						stamp.Time = &tm
					}
					var items []Item
					if node {
						items = []Item{
							NodeEntry{Stamp: stamp, ChannelID: 3, DataType: ch10.DataTypePCMF1, Offset: 1 << 33},
							NodeEntry{Stamp: stamp, ChannelID: 0xFFFF, DataType: ch10.DataTypeTimeF1, Offset: 24},
						}
					} else {
						items = []Item{
							RootEntry{Stamp: stamp, Offset: 4096},
							RootEntry{Stamp: stamp, Offset: 8192},
							RootLink{Stamp: stamp, Offset: 1 << 40},
						}
					}
					var fs *int64
					if withSize {
						fs = &size
					}
					data, err := EncodePacket(items, fs, withTime, ch10.TimeFormatIEEE1588)
					require.NoError(t, err)

					h := indexHeader(data)
					h.SetTimeFormat(ch10.TimeFormatIEEE1588)
					p, err := DecodeIndexPacket(h, data)
					require.NoError(t, err)
					require.Equal(t, node, p.CSDW.Node)
					require.Equal(t, withTime, p.CSDW.SecondaryTime)
					if withSize {
						require.NotNil(t, p.FileSize)
						require.Equal(t, size, *p.FileSize)
					} else {
						require.Nil(t, p.FileSize)
					}
					if diff := cmp.Diff(items, p.Items); diff != "" {
						t.Fatalf("items mismatch (-want +got):\n%s", diff)
					}
				})
			}
		}
	}
}

func TestIndexPacketEdgeCases(t *testing.T) {
	empty, err := EncodePacket(nil, nil, false, ch10.TimeFormatCh4Binary)
	require.NoError(t, err)
	_, err = DecodeIndexPacket(indexHeader(empty), empty)
	require.ErrorIs(t, err, ch10.ErrNoMoreData)

	// three entries declared, none present
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, CSDW{Count: 3, Node: true}.Encode())
	_, err = DecodeIndexPacket(indexHeader(data), data)
	require.ErrorIs(t, err, ch10.ErrBufferOverrun)

	// file size flag without room for the field
	binary.LittleEndian.PutUint32(data, CSDW{Count: 1, FileSize: true}.Encode())
	_, err = DecodeIndexPacket(indexHeader(data), data)
	require.ErrorIs(t, err, ch10.ErrBufferOverrun)

	// second entry cut short
	full, err := EncodePacket([]Item{NodeEntry{Offset: 1}, NodeEntry{Offset: 2}}, nil, false, ch10.TimeFormatCh4Binary)
	require.NoError(t, err)
	cut := full[:len(full)-4]
	it, err := First(indexHeader(cut), cut)
	require.NoError(t, err)
	_, err = it.Next()
	require.NoError(t, err)
	_, err = it.Next()
	require.ErrorIs(t, err, ch10.ErrBufferOverrun)

	// reserved time formats leave the secondary time empty
	withTime, err := EncodePacket([]Item{NodeEntry{Offset: 7}}, nil, true, ch10.TimeFormatCh4Binary)
	require.NoError(t, err)
	h := indexHeader(withTime)
	h.SetTimeFormat(ch10.TimeFormatReserved2)
	p, err := DecodeIndexPacket(h, withTime)
	require.NoError(t, err)
	require.Nil(t, p.Items[0].Times().Time)

	_, err = DecodeIndexPacket(ch10.Header{DataType: ch10.DataTypePCMF1}, full)
	require.ErrorIs(t, err, ch10.ErrInvalidData)
}

func TestEncodePacketRejectsMixedEntries(t *testing.T) {
	_, err := EncodePacket([]Item{RootLink{Offset: 1}, RootEntry{Offset: 2}}, nil, false, ch10.TimeFormatCh4Binary)
	require.ErrorIs(t, err, ch10.ErrInvalidData)
	_, err = EncodePacket([]Item{NodeEntry{}, RootLink{}}, nil, false, ch10.TimeFormatCh4Binary)
	require.ErrorIs(t, err, ch10.ErrInvalidData)
}

func TestRegistryIteratesIndexPacket(t *testing.T) {
	reg := ch10.NewRegistry()
	Register(reg)
	items := []Item{RootEntry{Offset: 100}, RootLink{Offset: 200}}
	data, err := EncodePacket(items, nil, false, ch10.TimeFormatCh4Binary)
	require.NoError(t, err)
	h := indexHeader(data)

	v, err := reg.Decode(h, data)
	require.NoError(t, err)
	require.Len(t, v.(Packet).Items, 2)

	it, err := reg.First(h, data)
	require.NoError(t, err)
	var got []any
	for {
		m, err := it.Next()
		if err != nil {
			require.ErrorIs(t, err, ch10.ErrNoMoreData)
			break
		}
		got = append(got, m)
	}
	require.Equal(t, []any{RootEntry{Offset: 100}, RootLink{Offset: 200}}, got)
}
