package ch10

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type countIter struct{ left int }

func (c *countIter) Next() (any, error) {
	if c.left == 0 {
		return nil, ErrNoMoreData
	}
	c.left--
	return c.left, nil
}

type countCodec struct{}

func (countCodec) Decode(_ Header, data []byte) (any, error) { return len(data), nil }

func (countCodec) First(_ Header, data []byte) (MessageIter, error) {
	return &countIter{left: len(data)}, nil
}

func TestRegistryDecode(t *testing.T) {
	r := NewRegistry()
	ts := IrigTimeFrom(epoch, DateFormatDMY)
	v, err := r.Decode(Header{DataType: DataTypeTimeF1}, EncodeTimeF1(TimeSourceExternal, TimeCodeIRIGB, ts))
	require.NoError(t, err)
	require.Equal(t, ts, v.(TimeF1).Time)

	_, err = r.Decode(Header{DataType: DataTypeVideoF0}, nil)
	require.ErrorIs(t, err, ErrUnsupported)
	_, err = r.First(Header{DataType: DataTypeTimeF1}, nil)
	require.ErrorIs(t, err, ErrUnsupported)

	r.Register(DataTypeVideoF0, countCodec{})
	it, err := r.First(Header{DataType: DataTypeVideoF0}, []byte{1, 2})
	require.NoError(t, err)
	var n int
	for {
		if _, err := it.Next(); err != nil {
			require.ErrorIs(t, err, ErrNoMoreData)
			break
		}
		n++
	}
	require.Equal(t, 2, n)
	require.Len(t, r.Types(), 2)
}

func TestSessionClosesStreams(t *testing.T) {
	path, _ := buildFile(t, samplePackets()...)
	ss := NewSession()
	a, err := ss.Open(path, ModeRead)
	require.NoError(t, err)
	b, err := ss.Open(path, ModeReadInOrder)
	require.NoError(t, err)
	src := &fakeNet{}
	ss.OpenNetReader(src)
	require.Equal(t, 3, ss.Len())

	require.NoError(t, a.Close())
	require.Equal(t, 2, ss.Len())

	require.NoError(t, ss.Close())
	require.Zero(t, ss.Len())
	require.Equal(t, StateClosed, b.State())
	require.True(t, src.closed)
}
