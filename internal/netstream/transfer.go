package netstream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// TransferLayerNum identifies the layer in the gopacket catalog.
	TransferLayerNum = 2106

	TransferFormat1 = 1

	// FullHeaderSize is the transfer header of an unsegmented message.
	FullHeaderSize = 4
	// SegmentHeaderSize is the transfer header of a segment.
	SegmentHeaderSize = 12
)

// MsgType tells whether a datagram carries whole packets or one segment of
// a large packet.
type MsgType uint8

const (
	MsgTypeFull MsgType = iota
	MsgTypeSegmented
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeFull:
		return "full"
	case MsgTypeSegmented:
		return "segmented"
	default:
		return fmt.Sprintf("msg-type(%d)", uint8(t))
	}
}

var errTransferTruncated = errors.New("transfer header truncated")

// TransferLayer is the UDP transfer header (format 1) in front of container
// packets.
type TransferLayer struct {
	layers.BaseLayer
	Version uint8
	MsgType MsgType
	// SeqNum is a 24-bit datagram counter.
	SeqNum uint32

	// Segment fields, valid for MsgTypeSegmented.
	ChannelID     uint16
	ChannelSeq    uint8
	SegmentOffset uint32
}

var TransferLayerType = gopacket.RegisterLayerType(TransferLayerNum,
	gopacket.LayerTypeMetadata{Name: "Ch10Transfer", Decoder: gopacket.DecodeFunc(decodeTransferLayer)})

// LayerType returns the type of the transfer layer in the layer catalog
func (t *TransferLayer) LayerType() gopacket.LayerType {
	return TransferLayerType
}

func (t *TransferLayer) CanDecode() gopacket.LayerClass {
	return TransferLayerType
}

func (t *TransferLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

// HeaderLen is the size of the transfer header for the message type.
func (t *TransferLayer) HeaderLen() int {
	if t.MsgType == MsgTypeSegmented {
		return SegmentHeaderSize
	}
	return FullHeaderSize
}

func (t *TransferLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < FullHeaderSize {
		df.SetTruncated()
		return errTransferTruncated
	}
	word := binary.LittleEndian.Uint32(data[0:4])
	t.Version = uint8(word & 0xF)
	t.MsgType = MsgType(word >> 4 & 0xF)
	t.SeqNum = word >> 8
	t.ChannelID, t.ChannelSeq, t.SegmentOffset = 0, 0, 0
	if t.MsgType == MsgTypeSegmented {
		if len(data) < SegmentHeaderSize {
			df.SetTruncated()
			return errTransferTruncated
		}
		word = binary.LittleEndian.Uint32(data[4:8])
		t.ChannelID = uint16(word)
		t.ChannelSeq = uint8(word >> 16)
		t.SegmentOffset = binary.LittleEndian.Uint32(data[8:12])
	}
	n := t.HeaderLen()
	t.BaseLayer = layers.BaseLayer{Contents: data[:n], Payload: data[n:]}
	return nil
}

// SerializeTo prepends the transfer header to the bytes already in b.
func (t *TransferLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	hdr, err := b.PrependBytes(t.HeaderLen())
	if err != nil {
		return err
	}
	version := t.Version
	if version == 0 {
		version = TransferFormat1
	}
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(version&0xF)|uint32(t.MsgType&0xF)<<4|(t.SeqNum&0xFFFFFF)<<8)
	if t.MsgType == MsgTypeSegmented {
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(t.ChannelID)|uint32(t.ChannelSeq)<<16)
		binary.LittleEndian.PutUint32(hdr[8:12], t.SegmentOffset)
	}
	return nil
}

func decodeTransferLayer(data []byte, p gopacket.PacketBuilder) error {
	t := &TransferLayer{}
	if err := t.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(t)
	return p.NextDecoder(gopacket.LayerTypePayload)
}
