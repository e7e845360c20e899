package netstream

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket"

	"example.com/ch10stream/internal/common"
)

// DefaultMaxDatagram keeps datagrams inside a standard Ethernet MTU.
const DefaultMaxDatagram = 1472

// Sender transmits container packets over UDP, splitting packets that do not
// fit one datagram into segments.
type Sender struct {
	w           io.WriteCloser
	maxDatagram int
	seq         uint32
	buf         gopacket.SerializeBuffer
	metrics     *common.Metrics
}

// Dial connects a sender to addr. maxDatagram is the largest UDP payload to
// emit; 0 selects DefaultMaxDatagram.
func Dial(addr string, maxDatagram int) (*Sender, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return NewSender(conn, maxDatagram)
}

// NewSender writes one datagram per Write call to w.
func NewSender(w io.WriteCloser, maxDatagram int) (*Sender, error) {
	if maxDatagram == 0 {
		maxDatagram = DefaultMaxDatagram
	}
	if maxDatagram <= SegmentHeaderSize+24 || maxDatagram > maxDatagramPayload {
		return nil, fmt.Errorf("max datagram %d out of range (%d..%d)", maxDatagram, SegmentHeaderSize+25, maxDatagramPayload)
	}
	return &Sender{w: w, maxDatagram: maxDatagram, buf: gopacket.NewSerializeBuffer()}, nil
}

const maxDatagramPayload = 65507

func (s *Sender) SetMetrics(m *common.Metrics) { s.metrics = m }

// WritePacket sends one encoded container packet.
func (s *Sender) WritePacket(pkt []byte) error {
	if len(pkt) <= s.maxDatagram-FullHeaderSize {
		return s.send(&TransferLayer{MsgType: MsgTypeFull}, pkt)
	}
	if len(pkt) < 24 {
		return fmt.Errorf("packet of %d bytes has no container header", len(pkt))
	}
	chID := binary.LittleEndian.Uint16(pkt[2:4])
	chSeq := pkt[13]
	chunk := s.maxDatagram - SegmentHeaderSize
	for off := 0; off < len(pkt); off += chunk {
		end := off + chunk
		if end > len(pkt) {
			end = len(pkt)
		}
		layer := &TransferLayer{
			MsgType:       MsgTypeSegmented,
			ChannelID:     chID,
			ChannelSeq:    chSeq,
			SegmentOffset: uint32(off),
		}
		if err := s.send(layer, pkt[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) send(layer *TransferLayer, payload []byte) error {
	layer.Version = TransferFormat1
	layer.SeqNum = s.seq
	if err := gopacket.SerializeLayers(s.buf, gopacket.SerializeOptions{}, layer, gopacket.Payload(payload)); err != nil {
		return err
	}
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return err
	}
	s.seq = (s.seq + 1) & seqMask
	if s.metrics != nil {
		s.metrics.IncDatagram()
		s.metrics.AddBytes(int64(len(payload)))
	}
	return nil
}

func (s *Sender) Close() error {
	return s.w.Close()
}
