package netstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"

	"example.com/ch10stream/internal/common"
)

const (
	initialBufferSize = 32768
	// bufferSlack is added when the buffer grows for a large packet.
	bufferSlack = 0x4000
	// maxDatagram bounds the payload of any single UDP datagram.
	maxDatagram = 65536
	seqMask     = 0xFFFFFF
	// maxSegmentOffset rejects segment offsets no sane packet reaches.
	maxSegmentOffset = 1 << 27
)

// datagramConn reads UDP datagrams with a non-consuming peek at the start
// of the next one.
type datagramConn interface {
	// Peek copies the start of the next datagram without consuming it.
	Peek(p []byte) (int, error)
	// ReadSegments consumes the next datagram, scattering its first
	// len(hdr) bytes into hdr and the rest into data. It returns the total
	// number of bytes stored.
	ReadSegments(hdr, data []byte) (int, error)
	// Discard consumes the next datagram.
	Discard() error
	LocalAddr() net.Addr
	SetReadDeadline(t time.Time) error
	Close() error
}

// Receiver reassembles container packets from a UDP transfer stream and
// serves them as a byte stream.
type Receiver struct {
	conn datagramConn

	buf     []byte
	ready   bool
	readPos int
	dataLen int

	// segmented packet in progress, assembled apart from buf so whole
	// datagrams arriving between its segments leave it intact
	asm        []byte
	gotFirst   bool
	pktLen     int
	channelID  uint16
	channelSeq uint8
	partial    bool
	cov        coverage

	seq      uint32
	seqValid bool

	hdr     [SegmentHeaderSize]byte
	layer   TransferLayer
	metrics *common.Metrics
}

// Listen opens a UDP socket on addr and returns a receiver for it.
func Listen(addr string) (*Receiver, error) {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return nil, err
	}
	sock, err := newSocket(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return newReceiver(sock), nil
}

func newReceiver(conn datagramConn) *Receiver {
	return &Receiver{
		conn: conn,
		buf:  make([]byte, initialBufferSize),
		asm:  make([]byte, initialBufferSize),
	}
}

func (r *Receiver) SetMetrics(m *common.Metrics) { r.metrics = m }

func (r *Receiver) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// SetReadDeadline bounds the blocking receive of Read.
func (r *Receiver) SetReadDeadline(t time.Time) error {
	return r.conn.SetReadDeadline(t)
}

func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Read copies data from the current packet buffer, receiving datagrams
// until one is complete when nothing is buffered.
func (r *Receiver) Read(p []byte) (int, error) {
	for !r.ready {
		if err := r.receive(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf[r.readPos:r.dataLen])
	r.readPos += n
	if r.readPos >= r.dataLen {
		r.ready = false
		r.readPos = 0
	}
	return n, nil
}

// Dump discards the rest of the current buffer.
func (r *Receiver) Dump() {
	r.ready = false
	r.readPos = 0
}

// MoveReadPointer moves the read offset within the current buffer. Moving
// before the start clamps to 0; moving to or past the end discards the
// buffer.
func (r *Receiver) MoveReadPointer(delta int64) {
	pos := int64(r.readPos) + delta
	switch {
	case pos < 0:
		r.readPos = 0
	case pos >= int64(r.dataLen):
		r.readPos = 0
		r.ready = false
	default:
		r.readPos = int(pos)
	}
}

// grow returns b extended to at least n bytes, keeping its contents.
func grow(b []byte, n int) []byte {
	if n <= len(b) {
		return b
	}
	out := make([]byte, max(n, len(b)*3/2))
	copy(out, b)
	return out
}

func (r *Receiver) drop(reason string) error {
	if r.metrics != nil {
		r.metrics.IncDropped()
	}
	common.Debugf("netstream: dropped datagram: %s", reason)
	return r.conn.Discard()
}

func (r *Receiver) checkSeq(seq uint32) {
	if r.metrics != nil {
		r.metrics.IncDatagram()
	}
	if r.seqValid && seq != (r.seq+1)&seqMask {
		gap := (seq - r.seq - 1) & seqMask
		common.Warnf("netstream: UDP sequence gap: %d -> %d", r.seq, seq)
		if r.metrics != nil {
			r.metrics.AddSequenceGap(int64(gap))
		}
	}
	r.seq = seq
	r.seqValid = true
}

// receive consumes one datagram.
func (r *Receiver) receive() error {
	n, err := r.conn.Peek(r.hdr[:])
	if err != nil {
		return err
	}
	if err := r.layer.DecodeFromBytes(r.hdr[:n], gopacket.NilDecodeFeedback); err != nil {
		return r.drop(err.Error())
	}
	r.checkSeq(r.layer.SeqNum)
	switch r.layer.MsgType {
	case MsgTypeFull:
		return r.receiveFull()
	case MsgTypeSegmented:
		return r.receiveSegment()
	default:
		return r.drop(fmt.Sprintf("unknown message type %s", r.layer.MsgType))
	}
}

func (r *Receiver) receiveFull() error {
	r.buf = grow(r.buf, maxDatagram)
	n, err := r.conn.ReadSegments(r.hdr[:FullHeaderSize], r.buf)
	if err != nil {
		return err
	}
	if n <= FullHeaderSize {
		return nil
	}
	r.dataLen = n - FullHeaderSize
	r.readPos = 0
	r.ready = true
	return nil
}

func (r *Receiver) receiveSegment() error {
	off := int(r.layer.SegmentOffset)
	if off > maxSegmentOffset {
		return r.drop(fmt.Sprintf("segment offset %d out of range", off))
	}
	if r.partial && (r.layer.ChannelID != r.channelID || r.layer.ChannelSeq != r.channelSeq) {
		r.abandon()
	}
	if !r.partial {
		r.partial = true
		r.channelID = r.layer.ChannelID
		r.channelSeq = r.layer.ChannelSeq
	}
	r.asm = grow(r.asm, off+maxDatagram)
	n, err := r.conn.ReadSegments(r.hdr[:SegmentHeaderSize], r.asm[off:])
	if err != nil {
		return err
	}
	seg := n - SegmentHeaderSize
	if seg <= 0 {
		return nil
	}
	if off == 0 {
		if seg < 8 {
			common.Debugf("netstream: first segment too short (%d bytes)", seg)
			return nil
		}
		r.pktLen = int(binary.LittleEndian.Uint32(r.asm[4:8]))
		if r.pktLen > len(r.asm) {
			r.asm = grow(r.asm, r.pktLen+bufferSlack)
		}
		r.gotFirst = true
	}
	r.cov.add(off, off+seg)
	if r.gotFirst && r.cov.covers(r.pktLen) {
		// Read only receives once buf is drained, so the two can swap.
		r.buf, r.asm = r.asm, r.buf
		r.dataLen = r.pktLen
		r.readPos = 0
		r.ready = true
		r.resetPartial()
	}
	return nil
}

// abandon throws away an incomplete segmented packet.
func (r *Receiver) abandon() {
	common.Warnf("netstream: incomplete packet on channel %d seq %d dropped (%d of %d bytes)",
		r.channelID, r.channelSeq, r.cov.total(), r.pktLen)
	if r.metrics != nil {
		r.metrics.IncDropped()
	}
	r.resetPartial()
}

func (r *Receiver) resetPartial() {
	r.partial = false
	r.gotFirst = false
	r.pktLen = 0
	r.cov.reset()
}

// IsTimeout reports whether err came from an expired read deadline.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
