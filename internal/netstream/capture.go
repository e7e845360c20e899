package netstream

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"example.com/ch10stream/internal/common"
)

// RegisterPort makes gopacket decode UDP payloads on port as transfer
// layers.
func RegisterPort(port uint16) {
	layers.RegisterUDPPortLayerType(layers.UDPPort(port), TransferLayerType)
}

// captureConn replays the UDP datagrams of a packet capture. Frames that
// are not UDP, or not addressed to the port when one is set, are skipped.
type captureConn struct {
	src      gopacket.PacketDataSource
	linkType layers.LinkType
	port     uint16
	closer   io.Closer

	pending []byte
	frames  int
	skipped int
}

// OpenCapture returns a receiver that reassembles the transfer stream sent
// to UDP port in a pcap file. Port 0 accepts every UDP datagram.
func OpenCapture(path string, port uint16) (*Receiver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rd, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read capture %s: %w", path, err)
	}
	return NewCaptureReceiver(rd, rd.LinkType(), port, f), nil
}

// NewCaptureReceiver is OpenCapture over an already open frame source.
// closer, when not nil, is closed with the receiver.
func NewCaptureReceiver(src gopacket.PacketDataSource, linkType layers.LinkType, port uint16, closer io.Closer) *Receiver {
	return newReceiver(&captureConn{src: src, linkType: linkType, port: port, closer: closer})
}

func (c *captureConn) next() error {
	for c.pending == nil {
		data, _, err := c.src.ReadPacketData()
		if err != nil {
			if err == io.EOF {
				common.Debugf("netstream: capture done: %d frames, %d skipped", c.frames, c.skipped)
			}
			return err
		}
		c.frames++
		pkt := gopacket.NewPacket(data, c.linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 || (c.port != 0 && uint16(udp.DstPort) != c.port) {
			c.skipped++
			continue
		}
		c.pending = append([]byte(nil), udp.Payload...)
	}
	return nil
}

func (c *captureConn) Peek(p []byte) (int, error) {
	if err := c.next(); err != nil {
		return 0, err
	}
	return copy(p, c.pending), nil
}

func (c *captureConn) ReadSegments(hdr, data []byte) (int, error) {
	if err := c.next(); err != nil {
		return 0, err
	}
	d := c.pending
	c.pending = nil
	n := copy(hdr, d)
	if len(d) > len(hdr) {
		n += copy(data, d[len(hdr):])
	}
	return n, nil
}

func (c *captureConn) Discard() error {
	if err := c.next(); err != nil {
		return err
	}
	c.pending = nil
	return nil
}

func (c *captureConn) LocalAddr() net.Addr { return &net.UDPAddr{Port: int(c.port)} }

func (c *captureConn) SetReadDeadline(time.Time) error { return nil }

func (c *captureConn) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
