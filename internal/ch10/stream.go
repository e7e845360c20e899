package ch10

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"example.com/ch10stream/internal/common"
)

const writeBufferSize = 256 * 1024

// Progress receives the offset reached by long scans and the size of the
// medium.
type Progress func(offset, size int64)

// NetSource is a live byte stream of whole packets, such as a reassembled
// UDP feed. Read blocks until data is available.
type NetSource interface {
	Read(p []byte) (int, error)
	// Dump discards whatever is left of the current buffer.
	Dump()
	// MoveReadPointer skips forward (or back) within the current buffer.
	MoveReadPointer(delta int64)
	Close() error
}

// PacketSink transmits whole encoded packets.
type PacketSink interface {
	WritePacket(pkt []byte) error
	Close() error
}

// Stream is one open container. A Stream is not safe for concurrent use.
type Stream struct {
	mode  Mode
	state State
	path  string

	src  dataSource
	file *os.File
	w    *bufio.Writer
	net  NetSource
	sink PacketSink

	pos     int64
	hdr     Header
	hdrPos  int64
	hdrBuf  [HeaderSize + SecondaryHeaderSize]byte
	dataLen int
	dataPos int
	scanBuf []byte

	index      InOrderIndex
	timeRef    TimeRef
	timeRefSet bool

	resyncWindow int
	metrics      *common.Metrics
	events       *common.EventLog
	progress     Progress
	session      *Session
}

// Open opens a container file. Read modes require the file to start with
// the sync pattern. When the first packet is not a TMATS record the stream
// is still returned, together with an error wrapping ErrOpenWarning.
func Open(path string, mode Mode) (*Stream, error) {
	switch mode {
	case ModeRead, ModeReadInOrder:
		return openRead(path, mode)
	case ModeOverwrite, ModeAppend:
		return openWrite(path, mode)
	default:
		return nil, fmt.Errorf("%w: mode %s needs a network endpoint", ErrWrongMode, mode)
	}
}

func openRead(path string, mode Mode) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioFailure(ErrOpenFailed, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioFailure(ErrOpenFailed, err)
	}
	var sig [2]byte
	if _, err := io.ReadFull(f, sig[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}
	if binary.LittleEndian.Uint16(sig[:]) != SyncPattern {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, ErrInvalidSync)
	}
	s := &Stream{
		mode:         mode,
		state:        StateReadHeader,
		path:         path,
		src:          newWindowSource(f, f, info.Size(), readAhead),
		resyncWindow: defaultResyncWindow,
	}
	h, err := s.readNextHeaderFile()
	s.pos = 0
	s.state = StateReadHeader
	if err != nil {
		return s, fmt.Errorf("%s: %w: %w", path, ErrOpenWarning, err)
	}
	if h.DataType != DataTypeTMATS {
		return s, fmt.Errorf("%s: %w (found %s)", path, ErrOpenWarning, h.DataType)
	}
	return s, nil
}

func openWrite(path string, mode Mode) (*Stream, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if mode == ModeAppend {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, ioFailure(ErrOpenFailed, err)
	}
	s := &Stream{
		mode:  mode,
		state: StateWrite,
		path:  path,
		file:  f,
		w:     bufio.NewWriterSize(f, writeBufferSize),
	}
	if mode == ModeAppend {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, ioFailure(ErrOpenFailed, err)
		}
		s.pos = info.Size()
	}
	return s, nil
}

// OpenNetReader wraps a live packet source in a stream.
func OpenNetReader(src NetSource) *Stream {
	return &Stream{mode: ModeReadNetStream, state: StateReadHeader, net: src, hdrPos: -1}
}

// OpenNetWriter wraps a packet transmitter in a stream.
func OpenNetWriter(sink PacketSink) *Stream {
	return &Stream{mode: ModeWriteNetStream, state: StateWrite, sink: sink}
}

func (s *Stream) Mode() Mode   { return s.mode }
func (s *Stream) State() State { return s.state }
func (s *Stream) Path() string { return s.path }

// Size returns the size of the underlying file for file read modes.
func (s *Stream) Size() int64 {
	if s == nil || s.src == nil {
		return 0
	}
	return s.src.Size()
}

// SetMetrics attaches a metrics recorder to the stream.
func (s *Stream) SetMetrics(m *common.Metrics) {
	s.metrics = m
	if m != nil && s.src != nil {
		m.SetTotalBytes(s.src.Size())
	}
}

// SetEventLog records corruption events to log.
func (s *Stream) SetEventLog(log *common.EventLog) { s.events = log }

// SetProgress installs a callback for resync scans and index builds.
func (s *Stream) SetProgress(p Progress) { s.progress = p }

// SetResyncWindow changes the number of bytes examined per scan step.
func (s *Stream) SetResyncWindow(n int) {
	if n < HeaderSize {
		n = HeaderSize
	}
	s.resyncWindow = n
}

// Close releases the medium and the in-order index. Closing a closed stream
// returns ErrNotOpen.
func (s *Stream) Close() error {
	if s == nil {
		return ErrInvalidHandle
	}
	if s.state == StateClosed {
		return ErrNotOpen
	}
	var errs []error
	if s.w != nil {
		if err := s.w.Flush(); err != nil {
			errs = append(errs, ioFailure(ErrWriteFailed, err))
		}
		s.w = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, err)
		}
		s.file = nil
	}
	if s.src != nil {
		if err := s.src.Close(); err != nil {
			errs = append(errs, err)
		}
		s.src = nil
	}
	if s.net != nil {
		if err := s.net.Close(); err != nil {
			errs = append(errs, err)
		}
		s.net = nil
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, err)
		}
		s.sink = nil
	}
	s.index = InOrderIndex{}
	s.scanBuf = nil
	s.state = StateClosed
	if s.session != nil {
		s.session.forget(s)
		s.session = nil
	}
	return errors.Join(errs...)
}

func (s *Stream) check(read bool) error {
	if s == nil {
		return ErrInvalidHandle
	}
	if s.state == StateClosed {
		return ErrNotOpen
	}
	if s.mode.reading() != read {
		return fmt.Errorf("%w: stream opened for %s", ErrWrongMode, s.mode)
	}
	return nil
}

func (s *Stream) checkFile() error {
	if err := s.check(true); err != nil {
		return err
	}
	if s.mode == ModeReadNetStream {
		return fmt.Errorf("%w: positioning a network stream", ErrWrongMode)
	}
	return nil
}

// ReadNextHeader reads the next packet header. In ModeReadInOrder with a
// sorted index the header comes from the index cursor.
//
// A header checksum failure on a synchronized stream is reported once as
// ErrHeaderChecksum; the following call scans forward byte by byte to the
// next valid header.
func (s *Stream) ReadNextHeader() (Header, error) {
	if err := s.check(true); err != nil {
		return Header{}, err
	}
	switch s.mode {
	case ModeReadInOrder:
		if s.index.Status == SortSorted {
			return s.readNextHeaderInOrder()
		}
		return s.readNextHeaderFile()
	case ModeReadNetStream:
		return s.readNextHeaderNet()
	default:
		return s.readNextHeaderFile()
	}
}

func (s *Stream) readNextHeaderFile() (Header, error) {
	if s.state == StateReadData {
		s.pos += int64(s.dataLen - s.dataPos)
		s.state = StateReadHeader
	}
	for {
		at := s.pos
		if _, err := readFull(s.src, s.hdrBuf[:HeaderSize], at); err != nil {
			return Header{}, s.readFailure(err)
		}
		h, err := decodePrimary(s.hdrBuf[:HeaderSize])
		if err == nil && h.HasSecondaryHeader() {
			if _, rerr := readFull(s.src, s.hdrBuf[HeaderSize:], at+HeaderSize); rerr != nil {
				return Header{}, s.readFailure(rerr)
			}
			err = decodeSecondary(&h, s.hdrBuf[HeaderSize:])
		}
		if err == nil {
			err = checkLengths(h)
		}
		if err != nil {
			if lerr := s.lostSync(at, err); lerr != nil {
				return Header{}, lerr
			}
			continue
		}
		s.accept(h, at)
		return h, nil
	}
}

func checkLengths(h Header) error {
	if int(h.PacketLen) < h.HeaderLen() {
		return fmt.Errorf("%w: packet length %d shorter than header", ErrInvalidData, h.PacketLen)
	}
	if int64(h.DataLen) > int64(h.PacketLen)-int64(h.HeaderLen()) {
		return fmt.Errorf("%w: data length %d exceeds packet length %d", ErrInvalidData, h.DataLen, h.PacketLen)
	}
	return nil
}

func (s *Stream) accept(h Header, at int64) {
	s.hdr = h
	s.hdrPos = at
	s.pos = at + int64(h.HeaderLen())
	s.dataLen = h.DataBufferLen()
	s.dataPos = 0
	s.state = StateReadData
	if s.metrics != nil {
		s.metrics.AddPacket(int64(h.PacketLen))
	}
}

func (s *Stream) readFailure(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		s.state = StateUnsynced
		return ErrEndOfFile
	}
	return ioFailure(ErrReadFailed, err)
}

// lostSync handles a header candidate at offset at that failed validation.
// Only the first failure on a synchronized stream that is not a plain sync
// mismatch is returned to the caller; everything else is absorbed by
// scanning forward.
func (s *Stream) lostSync(at int64, cause error) error {
	wasSynced := s.state != StateUnsynced
	s.state = StateUnsynced
	s.pos = at + 1
	if wasSynced {
		s.noteCorruption(at, cause)
		if !errors.Is(cause, ErrInvalidSync) {
			return fmt.Errorf("offset %d: %w", at, cause)
		}
	}
	return s.resync()
}

func (s *Stream) noteCorruption(at int64, cause error) {
	common.Warnf("%s: sync lost at offset %d: %v", s.describe(), at, cause)
	if s.metrics != nil {
		if errors.Is(cause, ErrHeaderChecksum) {
			s.metrics.IncChecksumError()
		}
		s.metrics.IncResync()
	}
	if s.events != nil {
		if err := s.events.Append(common.Event{
			Kind:   CorruptionKind(cause),
			Source: s.describe(),
			Offset: at,
			Detail: cause.Error(),
		}); err != nil {
			common.Errorf("event log append failed: %v", err)
		}
	}
}

// CorruptionKind names the kind of damage err describes, as recorded in the
// event log.
func CorruptionKind(err error) string {
	switch {
	case errors.Is(err, ErrHeaderChecksum):
		return "header-checksum"
	case errors.Is(err, ErrInvalidSync):
		return "sync-lost"
	case errors.Is(err, ErrBufferOverrun):
		return "buffer-overrun"
	default:
		return "invalid-data"
	}
}

func (s *Stream) describe() string {
	if s.path != "" {
		return s.path
	}
	return s.mode.String()
}

func (s *Stream) window(n int) []byte {
	if cap(s.scanBuf) < n {
		s.scanBuf = make([]byte, n)
	}
	return s.scanBuf[:n]
}

// resync moves s.pos forward to the next offset holding a header with valid
// sync and checksum, or to the end of the medium.
func (s *Stream) resync() error {
	start := s.pos
	size := s.src.Size()
	buf := s.window(s.resyncWindow + HeaderSize - 1)
	for {
		if start >= size {
			s.pos = size
			return nil
		}
		n, err := s.src.ReadAt(buf, start)
		if err != nil && !errors.Is(err, io.EOF) {
			return ioFailure(ErrReadFailed, err)
		}
		if i := scanForward(buf[:n], 0, validHeaderAt); i >= 0 {
			s.pos = start + int64(i)
			common.Debugf("%s: resync found header at offset %d", s.describe(), s.pos)
			return nil
		}
		if n < len(buf) {
			s.pos = start + int64(n)
			return nil
		}
		start += int64(n - (HeaderSize - 1))
		s.reportProgress(start)
	}
}

func (s *Stream) reportProgress(offset int64) {
	if s.progress != nil {
		s.progress(offset, s.Size())
	}
}

// DataBufferLen is the number of bytes ReadData will return for the current
// packet.
func (s *Stream) DataBufferLen() int {
	if s.state != StateReadData {
		return 0
	}
	return s.dataLen - s.dataPos
}

// ReadData reads the rest of the current packet (payload, filler and
// trailer) into buf and returns the number of bytes read.
func (s *Stream) ReadData(buf []byte) (int, error) {
	if err := s.check(true); err != nil {
		return 0, err
	}
	if s.state != StateReadData {
		prev := s.state
		s.state = StateUnsynced
		return 0, fmt.Errorf("%w: no packet header pending (state %s)", ErrReadFailed, prev)
	}
	remain := s.dataLen - s.dataPos
	if len(buf) < remain {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, remain, len(buf))
	}
	if s.mode == ModeReadNetStream {
		return s.readDataNet(buf[:remain])
	}
	n, err := readFull(s.src, buf[:remain], s.pos)
	if err != nil {
		s.pos += int64(n)
		return n, s.readFailure(err)
	}
	s.pos += int64(n)
	s.dataPos = s.dataLen
	s.state = StateReadHeader
	return n, nil
}

// ReadPacket reads the next header and its data buffer.
func (s *Stream) ReadPacket() (Header, []byte, error) {
	h, err := s.ReadNextHeader()
	if err != nil {
		return Header{}, nil, err
	}
	buf := make([]byte, s.DataBufferLen())
	n, err := s.ReadData(buf)
	if err != nil {
		return h, nil, err
	}
	return h, buf[:n], nil
}

// ReadPrevHeader positions on the closest valid header before the current
// one and reads it.
func (s *Stream) ReadPrevHeader() (Header, error) {
	if err := s.checkFile(); err != nil {
		return Header{}, err
	}
	if s.mode == ModeReadInOrder && s.index.Status == SortSorted {
		prev := s.index.cursor - 2
		if prev < 0 {
			return Header{}, ErrBeginningOfFile
		}
		s.index.cursor = prev
		return s.readNextHeaderInOrder()
	}
	before := s.pos
	if s.state == StateReadHeader || s.state == StateReadData {
		before = s.hdrPos
	}
	at, err := s.findPrevHeader(before)
	if err != nil {
		return Header{}, err
	}
	s.pos = at
	s.state = StateReadHeader
	return s.readNextHeaderFile()
}

// findPrevHeader scans backward in windows for the last valid header that
// starts before offset before.
func (s *Stream) findPrevHeader(before int64) (int64, error) {
	size := s.src.Size()
	end := before
	if end > size {
		end = size
	}
	for end > 0 {
		start := end - int64(s.resyncWindow)
		if start < 0 {
			start = 0
		}
		length := end - start + HeaderSize - 1
		if length > size-start {
			length = size - start
		}
		buf := s.window(int(length))
		n, err := s.src.ReadAt(buf, start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, ioFailure(ErrSeekFailed, err)
		}
		if i := scanBackward(buf[:n], int(end-start), validHeaderAt); i >= 0 {
			return start + int64(i), nil
		}
		end = start
		s.reportProgress(end)
	}
	return 0, ErrBeginningOfFile
}

// FirstMsg positions at the start of the container.
func (s *Stream) FirstMsg() error {
	if err := s.checkFile(); err != nil {
		return err
	}
	if s.mode == ModeReadInOrder {
		s.index.cursor = 0
	}
	return s.SetPos(0)
}

// LastMsg positions at the last valid packet header.
func (s *Stream) LastMsg() error {
	if err := s.checkFile(); err != nil {
		return err
	}
	if s.mode == ModeReadInOrder && s.index.Status == SortSorted {
		last := len(s.index.Entries) - 1
		if last < 0 {
			return ErrNoIndex
		}
		s.index.cursor = last
		return s.SetPos(s.index.Entries[last].Offset)
	}
	at, err := s.findPrevHeader(s.src.Size() - HeaderSize + 1)
	if err != nil {
		if errors.Is(err, ErrBeginningOfFile) {
			return fmt.Errorf("%w: no valid header in file", ErrSeekFailed)
		}
		return err
	}
	return s.SetPos(at)
}

// SetPos moves the read position. The stream becomes unsynchronized since
// offset is not known to be a packet boundary.
func (s *Stream) SetPos(offset int64) error {
	if err := s.checkFile(); err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrSeekFailed, offset)
	}
	s.pos = offset
	s.state = StateUnsynced
	return nil
}

// GetPos returns the current byte offset. For write modes it is the number
// of bytes in the file.
func (s *Stream) GetPos() (int64, error) {
	if s == nil {
		return 0, ErrInvalidHandle
	}
	if s.state == StateClosed {
		return 0, ErrNotOpen
	}
	if s.mode == ModeReadNetStream || s.mode == ModeWriteNetStream {
		return 0, fmt.Errorf("%w: network streams have no position", ErrWrongMode)
	}
	return s.pos, nil
}

// HeaderPos returns the offset of the most recently read header.
func (s *Stream) HeaderPos() int64 { return s.hdrPos }

// Header returns the most recently read header.
func (s *Stream) Header() Header { return s.hdr }

// WriteMessage writes the header and data buffer as given. Use Finalize and
// AddFillerChecksum (or BuildPacket) to produce consistent values.
func (s *Stream) WriteMessage(h Header, data []byte) error {
	if err := s.check(false); err != nil {
		return err
	}
	hb := h.EncodeRaw()
	if s.mode == ModeWriteNetStream {
		pkt := make([]byte, 0, len(hb)+len(data))
		pkt = append(append(pkt, hb...), data...)
		if err := s.sink.WritePacket(pkt); err != nil {
			return ioFailure(ErrWriteFailed, err)
		}
	} else {
		if _, err := s.w.Write(hb); err != nil {
			return ioFailure(ErrWriteFailed, err)
		}
		if _, err := s.w.Write(data); err != nil {
			return ioFailure(ErrWriteFailed, err)
		}
	}
	n := int64(len(hb) + len(data))
	s.pos += n
	if s.metrics != nil {
		s.metrics.AddPacket(n)
	}
	return nil
}

// Flush pushes buffered writes to the file.
func (s *Stream) Flush() error {
	if err := s.check(false); err != nil {
		return err
	}
	if s.w == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return ioFailure(ErrWriteFailed, err)
	}
	return nil
}
