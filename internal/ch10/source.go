package ch10

import (
	"errors"
	"io"
	"os"
)

const (
	// readAhead is the smallest window a file stream caches.
	readAhead           = 1 << 20
	defaultResyncWindow = 64 * 1024
)

// dataSource is the random access medium behind a file stream.
type dataSource interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// windowSource keeps one read-ahead window of the underlying medium so the
// header-at-a-time and byte-at-a-time access of the stream engine turns into
// large sequential reads.
type windowSource struct {
	r    io.ReaderAt
	c    io.Closer
	size int64

	win  []byte
	base int64 // offset of win[0]
	have int   // valid bytes in win
}

func newWindowSource(r io.ReaderAt, c io.Closer, size int64, window int) *windowSource {
	return &windowSource{r: r, c: c, size: size, win: make([]byte, max(window, readAhead))}
}

func (w *windowSource) Size() int64 { return w.size }

func (w *windowSource) Close() error {
	if w.r == nil {
		return nil
	}
	w.r, w.win, w.have = nil, nil, 0
	if w.c == nil {
		return nil
	}
	return w.c.Close()
}

func (w *windowSource) holds(off int64, n int) bool {
	return off >= w.base && off+int64(n) <= w.base+int64(w.have)
}

// slide moves the window to start at off.
func (w *windowSource) slide(off int64) error {
	w.base, w.have = off, 0
	want := min(int64(len(w.win)), w.size-off)
	if want <= 0 {
		return io.EOF
	}
	n, err := w.r.ReadAt(w.win[:want], off)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	w.have = n
	return nil
}

// ReadAt serves p from the window, sliding it forward on a miss. Requests
// larger than the window bypass it.
func (w *windowSource) ReadAt(p []byte, off int64) (int, error) {
	switch {
	case w.r == nil:
		return 0, os.ErrClosed
	case len(p) == 0:
		return 0, nil
	case off < 0:
		return 0, io.ErrUnexpectedEOF
	case off >= w.size:
		return 0, io.EOF
	}
	if len(p) > len(w.win) {
		n, err := w.r.ReadAt(p, off)
		if err == nil && n < len(p) {
			err = io.EOF
		}
		return n, err
	}
	if !w.holds(off, len(p)) {
		if err := w.slide(off); err != nil {
			return 0, err
		}
	}
	n := copy(p, w.win[off-w.base:w.have])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// readFull reads exactly len(p) bytes at offset. A short read reports
// io.ErrUnexpectedEOF, or io.EOF when nothing was available.
func readFull(src dataSource, p []byte, offset int64) (int, error) {
	n, err := src.ReadAt(p, offset)
	switch {
	case n == len(p):
		return n, nil
	case err != nil && !errors.Is(err, io.EOF):
		return n, err
	case n == 0:
		return 0, io.EOF
	default:
		return n, io.ErrUnexpectedEOF
	}
}
