package ch10

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrOpenFailed      = errors.New("open failed")
	ErrOpenWarning     = errors.New("first packet is not a TMATS setup record")
	ErrNotOpen         = errors.New("stream not open")
	ErrWrongMode       = errors.New("operation not allowed in current mode")
	ErrEndOfFile       = fmt.Errorf("end of data: %w", io.EOF)
	ErrBeginningOfFile = errors.New("beginning of data")
	ErrReadFailed      = errors.New("read failed")
	ErrWriteFailed     = errors.New("write failed")
	ErrSeekFailed      = errors.New("seek failed")
	ErrBufferTooSmall  = errors.New("buffer too small")
	ErrInvalidHandle   = errors.New("invalid stream handle")
	ErrInvalidSync     = errors.New("sync pattern 0xEB25 not found at expected position")
	ErrHeaderChecksum  = errors.New("header checksum mismatch")
	ErrNoIndex         = errors.New("no index present")
	ErrBufferOverrun   = errors.New("declared length exceeds available data")
	ErrTimeNotFound    = errors.New("time not found")
	ErrInvalidData     = errors.New("invalid data")
	ErrUnsupported     = errors.New("unsupported")
	ErrNoMoreData      = errors.New("no more data")
	ErrSortError       = errors.New("in-order index could not be built")
)

// IsCorruption reports whether err describes damaged container data that the
// resync procedure recovers from.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrHeaderChecksum) ||
		errors.Is(err, ErrInvalidSync) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrBufferOverrun)
}

// IsMisuse reports whether err was caused by calling an operation on a stream
// that cannot serve it.
func IsMisuse(err error) bool {
	return errors.Is(err, ErrNotOpen) ||
		errors.Is(err, ErrWrongMode) ||
		errors.Is(err, ErrInvalidHandle) ||
		errors.Is(err, ErrBufferTooSmall)
}

func ioFailure(kind, err error) error {
	if err == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, err)
}
