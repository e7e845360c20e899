package ch10

import (
	"errors"
	"sync"
)

// Session owns a group of open streams so they can be closed together.
type Session struct {
	mu      sync.Mutex
	streams map[*Stream]struct{}
}

func NewSession() *Session {
	return &Session{streams: make(map[*Stream]struct{})}
}

// Open opens a file stream owned by the session. A stream returned with
// ErrOpenWarning is adopted as well.
func (ss *Session) Open(path string, mode Mode) (*Stream, error) {
	s, err := Open(path, mode)
	if s != nil {
		ss.adopt(s)
	}
	return s, err
}

func (ss *Session) OpenNetReader(src NetSource) *Stream {
	s := OpenNetReader(src)
	ss.adopt(s)
	return s
}

func (ss *Session) OpenNetWriter(sink PacketSink) *Stream {
	s := OpenNetWriter(sink)
	ss.adopt(s)
	return s
}

func (ss *Session) adopt(s *Stream) {
	ss.mu.Lock()
	ss.streams[s] = struct{}{}
	s.session = ss
	ss.mu.Unlock()
}

func (ss *Session) forget(s *Stream) {
	ss.mu.Lock()
	delete(ss.streams, s)
	ss.mu.Unlock()
}

// Len returns the number of open streams.
func (ss *Session) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.streams)
}

// Close closes every stream still open in the session.
func (ss *Session) Close() error {
	ss.mu.Lock()
	open := make([]*Stream, 0, len(ss.streams))
	for s := range ss.streams {
		open = append(open, s)
	}
	ss.mu.Unlock()
	var errs []error
	for _, s := range open {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
