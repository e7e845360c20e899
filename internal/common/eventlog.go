package common

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event records one recoverable problem found in a stream: a lost sync, a
// header checksum failure, a dropped network packet.
type Event struct {
	Kind   string    `json:"kind"`
	Source string    `json:"source,omitempty"`
	Offset int64     `json:"offset"`
	Detail string    `json:"detail,omitempty"`
	Ts     time.Time `json:"ts"`
}

// EventLog appends events to a JSON-lines file. Writers sharing one
// EventLog never interleave lines.
type EventLog struct {
	mu   sync.Mutex
	path string
}

var errNoEventLog = errors.New("nil event log")

func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

func (l *EventLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes ev as one line, stamping it with the current time when Ts
// is unset.
func (l *EventLog) Append(ev Event) error {
	switch {
	case l == nil:
		return errNoEventLog
	case ev.Kind == "":
		return errors.New("event missing kind")
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EachEvent calls fn for every event in the file at path, in file order,
// and stops at the first error fn returns.
func EachEvent(path string, fn func(Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("%s line %d: %w", path, n, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadEventLog loads every event from a JSON-lines file.
func ReadEventLog(path string) ([]Event, error) {
	var events []Event
	err := EachEvent(path, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
