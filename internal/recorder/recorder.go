// Package recorder writes a live UDP transfer stream to rotating container
// files.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/config"
	"example.com/ch10stream/internal/index"
	"example.com/ch10stream/internal/manifest"
	"example.com/ch10stream/internal/netstream"
)

// Recorder receives packets and appends them to the current output file. A
// new file is started once the current one reaches the rotation size; it
// opens with the most recent setup record so every file stands on its own.
type Recorder struct {
	cfg         config.Config
	rotateBytes int64
	metrics     *common.Metrics
	events      *common.EventLog
	store       *index.Store
	session     *ch10.Session
	forward     *ch10.Stream
	started     time.Time
	signingKey  []byte

	out      *ch10.Stream
	outPath  string
	fileSeq  int
	setupHdr ch10.Header
	setup    []byte

	mu     sync.Mutex
	files  []string
	closed bool
}

// New prepares a recorder: the output directory is created and, when
// indexing is enabled, the index store is opened.
func New(cfg config.Config) (*Recorder, error) {
	if err := os.MkdirAll(cfg.Output.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}
	r := &Recorder{
		cfg:         cfg,
		rotateBytes: cfg.RotateBytes(),
		metrics:     common.NewMetrics(),
		events:      common.NewEventLog(cfg.Output.EventLog),
		session:     ch10.NewSession(),
		started:     time.Now().UTC(),
	}
	if cfg.Output.SigningKey != "" {
		key, err := os.ReadFile(cfg.Output.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}
		r.signingKey = key
	}
	if cfg.Index.Enabled {
		st, err := index.OpenStore(cfg.Index.Store)
		if err != nil {
			return nil, err
		}
		r.store = st
	}
	if cfg.Transfer.Forward != "" {
		sender, err := netstream.Dial(cfg.Transfer.Forward, cfg.Transfer.MaxDatagram)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("forward to %s: %w", cfg.Transfer.Forward, err)
		}
		r.forward = r.session.OpenNetWriter(sender)
	}
	return r, nil
}

func (r *Recorder) Metrics() *common.Metrics { return r.metrics }

func (r *Recorder) EventLogPath() string { return r.events.Path() }

// Files lists the output files written so far, oldest first.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

// Run records packets from rcv until ctx is cancelled or the receiver is
// closed. Damaged packets are skipped and logged to the event log.
func (r *Recorder) Run(ctx context.Context, rcv *netstream.Receiver) error {
	rcv.SetMetrics(r.metrics)
	s := r.session.OpenNetReader(rcv)
	defer func() {
		if err := s.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			common.Warnf("closing receiver: %v", err)
		}
	}()
	s.SetMetrics(r.metrics)
	s.SetEventLog(r.events)
	r.metrics.Start()
	defer r.metrics.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			rcv.Close()
		case <-done:
		}
	}()

	common.Infof("recording %s to %s", rcv.LocalAddr(), r.cfg.Output.Directory)
	timeout := time.Duration(r.cfg.Listen.ReadTimeoutSec) * time.Second
	var buf []byte
	for {
		if timeout > 0 {
			if err := rcv.SetReadDeadline(time.Now().Add(timeout)); err != nil && ctx.Err() == nil {
				return errors.Join(err, r.closeOutput())
			}
		}
		h, err := s.ReadNextHeader()
		if err == nil {
			n := s.DataBufferLen()
			if cap(buf) < n {
				buf = make([]byte, n)
			}
			n, err = s.ReadData(buf[:n])
			if err == nil {
				if err := r.write(h, buf[:n]); err != nil {
					return errors.Join(err, r.closeOutput())
				}
				continue
			}
		}
		switch {
		case ctx.Err() != nil, errors.Is(err, ch10.ErrEndOfFile):
			return r.closeOutput()
		case netstream.IsTimeout(err):
			common.Debugf("no data for %s", timeout)
			if err := r.flush(); err != nil {
				return errors.Join(err, r.closeOutput())
			}
		case ch10.IsCorruption(err):
			common.Debugf("packet skipped: %v", err)
		default:
			return errors.Join(err, r.closeOutput())
		}
	}
}

func (r *Recorder) write(h ch10.Header, data []byte) error {
	if h.DataType == ch10.DataTypeTMATS {
		r.setupHdr = h
		r.setup = append(r.setup[:0], data...)
	}
	if r.out != nil {
		size, err := r.out.GetPos()
		if err != nil {
			return err
		}
		if r.rotateBytes > 0 && size >= r.rotateBytes {
			if err := r.closeOutput(); err != nil {
				common.Errorf("closing %s: %v", r.outPath, err)
			}
		}
	}
	if r.out == nil {
		if err := r.openOutput(); err != nil {
			return err
		}
		if r.setup != nil && h.DataType != ch10.DataTypeTMATS {
			if err := r.out.WriteMessage(r.setupHdr, r.setup); err != nil {
				return err
			}
		}
	}
	if err := r.out.WriteMessage(h, data); err != nil {
		return err
	}
	if r.forward != nil {
		if err := r.forward.WriteMessage(h, data); err != nil {
			common.Warnf("forward: %v", err)
		}
	}
	return nil
}

func (r *Recorder) nextPath() string {
	r.fileSeq++
	name := fmt.Sprintf("%s-%s-%04d.ch10", r.cfg.Output.Prefix, time.Now().UTC().Format("20060102T150405Z"), r.fileSeq)
	return filepath.Join(r.cfg.Output.Directory, name)
}

func (r *Recorder) openOutput() error {
	path := r.nextPath()
	out, err := r.session.Open(path, ch10.ModeOverwrite)
	if err != nil {
		return err
	}
	r.out, r.outPath = out, path
	r.mu.Lock()
	r.files = append(r.files, path)
	r.mu.Unlock()
	common.Infof("writing %s", path)
	return nil
}

func (r *Recorder) flush() error {
	if r.out == nil {
		return nil
	}
	return r.out.Flush()
}

// closeOutput finishes the current file and, with indexing enabled, stores
// its in-order index.
func (r *Recorder) closeOutput() error {
	if r.out == nil {
		return nil
	}
	path := r.outPath
	err := r.out.Close()
	r.out, r.outPath = nil, ""
	if err != nil {
		return err
	}
	snap := r.metrics.Snapshot()
	common.Infof("closed %s: %d packets so far, %d resyncs, %d dropped", path, snap.Packets, snap.Resyncs, snap.Dropped)
	if r.store != nil {
		if err := r.indexFile(path); err != nil {
			common.Warnf("index %s: %v", path, err)
		}
	}
	return nil
}

func (r *Recorder) indexFile(path string) error {
	s, err := ch10.Open(path, ch10.ModeReadInOrder)
	if err != nil && !errors.Is(err, ch10.ErrOpenWarning) {
		return err
	}
	defer s.Close()
	return index.BuildInOrder(r.store, s)
}

// ManifestPath is where Close writes the session manifest.
func (r *Recorder) ManifestPath() string {
	name := fmt.Sprintf("%s-%s-manifest.json", r.cfg.Output.Prefix, r.started.Format("20060102T150405Z"))
	return filepath.Join(r.cfg.Output.Directory, name)
}

func (r *Recorder) writeManifest() error {
	files := r.Files()
	if !r.cfg.Output.Manifest || len(files) == 0 {
		return nil
	}
	m, err := manifest.Build(r.cfg.Output.Directory, files)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if err := manifest.Save(m, r.ManifestPath(), r.signingKey); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	common.Infof("wrote manifest of %d files to %s", len(files), r.ManifestPath())
	return nil
}

// Close releases the output file, the relay and the index store, then
// writes the session manifest when enabled.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	errs := []error{r.closeOutput()}
	errs = append(errs, r.writeManifest(), r.session.Close())
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}
