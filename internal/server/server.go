// Package server exposes the state of a running recorder over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"example.com/ch10stream/internal/common"
)

// Source is the recorder state the server reports on.
type Source interface {
	Metrics() *common.Metrics
	Files() []string
	EventLogPath() string
}

type Server struct {
	src     Source
	started time.Time
}

func NewServer(src Source) *Server {
	return &Server{src: src, started: time.Now().UTC()}
}

// Status is the body of GET /status.
type Status struct {
	Started          time.Time `json:"started"`
	UptimeSec        float64   `json:"uptimeSec"`
	Packets          int64     `json:"packets"`
	Datagrams        int64     `json:"datagrams"`
	Bytes            int64     `json:"bytes"`
	BytesPerSecond   float64   `json:"bytesPerSecond"`
	Resyncs          int64     `json:"resyncs"`
	ChecksumErrors   int64     `json:"checksumErrors"`
	SequenceGaps     int64     `json:"sequenceGaps"`
	DroppedDatagrams int64     `json:"droppedDatagrams"`
	Files            int       `json:"files"`
}

// FileInfo is one entry of GET /files.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.src.Metrics().Snapshot()
	writeJSON(w, http.StatusOK, Status{
		Started:          s.started,
		UptimeSec:        time.Since(s.started).Seconds(),
		Packets:          snap.Packets,
		Datagrams:        snap.Datagrams,
		Bytes:            snap.Bytes,
		BytesPerSecond:   snap.ThroughputBytesPerSecond(),
		Resyncs:          snap.Resyncs,
		ChecksumErrors:   snap.ChecksumErrors,
		SequenceGaps:     snap.SequenceGaps,
		DroppedDatagrams: snap.Dropped,
		Files:            len(s.src.Files()),
	})
}

// handleFiles lists the recording files still present on disk.
func (s *Server) handleFiles(w http.ResponseWriter, _ *http.Request) {
	files := []FileInfo{}
	for _, p := range s.src.Files() {
		info, err := os.Stat(p)
		if err != nil {
			common.Debugf("status: stat %s: %v", p, err)
			continue
		}
		files = append(files, FileInfo{Name: filepath.Base(p), Size: info.Size(), ModTime: info.ModTime().UTC()})
	}
	writeJSON(w, http.StatusOK, files)
}

// handleEvents streams the corruption event log as NDJSON. ?kind= filters
// on the event kind. A log that does not exist yet is an empty stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	out := newNDJSONStream(w)
	err := common.EachEvent(s.src.EventLogPath(), func(ev common.Event) error {
		if kind != "" && ev.Kind != kind {
			return nil
		}
		return out.send(ev)
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		common.Warnf("status: events after %d records: %v", out.sent, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// ListenAndServe serves the status routes on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, s *Server) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, s)
}

// Serve is ListenAndServe on an existing listener.
func Serve(ctx context.Context, ln net.Listener, s *Server) error {
	srv := &http.Server{Handler: NewRouter(s), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	common.Infof("status server on http://%s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
