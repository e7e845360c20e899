package server

import (
	"encoding/json"
	"errors"
	"net/http"
)

const ndjsonContentType = "application/x-ndjson"

// ndjsonStream writes one JSON value per line to an HTTP response and
// pushes each line to the client immediately.
type ndjsonStream struct {
	enc  *json.Encoder
	ctrl *http.ResponseController
	sent int
}

func newNDJSONStream(w http.ResponseWriter) *ndjsonStream {
	w.Header().Set("Content-Type", ndjsonContentType)
	w.WriteHeader(http.StatusOK)
	return &ndjsonStream{enc: json.NewEncoder(w), ctrl: http.NewResponseController(w)}
}

// send encodes v; json.Encoder terminates it with a newline.
func (s *ndjsonStream) send(v any) error {
	if err := s.enc.Encode(v); err != nil {
		return err
	}
	s.sent++
	if err := s.ctrl.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
