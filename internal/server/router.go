package server

import "net/http"

// NewRouter maps the read-only status routes. Other methods on these paths
// get 405 from the mux.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	for pattern, h := range map[string]http.HandlerFunc{
		"GET /status": s.handleStatus,
		"GET /files":  s.handleFiles,
		"GET /events": s.handleEvents,
	} {
		mux.HandleFunc(pattern, h)
	}
	return mux
}
