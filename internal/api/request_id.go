package api

import (
	"net/http"

	"github.com/dunamismax/pixelthrift/internal/id"
)

const headerRequestID = "X-Request-Id"

// withRequestID tags every response with an identifier for log correlation.
// An inbound id from a trusted front proxy is kept; anything absent gets a
// fresh one.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(headerRequestID)
		if rid == "" {
			rid = id.New()
			r.Header.Set(headerRequestID, rid)
		}
		w.Header().Set(headerRequestID, rid)
		next.ServeHTTP(w, r)
	})
}
