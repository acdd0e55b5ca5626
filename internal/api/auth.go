package api

import (
	"crypto/subtle"
	"net/http"
)

// withAuth enforces basic auth when credentials are configured. With no
// configured user the proxy is open, which is the common private-deployment
// setup.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.Auth.User == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Auth.User)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="pixelthrift"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
