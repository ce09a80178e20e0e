package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/logger"
)

// maxRequestIDLen bounds a client supplied X-Request-Id
const maxRequestIDLen = 128

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestContext)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.HandleHealth)
	r.Get("/ws", s.HandleWebSocket)
	r.With(s.rateLimit).Post("/api/nexus", s.HandleDispatch)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, errorResponse(logger.RequestID(r.Context()),
			errors.NewNotFoundError("%s %s", r.Method, r.URL.Path)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		resp := errorResponse(logger.RequestID(r.Context()),
			errors.NewValidationError("method", "%s not allowed on %s", r.Method, r.URL.Path))
		resp.Status = http.StatusMethodNotAllowed
		writeResponse(w, resp)
	})
	return r
}

// requestContext puts the request id and caller address into the context
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		ctx := logger.WithRequestID(r.Context(), id)
		ctx = logger.WithCaller(ctx, callerAddr(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for configured origins and answers preflights
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin allows requests without an Origin header and origins whose
// scheme and host equal a configured allowed origin. An allowed origin
// without a port matches any port.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if originMatches(u, allowed) {
			return true
		}
	}
	return false
}

func originMatches(origin *url.URL, allowed string) bool {
	a, err := url.Parse(allowed)
	if err != nil || a.Host == "" {
		return false
	}
	if !strings.EqualFold(origin.Scheme, a.Scheme) || !strings.EqualFold(origin.Hostname(), a.Hostname()) {
		return false
	}
	return a.Port() == "" || a.Port() == origin.Port()
}
