package session

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Server exposes the split wizard over HTTP
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="DivideAI"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/bills", s.requireAuth(s.handleUploadReceipt))
	s.mux.HandleFunc("POST /api/bills/manual", s.requireAuth(s.handleStartManual))
	s.mux.HandleFunc("GET /api/bills/{id}", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("DELETE /api/bills/{id}", s.requireAuth(s.handleReset))
	s.mux.HandleFunc("GET /api/bills/{id}/image", s.requireAuth(s.handleGetImage))

	// Verify step
	s.mux.HandleFunc("POST /api/bills/{id}/items", s.requireAuth(s.handleAddItem))
	s.mux.HandleFunc("PATCH /api/bills/{id}/items/{itemID}", s.requireAuth(s.handleUpdateItem))
	s.mux.HandleFunc("DELETE /api/bills/{id}/items/{itemID}", s.requireAuth(s.handleRemoveItem))
	s.mux.HandleFunc("GET /api/bills/{id}/fee-quote", s.requireAuth(s.handleFeeQuote))
	s.mux.HandleFunc("POST /api/bills/{id}/confirm", s.requireAuth(s.handleConfirm))

	// People and assignment
	s.mux.HandleFunc("POST /api/bills/{id}/people", s.requireAuth(s.handleAddPerson))
	s.mux.HandleFunc("DELETE /api/bills/{id}/people/{personID}", s.requireAuth(s.handleRemovePerson))
	s.mux.HandleFunc("POST /api/bills/{id}/assignments", s.requireAuth(s.handleToggleAssignment))
	s.mux.HandleFunc("POST /api/bills/{id}/advance", s.requireAuth(s.handleAdvance))

	// Result
	s.mux.HandleFunc("POST /api/bills/{id}/people/{personID}/service-fee", s.requireAuth(s.handleToggleServiceFee))
	s.mux.HandleFunc("GET /api/bills/{id}/splits", s.requireAuth(s.handleSplits))
	s.mux.HandleFunc("GET /api/bills/{id}/summary", s.requireAuth(s.handleSummary))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
