// Package gateway exposes the artifact service over HTTP: multipart
// upload, payload retrieval, health, and an auth-gated admin surface.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cyqddx/shuyuan/core/artifact"
	"github.com/cyqddx/shuyuan/core/fault"
	"github.com/cyqddx/shuyuan/core/infra/config"
	"github.com/cyqddx/shuyuan/core/infra/logging"
	"github.com/cyqddx/shuyuan/core/infra/metrics"
	"github.com/cyqddx/shuyuan/core/infra/ratelimit"
)

const (
	component = "gateway"

	apiKeyHeader = "x-api-key"
	// Multipart parse ceiling; payloads beyond the configured size
	// limit are rejected later with a proper envelope.
	maxMultipartMemory = 32 << 20
)

// Server handles the public HTTP surface.
type Server struct {
	svc     *artifact.Service
	coord   *config.Coordinator
	limiter ratelimit.Limiter
	metrics metrics.GatewayMetrics
	started time.Time

	httpServer *http.Server
}

// New builds a gateway over its collaborators.
func New(svc *artifact.Service, coord *config.Coordinator, limiter ratelimit.Limiter, gm metrics.GatewayMetrics) *Server {
	if gm == nil {
		gm = metrics.NoopGateway{}
	}
	if limiter == nil {
		limiter = ratelimit.NewMemory()
	}
	return &Server{
		svc:     svc,
		coord:   coord,
		limiter: limiter,
		metrics: gm,
		started: time.Now(),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.instrumented("/health", s.handleHealth))
	mux.HandleFunc("POST /upload", s.instrumented("/upload", s.limited(s.authed(s.handleUpload))))
	mux.HandleFunc("GET /f/{id}", s.instrumented("/f/{id}", s.limited(s.handleRetrieve)))
	mux.HandleFunc("GET /admin/stats", s.instrumented("/admin/stats", s.authed(s.handleStats)))
	return mux
}

// Start serves the public listener until the context is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info(component, "listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// --- middleware ---

// limited gates a handler behind the fixed-window rate limit, keyed by
// client address.
func (s *Server) limited(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.coord.Current()
		rule, err := config.ParseRateRule(snap.RateLimit.Rule)
		if err != nil {
			// The rule was validated on load; reaching here is a bug.
			writeFault(w, fault.Wrap(fault.KindInternal, "rate rule", err))
			return
		}
		ok, err := s.limiter.Allow(r.Context(), clientKey(r), rule.N, rule.Window)
		if err != nil {
			writeFault(w, fault.Wrap(fault.KindInternal, "rate limit check", err))
			return
		}
		if !ok {
			writeFault(w, fault.Newf(fault.KindRateLimited, "rate limit %s exceeded", snap.RateLimit.Rule))
			return
		}
		fn(w, r)
	}
}

// authed enforces the API key when auth is enabled in the snapshot.
func (s *Server) authed(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.coord.Current()
		if snap.Auth.Enabled {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				writeFault(w, fault.New(fault.KindAuthMissing, "api key required"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(snap.Auth.APIKey)) != 1 {
				writeFault(w, fault.New(fault.KindAuthInvalid, "api key rejected"))
				return
			}
		}
		fn(w, r)
	}
}

func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}

// --- handlers ---

type uploadData struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	IsDuplicate bool   `json:"is_duplicate"`
	TimeLimit   string `json:"time_limit"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Current()
	// Bound the whole request body; the precise payload limit is
	// enforced by validation with a proper envelope.
	r.Body = http.MaxBytesReader(w, r.Body, snap.MaxFileSize+maxMultipartMemory)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeFault(w, fault.Newf(fault.KindFileTooLarge,
				"request body exceeds %d bytes", snap.MaxFileSize))
			return
		}
		writeFault(w, fault.Wrap(fault.KindValidation, "parse multipart form", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeFault(w, fault.New(fault.KindValidation, "form field \"file\" required"))
		return
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".json") {
		writeFault(w, fault.Newf(fault.KindInvalidFormat, "filename %q must end in .json", header.Filename))
		return
	}
	limit, err := artifact.ParseTimeLimit(r.FormValue("time_limit"))
	if err != nil {
		writeFault(w, err)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(file, snap.MaxFileSize+1))
	if err != nil {
		writeFault(w, fault.Wrap(fault.KindValidation, "read upload", err))
		return
	}

	res, err := s.svc.Upload(r.Context(), header.Filename, raw, limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	data := uploadData{
		ID:          res.ID,
		Filename:    header.Filename,
		URL:         res.URL,
		IsDuplicate: res.Duplicate,
		TimeLimit:   string(limit),
	}
	if !res.ExpiresAt.IsZero() {
		data.ExpiresAt = res.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeOK(w, "uploaded", data)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	payload, rec, err := s.svc.Retrieve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if rec.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", rec.Filename))
	}
	if _, err := w.Write(payload); err != nil {
		logging.Warn(component, "write payload failed", "id", rec.ID, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Current()
	_, metaErr := s.svc.Stats(r.Context())
	writeOK(w, "healthy", map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"config_version": snap.Version,
		"components": map[string]bool{
			"metadata":        metaErr == nil,
			"encryption":      snap.Encryption.Enabled,
			"compression":     snap.Compression.Enabled,
			"remote_storage":  snap.RemoteStorage.Enabled,
			"ratelimit_redis": snap.RateLimit.RedisURL != "",
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		writeFault(w, fault.Wrap(fault.KindInternal, "collect stats", err))
		return
	}
	writeOK(w, "stats", map[string]any{
		"artifacts_total": st.Total,
		"artifacts_live":  st.Live,
		"stored_bytes":    st.TotalBytes,
	})
}

// --- envelope ---

type envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeOK(w http.ResponseWriter, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Code: "OK", Message: message, Data: data})
}

func writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logging.Error(component, "request failed", "kind", string(kind), "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Code: string(kind), Message: err.Error(), Data: nil})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
