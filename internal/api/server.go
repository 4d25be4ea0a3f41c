package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/telemetry"
)

// Reader is the read side of the content store.
type Reader interface {
	Get(ctx context.Context, key string) (mirror.Entry, error)
}

// Config controls the serving layer.
type Config struct {
	// DefaultKey is where GET / redirects.
	DefaultKey     string
	RequestTimeout time.Duration
}

// Server maps request paths onto content store keys.
type Server struct {
	router chi.Router
	store  Reader
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store Reader, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{store: store, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/", s.home)
	r.Get("/*", s.lookup)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) home(w http.ResponseWriter, _ *http.Request) {
	redirect(w, s.cfg.DefaultKey)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	key := DecodeKey(r.URL)
	ctx, span := telemetry.Tracer().Start(r.Context(), "api.lookup")
	defer span.End()
	span.SetAttributes(attribute.String("mirror.key", key))

	entry, err := s.store.Get(ctx, key)
	if errors.Is(err, mirror.ErrNotFound) {
		s.logger.Debug("key not found", zap.String("key", key))
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		span.RecordError(err)
		s.logger.Error("store lookup failed", zap.String("key", key), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if entry.IsRedirect() {
		target := string(entry.Payload)
		s.logger.Info("redirecting", zap.String("from", key), zap.String("to", target))
		redirect(w, target)
		return
	}

	if entry.Timestamp != "" {
		w.Header().Set("X-Archive-Timestamp", entry.Timestamp)
	}
	w.Header().Set("Content-Type", entry.MimeType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(entry.Payload); err != nil {
		s.logger.Debug("write response", zap.String("key", key), zap.Error(err))
	}
}

// redirect answers 302 to "/"+target. The Location is set by hand so the
// target is not cleaned or resolved against the request path.
func redirect(w http.ResponseWriter, target string) {
	w.Header().Set("Location", "/"+(&url.URL{Path: strings.TrimPrefix(target, "/")}).EscapedPath())
	w.WriteHeader(http.StatusFound)
}

// DecodeKey turns a request URL into a store key: the percent-decoded path
// without its leading slash, plus the raw query, with a single dropped slash
// after the scheme restored.
func DecodeKey(u *url.URL) string {
	escaped := strings.TrimPrefix(u.EscapedPath(), "/")
	key, err := url.PathUnescape(escaped)
	if err != nil {
		key = strings.TrimPrefix(u.Path, "/")
	}
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	for _, scheme := range []string{"https:/", "http:/"} {
		if strings.HasPrefix(key, scheme) && !strings.HasPrefix(key, scheme+"/") {
			return scheme + "/" + strings.TrimPrefix(key, scheme)
		}
	}
	return key
}
