package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/MimeLyc/transcription-service/internal/jobs"
	"github.com/MimeLyc/transcription-service/pkg/log"
)

// transcriptionService is the part of service.Service the handlers use.
type transcriptionService interface {
	CreateJob(ctx context.Context, filename string) (string, error)
	StartJob(ctx context.Context, id, inputPath, originalName string) error
	GetJob(ctx context.Context, id string) (*jobs.Record, bool, error)
	ListJobs(ctx context.Context) ([]*jobs.Record, error)
	DeleteJob(ctx context.Context, id string) error
	Transcribe(ctx context.Context, inputPath, originalName string) (*jobs.Record, error)
}

type Server struct {
	svc       transcriptionService
	uploadDir string

	maxUploadBytes int64
	corsOrigins    []string
	streamInterval time.Duration
	logger         zerolog.Logger

	uiEnabled bool
	publicDir string

	router chi.Router
	server *http.Server
}

type Option func(*Server)

func WithUI(publicDir string, enabled bool) Option {
	return func(s *Server) {
		s.publicDir = publicDir
		s.uiEnabled = enabled
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func WithCORS(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithStreamInterval sets the SSE polling period.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(svc transcriptionService, uploadDir string, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		uploadDir:      uploadDir,
		maxUploadBytes: 500 << 20,
		corsOrigins:    []string{"*"},
		streamInterval: time.Second,
		logger:         log.Zerolog(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(accessLog(s.logger), cors(s.corsOrigins))

	r.Route("/transcription", func(r chi.Router) {
		r.Get("/", s.handleListTranscriptions)
		r.Get("/status", s.handleServiceStatus)
		r.Post("/upload", s.handleUpload)
		r.Post("/transcribe", s.handleTranscribe)
		r.Get("/{id}/status", s.handleTranscriptionStatus)
		r.Get("/{id}/events", s.handleTranscriptionEvents)
		r.Get("/{id}", s.handleTranscriptionPage)
		r.Delete("/{id}", s.handleDeleteTranscription)
	})
	r.Get("/*", s.handleStatic)

	s.router = r
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.publicDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.publicDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.publicDir, filepath.FromSlash(rel))
	if info, err := os.Stat(filePath); err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filePath)
}
