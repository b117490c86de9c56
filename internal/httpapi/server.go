package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/storyclip/internal/jobs"
	"github.com/MimeLyc/storyclip/internal/media"
	"github.com/MimeLyc/storyclip/internal/metrics"
)

type jobResolver interface {
	Resolve(ctx context.Context, req jobs.EnqueueRequest) (jobs.Resolution, error)
}

type jobStore interface {
	Get(ctx context.Context, jobID string) (*jobs.Job, error)
	DeleteByOwner(ctx context.Context, owner string) ([]*jobs.Job, error)
}

type toolReporter interface {
	Status() media.DependencyReport
}

// Authorizer decides whether requester may submit work. requester is nil
// for anonymous submissions.
type Authorizer func(ctx context.Context, requester *string) bool

func allowAll(context.Context, *string) bool { return true }

type Server struct {
	resolver jobResolver
	store    jobStore
	tools    toolReporter
	metrics  *metrics.Metrics

	authorize      Authorizer
	adminToken     string
	outputDir      string
	sweepCron      string
	streamInterval time.Duration
	now            func() time.Time

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithAuthorizer(fn Authorizer) Option {
	return func(s *Server) {
		if fn != nil {
			s.authorize = fn
		}
	}
}

// WithAdmin enables the reset endpoint. Output files of deleted jobs are
// removed from outputDir.
func WithAdmin(token string, outputDir string) Option {
	return func(s *Server) {
		s.adminToken = token
		s.outputDir = outputDir
	}
}

func WithTools(tools toolReporter) Option {
	return func(s *Server) {
		s.tools = tools
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithSweepSchedule(expr string) Option {
	return func(s *Server) {
		s.sweepCron = expr
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(resolver jobResolver, store jobStore, opts ...Option) *Server {
	s := &Server{
		resolver:       resolver,
		store:          store,
		authorize:      allowAll,
		streamInterval: time.Second,
		now:            time.Now,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
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
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/status", s.handleJobStatus)
	s.mux.HandleFunc("/job_status", s.handleJobStatus)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/jobs/", s.handleJobDetailRoutes)
	s.mux.HandleFunc("/api/admin/reset", s.handleAdminReset)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}
