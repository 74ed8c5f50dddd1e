// Package httpapi exposes a memo.Cache and a page fetcher over HTTP.
package httpapi

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goforj/memo"
	"github.com/goforj/memo/webpage"
)

const maxValueBody = 1 << 20

// Config wires the server dependencies. Gatherer defaults to the global
// Prometheus registry and Logger to the standard logger.
type Config struct {
	Cache    *memo.Cache
	Pages    *webpage.Fetcher
	Gatherer prometheus.Gatherer
	Logger   *log.Logger
}

type Server struct {
	cache  *memo.Cache
	pages  *webpage.Fetcher
	router *mux.Router
	logger *log.Logger

	getPage  func(context.Context, string) (string, error)
	getValue func(context.Context, string) ([]byte, error)
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	pages := cfg.Pages
	if pages == nil {
		pages = webpage.New(cfg.Cache)
	}
	s := &Server{
		cache:  cfg.Cache,
		pages:  pages,
		router: mux.NewRouter(),
		logger: logger,
	}
	s.getPage = memo.Counted(s.cache, "http.page", s.pages.Get)
	s.getValue = memo.Counted(s.cache, "http.get_value", s.cache.Lookup)
	s.setupRoutes(cfg.Gatherer)
	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Use(s.logRequests)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/page", s.handlePage).Methods(http.MethodGet)
	s.router.HandleFunc("/count", s.handleCount).Methods(http.MethodGet)
	s.router.HandleFunc("/values", s.handlePutValue).Methods(http.MethodPost)
	s.router.HandleFunc("/values", s.handleFlush).Methods(http.MethodDelete)
	s.router.HandleFunc("/values/{key}", s.handleGetValue).Methods(http.MethodGet)
	s.router.HandleFunc("/calls/{op}", s.handleCalls).Methods(http.MethodGet)

	metrics := promhttp.Handler()
	if gatherer != nil {
		metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	s.router.Handle("/metrics", metrics).Methods(http.MethodGet)
}
