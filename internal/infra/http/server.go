package http

import (
	"net/http"
	"time"

	"keystack/internal/config"
	"keystack/internal/domain"
	"keystack/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine

	provision *usecase.ProvisionService
	lookup    *usecase.ExportLookupService
	keyConfig config.KeyConfig
	dbMode    string

	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool

	gatherer prometheus.Gatherer
}

type ServerDeps struct {
	Provision *usecase.ProvisionService
	Lookup    *usecase.ExportLookupService
	// KeyConfig is used when a request carries no key configuration.
	KeyConfig      config.KeyConfig
	StoreAvailable bool

	AdminAPIKey string
	RateLimiter domain.RateLimiter
	Gatherer    prometheus.Gatherer
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	s := &Server{
		cfg:         cfg,
		r:           r,
		provision:   deps.Provision,
		lookup:      deps.Lookup,
		keyConfig:   deps.KeyConfig,
		dbMode:      "no-db",
		adminAPIKey: deps.AdminAPIKey,
		gatherer:    deps.Gatherer,
	}
	if deps.StoreAvailable {
		s.dbMode = "db"
	}
	if s.adminAPIKey == "" {
		s.adminAPIKey = cfg.AdminAPIKey
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(limiter domain.RateLimiter) {
	s.rateLimiter = limiter
	s.rateLimitRequests = s.cfg.ApplyRateLimitRequests
	s.rateLimitWindow = s.cfg.ApplyRateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		engine := ""
		if s.provision != nil {
			engine = s.provision.EngineName
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.dbMode, "engine": engine})
	})
	s.r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.r.Group("/v1")
	{
		v1.GET("/stacks/:stack/exports", s.handleListExports)
		v1.GET("/exports/:name", s.handleGetExport)
	}
	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}
