package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/screener/catalog"
	"github.com/liamcoop/screener/internal/config"
	"github.com/liamcoop/screener/internal/logger"
	"github.com/liamcoop/screener/internal/metrics"
	"github.com/liamcoop/screener/screener"
)

// maxBatchSessions bounds a single batch request
const maxBatchSessions = 1000

// healthCheck pings one backing dependency
type healthCheck struct {
	name string
	ping func(ctx context.Context) error
}

type Server struct {
	engine   *screener.Engine
	registry *catalog.Registry
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	checks   []healthCheck
	router   *chi.Mux
}

func NewServer(engine *screener.Engine, registry *catalog.Registry, m *metrics.Metrics, gatherer prometheus.Gatherer, checks ...healthCheck) *Server {
	s := &Server{
		engine:   engine,
		registry: registry,
		metrics:  m,
		gatherer: gatherer,
		checks:   checks,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Evaluation of an inline definition
	r.Post("/api/v1/evaluate", s.handleEvaluateDefinition)
	r.Post("/api/v1/lint", s.handleLint)

	// Published screeners
	r.Route("/api/v1/screeners", func(r chi.Router) {
		r.Get("/", s.handleListScreeners)

		r.Route("/{screenerId}/versions/{version}", func(r chi.Router) {
			r.Post("/evaluate", s.handleEvaluate)
			r.Post("/evaluate/batch", s.handleEvaluateBatch)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:          "healthy",
		ScreenersLoaded: len(s.registry.List()),
	}

	status := http.StatusOK
	for _, check := range s.checks {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(s.checks))
		}
		if err := check.ping(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Checks[check.name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[check.name] = "ok"
	}

	respondJSON(w, status, resp)
}

// Inline evaluation handler
func (s *Server) handleEvaluateDefinition(w http.ResponseWriter, r *http.Request) {
	var req EvaluateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Definition == nil {
		respondError(w, http.StatusBadRequest, "definition is required", nil)
		return
	}

	if err := s.engine.CheckDefinition(req.Definition); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "definition failed validation", err)
		return
	}

	respondJSON(w, http.StatusOK, s.evaluate(req.Definition, req.Answers))
}

// Lint handler
func (s *Server) handleLint(w http.ResponseWriter, r *http.Request) {
	var req LintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Definition == nil {
		respondError(w, http.StatusBadRequest, "definition is required", nil)
		return
	}

	issues := s.engine.Lint(req.Definition)
	resp := LintResponse{Valid: true, Issues: []screener.LintIssue{}}
	for _, issue := range issues {
		if issue.Severity == screener.SeverityError {
			resp.Valid = false
		}
		resp.Issues = append(resp.Issues, issue)
	}

	respondJSON(w, http.StatusOK, resp)
}

// List screeners handler
func (s *Server) handleListScreeners(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ScreenersListResponse{
		Screeners: s.registry.List(),
	})
}

// Published version evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	def, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	respondJSON(w, http.StatusOK, s.evaluate(def, req.Answers))
}

// Batch evaluation handler
func (s *Server) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	def, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req BatchEvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if len(req.Sessions) == 0 {
		respondError(w, http.StatusBadRequest, "sessions are required", nil)
		return
	}
	if len(req.Sessions) > maxBatchSessions {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("at most %d sessions per batch", maxBatchSessions), nil)
		return
	}

	startTime := time.Now()

	results := make([]EvaluationResponse, len(req.Sessions))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, session := range req.Sessions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = s.evaluate(def, session.Answers)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		respondError(w, http.StatusServiceUnavailable, "batch evaluation cancelled", err)
		return
	}

	respondJSON(w, http.StatusOK, BatchEvaluateResponse{
		Results:        results,
		EvaluationTime: time.Since(startTime).String(),
	})
}

// lookup resolves the screener version named in the URL, writing an error response on failure
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*screener.Definition, bool) {
	screenerID := chi.URLParam(r, "screenerId")
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		respondError(w, http.StatusBadRequest, "version must be a positive integer", nil)
		return nil, false
	}

	def, err := s.registry.Get(r.Context(), catalog.Key{ScreenerID: screenerID, Version: version})
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		respondError(w, http.StatusNotFound, "screener version not found", err)
		return nil, false
	case errors.Is(err, catalog.ErrRejected):
		respondError(w, http.StatusUnprocessableEntity, "screener version failed validation", err)
		return nil, false
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to load screener version", err)
		return nil, false
	}
	return def, true
}

func (s *Server) evaluate(def *screener.Definition, answers screener.AnswerSet) EvaluationResponse {
	startTime := time.Now()
	result := s.engine.Evaluate(def, answers)
	s.metrics.ObserveEvaluation(result, startTime)

	resp := newEvaluationResponse(result)
	resp.EvaluationTime = time.Since(startTime).String()
	return resp
}

func newEvaluationResponse(result screener.EvaluationResult) EvaluationResponse {
	return EvaluationResponse{
		EvaluationID:     uuid.NewString(),
		Outcome:          result.Outcome,
		MatchedRule:      result.MatchedRule,
		MissingRequired:  result.MissingRequired,
		ValidationErrors: result.ValidationErrors,
		Undetermined:     result.Undetermined(),
		Summary:          screener.OutcomeSummary(result),
	}
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Logger.Error(message, "status", status, "error", err)
	case status >= 400:
		logger.WarnHttp4xx(status)
	}

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// app holds everything main wires together
type app struct {
	server   *Server
	registry *catalog.Registry
	metrics  *metrics.Metrics
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Logger.Warn("close failed", "error", err)
		}
	}
}

// reload reloads published versions and refreshes the rejected gauge
func (a *app) reload(ctx context.Context) error {
	n, err := a.registry.Reload(ctx)
	if err != nil {
		return err
	}
	a.metrics.SetRejectedVersions(len(a.registry.Rejected()))
	logger.Logger.Info("screeners reloaded", "loaded", n)
	return nil
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)

	engine, err := screener.NewEngine(
		screener.WithLogger(log),
		screener.WithCostLimit(cfg.CostLimit),
		screener.WithRuleErrorHook(func(e screener.RuleError) {
			logger.RuleError()
			a.metrics.RuleError(e)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	var checks []healthCheck

	var source catalog.Source
	switch {
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		source = catalog.NewPostgresSource(db)
		checks = append(checks, healthCheck{name: "postgres", ping: db.PingContext})
	case cfg.SeedFile != "":
		source, err = catalog.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
	default:
		log.Warn("no database_url or seed_file configured, serving no published screeners")
		source = catalog.NewInMemorySource()
	}

	var cache catalog.DefinitionCache
	if cfg.RedisURL != "" {
		client, err := catalog.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		cache = catalog.NewRedisCache(client, catalog.CacheConfig{TTL: cfg.CacheTTL}, log)
		checks = append(checks, healthCheck{name: "redis", ping: redisPing(client)})
	} else {
		cache = catalog.NewInMemoryCache(catalog.CacheConfig{TTL: cfg.CacheTTL})
	}

	a.registry = catalog.NewRegistry(source, cache, engine, log)
	if _, err := a.registry.LoadAll(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load screeners: %w", err)
	}
	a.metrics.SetRejectedVersions(len(a.registry.Rejected()))

	a.server = NewServer(engine, a.registry, a.metrics, reg, checks...)
	return a, nil
}

func redisPing(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func main() {
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(viper.New(), *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log, err := logger.Setup(ctx, logger.Options{
		Level:           cfg.LogLevel,
		ErrorSampleRate: cfg.ErrorSampleRate,
		OTELEnabled:     cfg.OTELEnabled,
		ServiceName:     cfg.OTELServiceName,
	})
	if err != nil {
		log.Warn("logger setup degraded", "error", err)
	}

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		logger.Fatal("failed to start", "error", err)
	}
	defer a.Close()

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      a.server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Info("server starting", "addr", cfg.Addr, "screeners", len(a.registry.List()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			break
		}
		if err := a.reload(ctx); err != nil {
			log.Error("reload failed", "error", err)
		}
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}

	log.Info("server stopped")
}
