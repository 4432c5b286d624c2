package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/txrules/internal/logger"
	"github.com/liamcoop/txrules/ruleadmin"
	"github.com/liamcoop/txrules/rules"
)

const (
	defaultPerPage   = 20
	maxPerPage       = 100
	slowRequestAfter = 2 * time.Second
)

type pinger interface {
	PingContext(ctx context.Context) error
}

// Server is the HTTP API over the rule engine.
type Server struct {
	db      pinger
	engine  *rules.Engine
	manager *ruleadmin.Manager
	secret  []byte
	now     func() time.Time
	router  *chi.Mux
}

// NewServer wires the routes. db may be nil when running without a database.
func NewServer(db pinger, engine *rules.Engine, manager *ruleadmin.Manager, jwtSecret string) *Server {
	s := &Server{
		db:      db,
		engine:  engine,
		manager: manager,
		secret:  []byte(jwtSecret),
		now:     time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(jwtAuth(s.secret))

		r.Post("/api/v1/evaluate", s.handleEvaluate)

		r.Route("/api/v1/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Post("/validate", s.handleValidateRule)

			r.Route("/{ruleId}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Post("/toggle", s.handleToggleRule)
			})
		})

		r.Route("/api/v1/admin", func(r chi.Router) {
			r.Use(requireSuperAdmin)
			r.Post("/cache/invalidate", s.handleInvalidateCache)
			r.Get("/metrics", s.handleMetrics)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger counts 4xx/5xx responses and slow requests.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
		case status >= 400:
			logger.WarnHttp4xx(status)
		}
		if elapsed > slowRequestAfter {
			logger.WarnSlowRequest()
		}
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Transaction == nil {
		respondError(w, http.StatusBadRequest, "transaction is required", nil)
		return
	}

	ctx := r.Context()
	scope := scopeFrom(ctx)
	start := time.Now()

	var res *rules.EvaluationResult
	if len(req.RuleIDs) > 0 {
		selected := make([]*rules.Rule, 0, len(req.RuleIDs))
		for _, id := range req.RuleIDs {
			rule, err := s.manager.Get(ctx, scope, id)
			if err != nil {
				s.respondStoreError(w, err)
				return
			}
			selected = append(selected, rule)
		}
		res = s.engine.EvaluateRules(ctx, selected, *req.Transaction)
	} else {
		var err error
		res, err = s.engine.Evaluate(ctx, scope, *req.Transaction)
		if err != nil {
			logger.Error("evaluation failed", "scope", scope, "error", err)
			respondError(w, http.StatusInternalServerError, "evaluation failed", err)
			return
		}
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		EvaluationResult: res,
		EvaluationTime:   time.Since(start).String(),
	})
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	perPage := queryInt(q.Get("per_page"), defaultPerPage)
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}

	list, err := s.manager.List(r.Context(), scopeFrom(r.Context()), q.Get("active") == "true")
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	total := len(list)
	from := min((page-1)*perPage, total)
	to := min(from+perPage, total)
	respondJSON(w, http.StatusOK, RulesListResponse{
		Data:        list[from:to],
		Total:       total,
		Pages:       (total + perPage - 1) / perPage,
		CurrentPage: page,
	})
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var def rules.RuleDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := s.manager.Create(r.Context(), scopeFrom(r.Context()), def)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// Validate rule handler
func (s *Server) handleValidateRule(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	sample := req.SampleTransaction
	if sample == nil {
		tx := rules.SampleTransaction(s.now())
		sample = &tx
	}

	res, err := s.manager.Validate(r.Context(), scopeFrom(r.Context()), req.RuleDefinition, sample)
	if err != nil {
		logger.Error("rule validation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to validate rule", err)
		return
	}
	status := http.StatusOK
	if !res.Valid {
		status = http.StatusBadRequest
	}
	respondJSON(w, status, res)
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	rule, err := s.manager.Get(r.Context(), scopeFrom(r.Context()), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	var patch rules.RuleDefinition
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := s.manager.Update(r.Context(), scopeFrom(r.Context()), id, patch)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Delete(r.Context(), scopeFrom(r.Context()), id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Rule deleted"})
}

// Toggle rule handler
func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	rule, err := s.manager.Toggle(r.Context(), scopeFrom(r.Context()), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	if req.UserID != nil {
		s.manager.Invalidate(r.Context(), *req.UserID)
		respondJSON(w, http.StatusOK, map[string]any{"invalidated": *req.UserID})
		return
	}
	s.manager.InvalidateAll(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{"invalidated": "all"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, logger.Snapshot())
}

// respondStoreError maps authoring and store errors to status codes.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	var ve *rules.ValidationError
	switch {
	case errors.As(err, &ve):
		res := rules.ValidationResult{Valid: false, Errors: ve.Errors}
		if len(ve.Errors) == 1 {
			res.Error = ve.Errors[0].String()
		}
		respondJSON(w, http.StatusBadRequest, res)
	case errors.Is(err, rules.ErrRuleNotFound):
		respondError(w, http.StatusNotFound, "rule not found", nil)
	default:
		logger.Error("rule store operation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "ruleId"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid rule id", nil)
		return 0, false
	}
	return id, true
}

func queryInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}
