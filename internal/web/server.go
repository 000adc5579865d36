package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/renderinc/annotation-search/internal/indexer"
	"github.com/renderinc/annotation-search/internal/reindex"
	"github.com/renderinc/annotation-search/internal/search"
	"github.com/renderinc/annotation-search/internal/tasks"
	"go.uber.org/zap"
)

// Scheduler accepts background tasks
type Scheduler interface {
	Schedule(ctx context.Context, task tasks.Task) error
}

// Index is the read side of the search cluster
type Index interface {
	Alias() string
	Search(target, query string, limit int) ([]*search.SearchResult, error)
	Count(target string) (uint64, error)
}

// Store counts annotations in the primary data store
type Store interface {
	Count(ctx context.Context) (int, error)
}

// ShadowLookup reports a running reindex
type ShadowLookup interface {
	ActiveShadowTarget(ctx context.Context) (string, bool, error)
}

// Reindexer rebuilds the whole index
type Reindexer interface {
	Run(ctx context.Context) (*reindex.Session, error)
}

type Server struct {
	store     Store
	idx       Index
	settings  ShadowLookup
	scheduler Scheduler
	reindexer Reindexer
	logger    *zap.Logger

	// background reindexes outlive their request
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type eventRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type reindexUserRequest struct {
	UserID string `json:"userid"`
}

type SearchResponse struct {
	Results []*search.SearchResult `json:"results"`
	Query   string                 `json:"query"`
	Count   int                    `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewServer(store Store, idx Index, settings ShadowLookup, scheduler Scheduler, reindexer Reindexer, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:     store,
		idx:       idx,
		settings:  settings,
		scheduler: scheduler,
		reindexer: reindexer,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close cancels a running reindex and waits for it to clean up
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/events", s.handleEvent)
	mux.HandleFunc("POST /api/reindex/user", s.handleReindexUser)
	mux.HandleFunc("POST /api/reindex", s.handleReindex)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	kind, err := indexer.ParseEventKind(req.Kind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task := indexer.Event{Kind: kind, ID: req.ID}.Task()
	if err := s.scheduler.Schedule(r.Context(), task); err != nil {
		s.logger.Error("schedule task", zap.Stringer("task", task), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "could not schedule task")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"task": task.Name, "id": req.ID})
}

func (s *Server) handleReindexUser(w http.ResponseWriter, r *http.Request) {
	var req reindexUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "missing userid")
		return
	}

	task := tasks.Task{Name: indexer.TaskReindexUserAnnotations, Arg: req.UserID}
	if err := s.scheduler.Schedule(r.Context(), task); err != nil {
		s.logger.Error("schedule task", zap.Stringer("task", task), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "could not schedule task")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"task": task.Name, "userid": req.UserID})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	target, active, err := s.settings.ActiveShadowTarget(r.Context())
	if err != nil {
		s.logger.Error("read reindex setting", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "could not read reindex state")
		return
	}
	if active {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "reindex already running", "target": target})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		session, err := s.reindexer.Run(s.ctx)
		if err != nil {
			s.logger.Error("reindex failed", zap.Error(err))
			return
		}
		s.logger.Info("reindex promoted",
			zap.String("index", session.Target),
			zap.Int("failed", len(session.Failed)))
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	results, err := s.idx.Search(s.idx.Alias(), query, limit)
	if err != nil {
		s.logger.Error("search", zap.String("query", query), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []*search.SearchResult{}
	}

	s.writeJSON(w, http.StatusOK, SearchResponse{
		Results: results,
		Query:   query,
		Count:   len(results),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	body := map[string]any{"status": "ok"}

	dbCount, err := s.store.Count(ctx)
	if err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["store_error"] = err.Error()
	}
	body["annotations_in_db"] = dbCount

	indexCount, err := s.idx.Count(s.idx.Alias())
	if err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["index_error"] = err.Error()
	}
	body["annotations_in_index"] = indexCount

	shadow, active, err := s.settings.ActiveShadowTarget(ctx)
	if err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["settings_error"] = err.Error()
	}
	body["reindex_active"] = active
	if active {
		body["reindex_target"] = shadow
		if n, err := s.idx.Count(shadow); err == nil {
			body["annotations_in_reindex_target"] = n
		}
	}

	s.writeJSON(w, status, body)
}
