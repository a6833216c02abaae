package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/djlord-it/bgp-withdraw/internal/domain"
	"github.com/djlord-it/bgp-withdraw/internal/processor"
	"github.com/djlord-it/bgp-withdraw/internal/reaper"
)

// History limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	Enqueue(ctx context.Context, in domain.NewIntent, now time.Time) (int64, bool, error)
	ListPending(ctx context.Context) ([]domain.Intent, error)
	ListFailed(ctx context.Context) ([]domain.Intent, error)
	ResetFailed(ctx context.Context, id int64, now time.Time) error
	ResolveManual(ctx context.Context, id int64, note string, now time.Time) (domain.HistoryRecord, error)
	History(ctx context.Context, limit int) ([]domain.HistoryRecord, error)
	Stats(ctx context.Context, now time.Time) (domain.Stats, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Runner triggers a processor run.
type Runner interface {
	Run(ctx context.Context) processor.Report
}

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, maxAge time.Duration) (reaper.Result, error)
}

type Handler struct {
	store       Store
	db          HealthChecker
	runner      Runner
	sweeper     Sweeper
	staleMaxAge time.Duration
	maxRetries  int
	clock       func() time.Time
	router      chi.Router
}

func NewHandler(store Store) *Handler {
	h := &Handler{
		store:       store,
		staleMaxAge: reaper.DefaultMaxAge,
		clock:       time.Now,
	}
	h.router = h.routes()
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithRunner enables POST /runs.
func (h *Handler) WithRunner(r Runner) *Handler {
	h.runner = r
	return h
}

// WithSweeper enables POST /sweep. maxAge is the default when the request
// does not set one.
func (h *Handler) WithSweeper(s Sweeper, maxAge time.Duration) *Handler {
	h.sweeper = s
	if maxAge > 0 {
		h.staleMaxAge = maxAge
	}
	return h
}

// WithDefaultMaxRetries sets the retry budget for requests that omit one.
func (h *Handler) WithDefaultMaxRetries(n int) *Handler {
	h.maxRetries = n
	return h
}

func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.health)

	r.Route("/intents", func(r chi.Router) {
		r.Post("/", h.enqueue)
		r.Get("/pending", h.listPending)
		r.Get("/failed", h.listFailed)
		r.Post("/{id}/reset", h.resetIntent)
		r.Post("/{id}/resolve", h.resolveIntent)
	})

	r.Get("/history", h.history)
	r.Get("/stats", h.stats)
	r.Post("/sweep", h.sweep)
	r.Post("/runs", h.run)
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid json")
	return false
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	now := h.clock().UTC()
	in, err := ValidateEnqueue(req, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.MaxRetries == 0 {
		in.MaxRetries = h.maxRetries
	}

	id, created, err := h.store.Enqueue(r.Context(), in, now)
	if err != nil {
		log.Printf("api: enqueue error resource=%s: %v", in.ResourceKey, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue intent")
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, EnqueueResponse{Created: false})
		return
	}

	log.Printf("api: enqueued intent=%d resource=%s eligible_at=%s", id, in.ResourceKey, in.EligibleAt.Format(time.RFC3339))
	writeJSON(w, http.StatusCreated, EnqueueResponse{ID: id, Created: true})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	h.listIntents(w, r, h.store.ListPending, "pending")
}

func (h *Handler) listFailed(w http.ResponseWriter, r *http.Request) {
	h.listIntents(w, r, h.store.ListFailed, "failed")
}

func (h *Handler) listIntents(w http.ResponseWriter, r *http.Request, list func(context.Context) ([]domain.Intent, error), what string) {
	intents, err := list(r.Context())
	if err != nil {
		log.Printf("api: list %s intents error: %v", what, err)
		writeError(w, http.StatusInternalServerError, "failed to list "+what+" intents")
		return
	}

	resp := ListIntentsResponse{Intents: make([]IntentResponse, len(intents))}
	for i, in := range intents {
		resp.Intents[i] = intentResponse(in)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) resetIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := intentID(w, r)
	if !ok {
		return
	}

	if err := h.store.ResetFailed(r.Context(), id, h.clock().UTC()); err != nil {
		if errors.Is(err, domain.ErrIntentNotFound) {
			writeError(w, http.StatusNotFound, "failed intent not found")
			return
		}
		log.Printf("api: reset intent=%d error: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to reset intent")
		return
	}

	log.Printf("api: reset intent=%d for retry", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resolveIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := intentID(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := h.store.ResolveManual(r.Context(), id, req.Note, h.clock().UTC())
	switch {
	case errors.Is(err, domain.ErrIntentNotFound):
		writeError(w, http.StatusNotFound, "intent not found")
		return
	case errors.Is(err, domain.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "intent changed while resolving, retry")
		return
	case err != nil:
		log.Printf("api: resolve intent=%d error: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to resolve intent")
		return
	}

	log.Printf("api: resolved intent=%d manually", id)
	writeJSON(w, http.StatusOK, historyResponse(rec))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.store.History(r.Context(), limit)
	if err != nil {
		log.Printf("api: history error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, ListHistoryResponse{History: historyResponses(recs)})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Stats(r.Context(), h.clock().UTC())
	if err != nil {
		log.Printf("api: stats error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Pending:     st.Pending,
		Failed:      st.Failed,
		History:     st.History,
		Succeeded:   st.Succeeded,
		Abandoned:   st.Abandoned,
		Stale:       st.Stale,
		EventsToday: st.EventsToday,
	})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusNotImplemented, "sweep not enabled")
		return
	}

	var req SweepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MaxAgeSeconds < 0 {
		writeError(w, http.StatusBadRequest, "max_age_seconds must not be negative")
		return
	}
	maxAge := h.staleMaxAge
	if req.MaxAgeSeconds > 0 {
		maxAge = time.Duration(req.MaxAgeSeconds) * time.Second
	}

	res, err := h.sweeper.Sweep(r.Context(), h.clock().UTC(), maxAge)
	if err != nil {
		log.Printf("api: sweep error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to sweep")
		return
	}

	writeJSON(w, http.StatusOK, SweepResponse{Swept: historyResponses(res.Swept), Skipped: res.Skipped})
}

// run executes a processor run synchronously. A failed run still returns 200;
// the body says what failed.
func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusNotImplemented, "runs not enabled")
		return
	}

	report := h.runner.Run(r.Context())
	if report.Skipped {
		writeJSON(w, http.StatusConflict, runResponse(report))
		return
	}
	writeJSON(w, http.StatusOK, runResponse(report))
}

func intentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid intent id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parseLimit reads the limit query parameter. Returns DefaultLimit if it is
// absent or zero, and an error if it is negative, invalid, or above MaxLimit.
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, err
	}
	if limit < 0 {
		return 0, strconv.ErrRange
	}
	if limit > MaxLimit {
		return 0, &limitExceededError{max: MaxLimit}
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return limit, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
