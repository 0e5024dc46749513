package intake

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inpointtech/acquisition/internal/log"
	"github.com/inpointtech/acquisition/internal/order"
	"github.com/inpointtech/acquisition/internal/store"
)

// RouterConfig tunes the ingress middleware.
type RouterConfig struct {
	// RateLimit is the per-IP request budget per window; 0 disables limiting.
	RateLimit       int
	RateLimitWindow time.Duration
}

// StatusResponse is the GET /api/orders/{id} body.
type StatusResponse struct {
	RequestID int64       `json:"request_id"`
	WorkerID  string      `json:"worker_id"`
	Status    string      `json:"status"`
	Order     order.Order `json:"order"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewRouter builds the intake HTTP surface on top of sched.
func NewRouter(sched *Scheduler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	if cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		r.Use(httprate.Limit(
			cfg.RateLimit,
			window,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
	}

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", handleSubmit(sched))
		r.Get("/{id}", handleStatus(sched))
		r.Delete("/{id}", handleCancel(sched))
	})
	return r
}

// requestID stamps every request with a correlation id, honoring an
// incoming X-Request-ID when present.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleSubmit(sched *Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var orders []order.Order
		if err := json.NewDecoder(r.Body).Decode(&orders); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if len(orders) == 0 {
			writeError(w, http.StatusBadRequest, "empty order batch")
			return
		}

		results := sched.Submit(r.Context(), orders)
		writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
	}
}

func handleStatus(sched *Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requestIDParam(w, r)
		if !ok {
			return
		}
		rec, err := sched.Status(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if rec == nil {
			writeError(w, http.StatusNotFound, "unknown request")
			return
		}
		writeJSON(w, http.StatusOK, statusResponse(rec))
	}
}

func handleCancel(sched *Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requestIDParam(w, r)
		if !ok {
			return
		}
		if !sched.Cancel(id) {
			writeError(w, http.StatusNotFound, "no running worker for request")
			return
		}
		logger := log.WithComponentFromContext(r.Context(), "intake")
		logger.Info().
			Str("event", "intake.cancel").
			Int64("request_id", id).
			Msg("cancellation requested")
		writeJSON(w, http.StatusAccepted, map[string]any{"request_id": id, "cancelled": true})
	}
}

func requestIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return 0, false
	}
	return id, true
}

func statusResponse(rec *store.Request) StatusResponse {
	return StatusResponse{
		RequestID: rec.ID,
		WorkerID:  rec.WorkerID,
		Status:    rec.Status.String(),
		Order:     rec.Order,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
