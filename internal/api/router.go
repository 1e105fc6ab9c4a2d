package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/daytrader/internal/api/handlers"
	"github.com/wonny/daytrader/pkg/logger"
)

// Handlers groups the endpoint handlers; nil members are not routed
type Handlers struct {
	Trading *handlers.TradingHandler
	Jobs    *handlers.JobsHandler
	Metrics http.Handler
	Health  func() map[string]interface{}
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(h Handlers, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler(h.Health)).Methods("GET")

	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	if h.Trading != nil {
		api.HandleFunc("/positions", h.Trading.GetPositions).Methods("GET")
		api.HandleFunc("/rounds/latest", h.Trading.GetLatestRound).Methods("GET")
		api.HandleFunc("/actions", h.Trading.GetActions).Methods("GET")
		api.HandleFunc("/summary", h.Trading.GetSummary).Methods("GET")
		api.HandleFunc("/quotes", h.Trading.GetQuotes).Methods("GET")
	}

	if h.Jobs != nil {
		api.HandleFunc("/jobs", h.Jobs.GetJobs).Methods("GET")
		api.HandleFunc("/jobs/{name}/run", h.Jobs.RunJob).Methods("POST")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(extra func() map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":  "ok",
			"service": "daytrader",
		}
		if extra != nil {
			for k, v := range extra() {
				body[k] = v
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
