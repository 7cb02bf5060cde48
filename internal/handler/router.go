package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"neighborly-auth/internal/util"
)

// HealthChecker reports per-component health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// RouterConfig wires the handlers and middleware into the chi router.
type RouterConfig struct {
	Auth         *AuthHandler
	Admin        *AdminHandler
	Authenticate func(http.Handler) http.Handler
	AdminOnly    func(http.Handler) http.Handler
	Health       HealthChecker
	RequireTLS   bool
}

// requireHTTPS rejects requests that did not arrive over TLS.
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			w.Write([]byte(`{"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the chi router with the full middleware stack.
func NewRouter(cfg RouterConfig) chi.Router {
	router := chi.NewRouter()

	if cfg.RequireTLS {
		router.Use(requireHTTPS)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(loggerMiddleware())
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", healthHandler(cfg.Health))

	router.Route("/api/v1", func(r chi.Router) {
		cfg.Auth.RegisterRoutes(r, cfg.Authenticate)
		if cfg.Admin != nil {
			cfg.Admin.RegisterRoutes(r, cfg.AdminOnly)
		}
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}

func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		components := map[string]string{}

		if checker != nil {
			for name, err := range checker.HealthCheck(r.Context()) {
				if err != nil {
					status = http.StatusServiceUnavailable
					components[name] = err.Error()
				} else {
					components[name] = "ok"
				}
			}
		}

		body := map[string]interface{}{
			"status":     "healthy",
			"service":    "neighborly-auth",
			"components": components,
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}

		respondWithJSON(w, status, body)
	}
}

func loggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				util.Info("HTTP request",
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
