package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"walletanalytics/internal/gateway"
	"walletanalytics/internal/lock"
	"walletanalytics/internal/queue"
	"walletanalytics/internal/scheduler"
	"walletanalytics/internal/store"
)

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

type Server struct {
	store      *store.Store
	locks      *lock.Service
	q          *queue.Runtime
	sched      *scheduler.Scheduler
	gw         *gateway.Gateway
	auth       *AuthMiddleware
	httpServer *http.Server
}

func NewServer(st *store.Store, locks *lock.Service, q *queue.Runtime, sched *scheduler.Scheduler, gw *gateway.Gateway, auth *AuthMiddleware, port string) *Server {
	r := mux.NewRouter()

	s := &Server{store: st, locks: locks, q: q, sched: sched, gw: gw, auth: auth}

	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)

	registerRoutes(r, s)

	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	return s
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := os.Getenv("FRONTEND_URL")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jsonResponse marshals v and writes it with the given status; errors
// while marshaling fall back to a 500 rather than a half-written body.
func jsonResponse(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
