package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// registerRoutes wires the /api/v1 control plane and the WebSocket
// gateway endpoint, grouped the way the teacher's register*Routes
// functions split base/admin/API concerns.
func registerRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/socket.io", s.gw.ServeHTTP)

	api := r.PathPrefix("/api/v1").Subrouter()
	if s.auth != nil {
		api.Use(s.auth.Middleware)
	}

	api.HandleFunc("/analyses/wallets/dashboard-analysis", s.handleDashboardAnalysis).Methods(http.MethodPost)
	api.HandleFunc("/jobs/wallets/sync", s.handleEnqueueSyncWallet).Methods(http.MethodPost)
	api.HandleFunc("/jobs/wallets/analyze", s.handleEnqueueAnalyzeWallet).Methods(http.MethodPost)
	api.HandleFunc("/jobs/similarity/analyze", s.handleEnqueueSimilarity).Methods(http.MethodPost)

	api.HandleFunc("/jobs/queue/{queueName}/stats", s.handleQueueStats).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobId}/progress", s.handleJobProgress).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobId}/result", s.handleJobResult).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobId}", s.handleGetJob).Methods(http.MethodGet)

	api.HandleFunc("/wallets/{addr}/summary", s.handleWalletSummary).Methods(http.MethodGet)
	api.HandleFunc("/wallets/{addr}/token-performance", s.handleTokenPerformance).Methods(http.MethodGet)
}
