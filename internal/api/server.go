package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"walletanalytics/internal/apierr"
	"walletanalytics/internal/models"
	"walletanalytics/internal/queue"
	"walletanalytics/internal/scheduler"
)

func writeJSON(w http.ResponseWriter, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.WriteHeader(status)
	_ = writeJSON(w, map[string]interface{}{
		"error": map[string]string{"kind": kind, "message": msg},
	})
}

// handleError classifies err via apierr and writes the mapped HTTP status.
func handleError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	writeError(w, apierr.HTTPStatus(kind), string(kind), err.Error())
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "version": BuildCommit})
}

type dashboardAnalysisRequest struct {
	WalletAddress        string        `json:"walletAddress"`
	AnalysisScope        models.Scope  `json:"analysisScope"`
	TriggerSource        string        `json:"triggerSource"`
	ForceRefresh         bool          `json:"forceRefresh,omitempty"`
	HistoryWindowDays    *int          `json:"historyWindowDays,omitempty"`
	TargetSignatureCount *int          `json:"targetSignatureCount,omitempty"`
	QueueWorkingAfter    bool          `json:"queueWorkingAfter,omitempty"`
	QueueDeepAfter       bool          `json:"queueDeepAfter,omitempty"`
	EnrichMetadata       bool          `json:"enrichMetadata,omitempty"`
}

func (s *Server) handleDashboardAnalysis(w http.ResponseWriter, r *http.Request) {
	var req dashboardAnalysisRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidInput), "malformed request body")
		return
	}
	if req.WalletAddress == "" || req.AnalysisScope == "" {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidInput), "walletAddress and analysisScope are required")
		return
	}

	if _, err := s.store.UpsertWallet(r.Context(), req.WalletAddress); err != nil {
		handleError(w, err)
		return
	}

	resp, err := s.sched.Schedule(r.Context(), scheduler.Request{
		WalletAddress:        req.WalletAddress,
		Scope:                req.AnalysisScope,
		TriggerSource:        req.TriggerSource,
		ForceRefresh:         req.ForceRefresh,
		HistoryWindowDays:    req.HistoryWindowDays,
		TargetSignatureCount: req.TargetSignatureCount,
		QueueWorkingAfter:    req.QueueWorkingAfter,
		QueueDeepAfter:       req.QueueDeepAfter,
		EnrichMetadata:       req.EnrichMetadata,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleEnqueueSyncWallet(w http.ResponseWriter, r *http.Request) {
	var req queue.SyncWalletPayload
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidInput), "malformed request body")
		return
	}
	if req.WalletAddress == "" {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidInput), "walletAddress is required")
		return
	}
	if _, err := s.store.UpsertWallet(r.Context(), req.WalletAddress); err != nil {
		handleError(w, err)
		return
	}
	id, err := s.q.Enqueue(r.Context(), queue.WalletOperations, queue.SyncWalletKind, req, 0)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]string{"jobId": strconv.FormatInt(id, 10)})
}

func (s *Server) handleEnqueueAnalyzeWallet(w http.ResponseWriter, r *http.Request) {
	var req queue.AnalyzeWalletPayload
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidInput), "malformed request body")
		return
	}
	if req.WalletAddress == "" || req.Scope == "" {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidInput), "walletAddress and scope are required")
		return
	}
	id, err := s.q.Enqueue(r.Context(), queue.AnalysisOperations, queue.AnalyzeWalletKind, req, 0)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]string{"jobId": strconv.FormatInt(id, 10)})
}

func (s *Server) handleEnqueueSimilarity(w http.ResponseWriter, r *http.Request) {
	var req queue.SimilarityPayload
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidInput), "malformed request body")
		return
	}
	if len(req.WalletAddresses) < 2 {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidInput), "at least two walletAddresses are required")
		return
	}
	id, err := s.q.Enqueue(r.Context(), queue.SimilarityOperations, queue.SimilarityKind, req, 0)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]string{"jobId": strconv.FormatInt(id, 10)})
}

func (s *Server) parseJobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := mux.Vars(r)["jobId"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidInput), "invalid jobId")
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseJobID(w, r)
	if !ok {
		return
	}
	job, err := s.q.GetJob(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, job)
}

func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseJobID(w, r)
	if !ok {
		return
	}
	job, err := s.q.GetJob(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"jobId": job.ID, "state": job.State, "progress": job.Progress})
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseJobID(w, r)
	if !ok {
		return
	}
	job, err := s.q.GetJob(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	switch job.State {
	case models.JobStateCompleted:
		w.WriteHeader(http.StatusOK)
		w.Write(job.Result)
	case models.JobStateFailed:
		writeError(w, http.StatusConflict, "failed", "job failed")
	default:
		writeError(w, http.StatusNotFound, "not_found", "job has no terminal result yet")
	}
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["queueName"]
	stats, err := s.q.Stats(r.Context(), queueName)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}

func (s *Server) handleWalletSummary(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]
	wallet, err := s.store.GetWallet(r.Context(), addr)
	if err != nil {
		handleError(w, err)
		return
	}
	if wallet.Classification == models.ClassificationRestricted {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "restricted"})
		return
	}
	summary, err := s.store.GetPnlSummary(r.Context(), addr)
	if err != nil {
		handleError(w, err)
		return
	}
	if summary == nil {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "unanalyzed"})
		return
	}
	jsonResponse(w, http.StatusOK, summary)
}

func (s *Server) handleTokenPerformance(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	results, err := s.store.GetAnalysisResults(r.Context(), addr, limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"results": results, "limit": limit, "offset": offset})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
