// Package scheduler is the Dashboard Analysis Scheduler: the
// three-scope (flash/working/deep) pipeline with freshness gating,
// concurrency gating, follow-up queuing, and enrichment chaining.
// Grounded structurally on the teacher's dual forward/backward deriver
// shape (ingester/live_deriver.go + history_deriver.go), here applied
// to a scope ladder instead of a block range.
package scheduler

import (
	"context"
	"strconv"
	"time"

	"walletanalytics/internal/apierr"
	"walletanalytics/internal/models"
	"walletanalytics/internal/queue"
)

// ScopeConfig is one row of the scope ladder table (spec.md §4.6).
type ScopeConfig struct {
	WindowDays       int
	SignatureTarget  int
	FreshnessWindow  time.Duration
}

// Config is the immutable, startup-loaded freshness/target table.
type Config struct {
	Flash   ScopeConfig
	Working ScopeConfig
	Deep    ScopeConfig
}

func DefaultConfig() Config {
	return Config{
		Flash:   ScopeConfig{WindowDays: 7, SignatureTarget: 250, FreshnessWindow: 30 * time.Minute},
		Working: ScopeConfig{WindowDays: 30, SignatureTarget: 1000, FreshnessWindow: 6 * time.Hour},
		Deep:    ScopeConfig{WindowDays: 0, SignatureTarget: 0, FreshnessWindow: 24 * time.Hour}, // 0 = all history / store-cap driven
	}
}

func (c Config) For(scope models.Scope) ScopeConfig {
	switch scope {
	case models.ScopeFlash:
		return c.Flash
	case models.ScopeWorking:
		return c.Working
	default:
		return c.Deep
	}
}

// Store is the subset of the Persistence Store the scheduler needs.
type Store interface {
	GetWallet(ctx context.Context, address string) (*models.Wallet, error)
	CountTransactions(ctx context.Context, address string) (int64, error)
	MostRecentCompletedRun(ctx context.Context, walletAddress string, scope models.Scope) (*models.AnalysisRun, error)
	StartAnalysisRun(ctx context.Context, walletAddress string, scope models.Scope) (int64, error)
	CommitAnalysisRun(ctx context.Context, runID int64, results []models.AnalysisResult, summary models.WalletPnlSummary, profile *models.WalletBehaviorProfile, inputCount int) error
	FinishAnalysisRun(ctx context.Context, runID int64, state models.RunState, inputCount int, errDetail *string) error
	GetSwapInputs(ctx context.Context, walletAddress string, since *int64) ([]models.SwapAnalysisInput, error)
}

// Analyzer is the out-of-core-scope pure-function collaborator per
// spec.md §1: f(SwapInputs) -> AnalysisResult. The core invokes it and
// persists the outputs without specifying its internal math.
type Analyzer func(inputs []models.SwapAnalysisInput) ([]models.AnalysisResult, models.WalletPnlSummary, *models.WalletBehaviorProfile)

type Request struct {
	WalletAddress        string
	Scope                models.Scope
	TriggerSource        string // "auto" | "manual" | "system"
	ForceRefresh         bool
	HistoryWindowDays    *int
	TargetSignatureCount *int
	QueueWorkingAfter    bool
	QueueDeepAfter       bool
	EnrichMetadata       bool
}

type Response struct {
	JobID                string   `json:"jobId,omitempty"`
	AlreadyRunning       bool     `json:"alreadyRunning,omitempty"`
	Skipped              bool     `json:"skipped,omitempty"`
	SkipReason           string   `json:"skipReason,omitempty"`
	QueuedFollowUpScopes []string `json:"queuedFollowUpScopes,omitempty"`
}

type Scheduler struct {
	cfg   Config
	store Store
	q     *queue.Runtime
}

func New(cfg Config, store Store, q *queue.Runtime) *Scheduler {
	return &Scheduler{cfg: cfg, store: store, q: q}
}

// Schedule implements the six-step scheduling contract of spec.md §4.6.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (*Response, error) {
	// 1. Validation.
	wallet, err := s.store.GetWallet(ctx, req.WalletAddress)
	if err != nil {
		return nil, err
	}
	if wallet.Classification == models.ClassificationRestricted {
		reason := "wallet restricted"
		if wallet.RestrictedReason != nil {
			reason = *wallet.RestrictedReason
		}
		return nil, apierr.Restricted(reason)
	}
	if req.TriggerSource != "manual" && req.ForceRefresh {
		// only manual may set forceRefresh; ignore it otherwise rather than
		// erroring, since auto/system requests never set it intentionally.
		req.ForceRefresh = false
	}

	scopeCfg := s.cfg.For(req.Scope)

	// 2. Freshness gate.
	if !req.ForceRefresh {
		run, err := s.store.MostRecentCompletedRun(ctx, req.WalletAddress, req.Scope)
		if err != nil {
			return nil, err
		}
		count, err := s.store.CountTransactions(ctx, req.WalletAddress)
		if err != nil {
			return nil, err
		}
		target := scopeCfg.SignatureTarget
		if req.TargetSignatureCount != nil {
			target = *req.TargetSignatureCount
		}
		if run != nil && run.FinishedAt != nil &&
			time.Since(*run.FinishedAt) < scopeCfg.FreshnessWindow &&
			(target == 0 || count >= int64(target)) {
			return &Response{Skipped: true, SkipReason: "recent-run-within-window"}, nil
		}
	}

	// 3. Concurrency gate. Narrowed by both wallet and scope: a wallet can
	// have an active flash run and a concurrently-requested deep run
	// without either looking like a duplicate of the other.
	if id, running, err := s.q.ActiveJobExists(ctx, queue.AnalysisOperations, queue.AnalyzeWalletKind, "walletAddress", req.WalletAddress, "scope", string(req.Scope)); err != nil {
		return nil, err
	} else if running {
		return &Response{AlreadyRunning: true, JobID: jobIDStr(id)}, nil
	}

	// 4. Enqueue; publish queue-to-start happens inside Claim(), not here
	// -- enqueue only records the waiting row and returns its id.
	payload := queue.AnalyzeWalletPayload{
		WalletAddress:        req.WalletAddress,
		Scope:                req.Scope,
		HistoryWindowDays:    req.HistoryWindowDays,
		TargetSignatureCount: req.TargetSignatureCount,
		EnrichMetadata:       req.EnrichMetadata,
		QueueWorkingAfter:    req.QueueWorkingAfter,
		QueueDeepAfter:       req.QueueDeepAfter,
	}
	id, err := s.q.Enqueue(ctx, queue.AnalysisOperations, queue.AnalyzeWalletKind, payload, 0)
	if err != nil {
		return nil, err
	}

	// 5. Pre-create a working placeholder if flash requested it. The
	// core's only obligation is that the dashboard can see the pipeline;
	// the actual enqueue happens at flash completion (step 5 of the
	// worker execution algorithm), so there is nothing further to persist
	// here beyond returning the hint in queuedFollowUpScopes.
	var followUps []string
	if req.Scope == models.ScopeFlash && req.QueueWorkingAfter {
		followUps = append(followUps, string(models.ScopeWorking))
	}
	if req.QueueDeepAfter {
		followUps = append(followUps, string(models.ScopeDeep))
	}

	return &Response{JobID: jobIDStr(id), QueuedFollowUpScopes: followUps}, nil
}

func jobIDStr(id int64) string {
	return strconv.FormatInt(id, 10)
}
