package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gagliardetto/solana-go"

	"walletanalytics/internal/apierr"
	"walletanalytics/internal/classifier"
	"walletanalytics/internal/lock"
	"walletanalytics/internal/models"
)

// SyncWalletPayload is the sync-wallet job kind's payload.
type SyncWalletPayload struct {
	WalletAddress string `json:"walletAddress"`
	ForceRefresh  bool   `json:"forceRefresh,omitempty"`
	FetchOlder    bool   `json:"fetchOlder,omitempty"`
	FetchAll      bool   `json:"fetchAll,omitempty"`
}

const SyncWalletKind = "sync-wallet"

// NewSyncWalletHandler acquires lock:wallet:sync:<addr>, runs
// Smart-Fetch, releases the lock. Idle-dedup (alreadyRunning) is the
// caller's responsibility via ActiveJobExists before enqueue; here we
// still guard against a raced double-claim by trying the lock and
// returning an already_running error if it's held, so the queue-level
// attempt counter does not get consumed (per spec.md §4.5: "alreadyRunning
// short-circuits do not consume an attempt" -- the caller checks
// apierr.KindAlreadyRunning and does not route it through the retry path).
func NewSyncWalletHandler(locks *lock.Service, controller *classifier.Controller, holderID string) Handler {
	return func(ctx context.Context, job *models.Job, progress func(int)) ([]byte, error) {
		var p SyncWalletPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, apierr.Wrap(apierr.KindInvalidInput, "unmarshal sync-wallet payload", err)
		}

		key := lock.WalletSyncKey(p.WalletAddress)
		res, err := locks.TryAcquire(ctx, key, holderID, lock.DefaultTTL)
		if err != nil {
			return nil, err
		}
		if res == lock.HeldByOther {
			return nil, apierr.AlreadyRunning(jobIDStr(job.ID))
		}
		defer locks.Release(ctx, key, holderID)

		progress(5)

		wallet, err := solana.PublicKeyFromBase58(p.WalletAddress)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInvalidInput, "malformed wallet address", err)
		}

		target := 250
		if p.FetchAll {
			target = 1_000_000 // effectively unbounded; classifier still caps high_frequency
		}

		summary, err := controller.Run(ctx, wallet, target, nil)
		if err != nil {
			return nil, err
		}
		progress(100)

		return json.Marshal(summary)
	}
}

// AnalyzeWalletPayload is the analyze-wallet job kind's payload, shared
// by both the dashboard scheduler and the generic /jobs/wallets/analyze
// endpoint.
type AnalyzeWalletPayload struct {
	WalletAddress       string      `json:"walletAddress"`
	Scope               models.Scope `json:"scope"`
	HistoryWindowDays    *int        `json:"historyWindowDays,omitempty"`
	TargetSignatureCount *int        `json:"targetSignatureCount,omitempty"`
	EnrichMetadata       bool        `json:"enrichMetadata,omitempty"`
	QueueWorkingAfter    bool        `json:"queueWorkingAfter,omitempty"`
	QueueDeepAfter       bool        `json:"queueDeepAfter,omitempty"`
}

const AnalyzeWalletKind = "analyze-wallet"

// SimilarityPayload is the similarity job kind's payload.
type SimilarityPayload struct {
	WalletAddresses  []string `json:"walletAddresses"`
	VectorType       string   `json:"vectorType"`
	FailureThreshold *float64 `json:"failureThreshold,omitempty"`
	TimeoutMinutes   *int     `json:"timeoutMinutes,omitempty"`
}

const SimilarityKind = "similarity"

// NewSimilarityHandler waits (bounded by an aggregate timeout, per
// spec.md's resolved Open Question) on any in-progress sync for every
// wallet in the batch, then computes pairwise similarity in-process via
// the injected Compute function.
func NewSimilarityHandler(locks *lock.Service, compute func(ctx context.Context, wallets []string, vectorType string) (interface{}, error)) Handler {
	return func(ctx context.Context, job *models.Job, progress func(int)) ([]byte, error) {
		var p SimilarityPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, apierr.Wrap(apierr.KindInvalidInput, "unmarshal similarity payload", err)
		}

		timeout := 30 * time.Minute
		if p.TimeoutMinutes != nil {
			timeout = time.Duration(*p.TimeoutMinutes) * time.Minute
		}
		deadline := time.Now().Add(timeout)

		for i, addr := range p.WalletAddresses {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, apierr.New(apierr.KindTimeout, "similarity wait budget exhausted")
			}
			if err := locks.WaitFor(ctx, lock.WalletSyncKey(addr), remaining); err != nil {
				return nil, err
			}
			progress(5 + (i+1)*40/max1(len(p.WalletAddresses)))
		}

		result, err := compute(ctx, p.WalletAddresses, p.VectorType)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "compute similarity", err)
		}
		progress(100)
		return json.Marshal(result)
	}
}

// EnrichTokensPayload is the enrich-tokens job kind's payload.
type EnrichTokensPayload struct {
	TokenMints []string `json:"tokenMints"`
	Wallet     *string  `json:"wallet,omitempty"`
}

const EnrichTokensKind = "enrich-tokens"

// NewEnrichTokensHandler fetches metadata/prices for recently-seen
// tokens; lifecycle is independent from analysis.
func NewEnrichTokensHandler(enrich func(ctx context.Context, mints []string) error) Handler {
	return func(ctx context.Context, job *models.Job, progress func(int)) ([]byte, error) {
		var p EnrichTokensPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, apierr.Wrap(apierr.KindInvalidInput, "unmarshal enrich-tokens payload", err)
		}
		progress(10)
		if err := enrich(ctx, p.TokenMints); err != nil {
			return nil, apierr.Wrap(apierr.KindExternalUnavailable, "enrich tokens", err)
		}
		progress(100)
		return json.Marshal(map[string]int{"enriched": len(p.TokenMints)})
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
