package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gagliardetto/solana-go"

	"walletanalytics/internal/apierr"
	"walletanalytics/internal/classifier"
	"walletanalytics/internal/lock"
	"walletanalytics/internal/models"
	"walletanalytics/internal/queue"
)

// NewAnalyzeWalletHandler builds the analyze-wallet job handler: the
// worker-execution half of the scheduler (spec.md §4.6's "Worker
// execution" algorithm). It acquires lock:wallet:sync:<addr> -- shared
// with sync-wallet so the two serialize on the same wallet rather than
// racing each other's writes to swap_analysis_inputs -- runs the
// Smart-Fetch Controller to top up the store for the requested scope,
// loads the accumulated swap inputs, invokes the injected Analyzer,
// persists atomically via store.CommitAnalysisRun, and on success
// enqueues the requested follow-up scopes: working only after a flash
// run with queueWorkingAfter, deep after any run with queueDeepAfter.
func NewAnalyzeWalletHandler(store Store, q *queue.Runtime, locks *lock.Service, cfg Config, controller *classifier.Controller, analyze Analyzer, holderID string) queue.Handler {
	return func(ctx context.Context, job *models.Job, progress func(int)) ([]byte, error) {
		var p queue.AnalyzeWalletPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, apierr.Wrap(apierr.KindInvalidInput, "unmarshal analyze-wallet payload", err)
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

		wallet, err := store.GetWallet(ctx, p.WalletAddress)
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

		scopeCfg := cfg.For(p.Scope)
		windowDays := scopeCfg.WindowDays
		if p.HistoryWindowDays != nil {
			windowDays = *p.HistoryWindowDays
		}
		var since *int64
		var sinceTime *time.Time
		if windowDays > 0 {
			t := time.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)
			sinceTime = &t
			cutoff := t.Unix()
			since = &cutoff
		}

		target := scopeCfg.SignatureTarget
		if p.TargetSignatureCount != nil {
			target = *p.TargetSignatureCount
		}
		if target <= 0 {
			target = 1_000_000 // deep scope: effectively unbounded, classifier still caps high_frequency
		}
		pubkey, err := solana.PublicKeyFromBase58(p.WalletAddress)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInvalidInput, "malformed wallet address", err)
		}
		if _, err := controller.Run(ctx, pubkey, target, sinceTime); err != nil {
			return nil, err
		}
		progress(30)

		runID, err := store.StartAnalysisRun(ctx, p.WalletAddress, p.Scope)
		if err != nil {
			return nil, err
		}

		inputs, err := store.GetSwapInputs(ctx, p.WalletAddress, since)
		if err != nil {
			errDetail := err.Error()
			_ = store.FinishAnalysisRun(ctx, runID, models.RunStateFailed, 0, &errDetail)
			return nil, err
		}
		progress(40)

		results, summary, profile := analyze(inputs)
		for i := range results {
			results[i].Scope = p.Scope
		}
		progress(75)

		if err := store.CommitAnalysisRun(ctx, runID, results, summary, profile, len(inputs)); err != nil {
			errDetail := err.Error()
			_ = store.FinishAnalysisRun(ctx, runID, models.RunStateFailed, len(inputs), &errDetail)
			return nil, err
		}
		progress(95)

		var followUpJobsQueued []string
		if p.Scope == models.ScopeFlash && p.QueueWorkingAfter {
			workingPayload := p
			workingPayload.Scope = models.ScopeWorking
			workingPayload.QueueWorkingAfter = false
			if _, err := q.Enqueue(ctx, queue.AnalysisOperations, queue.AnalyzeWalletKind, workingPayload, 0); err == nil {
				followUpJobsQueued = append(followUpJobsQueued, string(models.ScopeWorking))
			}
		}
		if p.QueueDeepAfter {
			deepPayload := p
			deepPayload.Scope = models.ScopeDeep
			deepPayload.QueueWorkingAfter = false
			deepPayload.QueueDeepAfter = false
			if _, err := q.Enqueue(ctx, queue.AnalysisOperations, queue.AnalyzeWalletKind, deepPayload, 0); err == nil {
				followUpJobsQueued = append(followUpJobsQueued, string(models.ScopeDeep))
			}
		}

		var enrichmentJobID string
		if p.EnrichMetadata {
			mints := tokenMints(results)
			if len(mints) > 0 {
				id, err := q.Enqueue(ctx, queue.EnrichmentOperations, queue.EnrichTokensKind,
					queue.EnrichTokensPayload{TokenMints: mints, Wallet: &p.WalletAddress}, 0)
				if err == nil {
					enrichmentJobID = jobIDStr(id)
				}
			}
		}

		progress(100)
		return json.Marshal(map[string]interface{}{
			"scope":              p.Scope,
			"inputCount":         len(inputs),
			"resultCount":        len(results),
			"followUpJobsQueued": followUpJobsQueued,
			"enrichmentJobId":    enrichmentJobID,
		})
	}
}

func tokenMints(results []models.AnalysisResult) []string {
	seen := make(map[string]bool, len(results))
	var mints []string
	for _, r := range results {
		if seen[r.TokenMint] {
			continue
		}
		seen[r.TokenMint] = true
		mints = append(mints, r.TokenMint)
	}
	return mints
}
