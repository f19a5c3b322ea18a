package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"walletanalytics/internal/apierr"
	"walletanalytics/internal/models"
)

func (s *Store) StartAnalysisRun(ctx context.Context, walletAddress string, scope models.Scope) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO app.analysis_runs (wallet_address, scope, state, started_at, input_count)
		VALUES ($1, $2, 'RUNNING', NOW(), 0)
		RETURNING id`,
		walletAddress, scope,
	).Scan(&id)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, "start analysis run", err)
	}
	return id, nil
}

func (s *Store) FinishAnalysisRun(ctx context.Context, runID int64, state models.RunState, inputCount int, errDetail *string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE app.analysis_runs
		SET state = $2, finished_at = NOW(), input_count = $3, error_detail = $4
		WHERE id = $1`,
		runID, state, inputCount, errDetail,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "finish analysis run", err)
	}
	return nil
}

// MostRecentCompletedRun finds the latest COMPLETED run for a (wallet,
// scope) pair, used by the scheduler's freshness gate.
func (s *Store) MostRecentCompletedRun(ctx context.Context, walletAddress string, scope models.Scope) (*models.AnalysisRun, error) {
	var r models.AnalysisRun
	err := s.db.QueryRow(ctx, `
		SELECT id, wallet_address, scope, state, started_at, finished_at, input_count, error_detail
		FROM app.analysis_runs
		WHERE wallet_address = $1 AND scope = $2 AND state = 'COMPLETED'
		ORDER BY finished_at DESC
		LIMIT 1`,
		walletAddress, scope,
	).Scan(&r.ID, &r.WalletAddr, &r.Scope, &r.State, &r.StartedAt, &r.FinishedAt, &r.InputCount, &r.ErrorDetail)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "most recent completed run", err)
	}
	return &r, nil
}

// ReclaimStaleRuns sweeps RUNNING rows older than the threshold to
// FAILED, so a crashed worker does not leave an orphaned run forever.
func (s *Store) ReclaimStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE app.analysis_runs
		SET state = 'FAILED', finished_at = NOW(), error_detail = 'reclaimed: exceeded max run age'
		WHERE state = 'RUNNING' AND started_at < NOW() - $1::interval`,
		olderThan.String(),
	)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, "reclaim stale runs", err)
	}
	return tag.RowsAffected(), nil
}

// CommitAnalysisRun persists a completed run's results atomically:
// result upserts + finishAnalysisRun(COMPLETED) + summary upsert all in
// one transaction, so a partial failure never leaves a RUNNING run
// orphaned while results are half-written. Grounded on the teacher's
// SaveBatch (Begin + defer Rollback + explicit Commit).
func (s *Store) CommitAnalysisRun(
	ctx context.Context,
	runID int64,
	results []models.AnalysisResult,
	summary models.WalletPnlSummary,
	profile *models.WalletBehaviorProfile,
	inputCount int,
) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "begin commit tx", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range results {
		_, err := tx.Exec(ctx, `
			INSERT INTO app.analysis_results
				(wallet_address, token_mint, realized_pnl, total_bought, total_sold, swap_count, scope, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (wallet_address, token_mint, scope) DO UPDATE SET
				realized_pnl = EXCLUDED.realized_pnl,
				total_bought = EXCLUDED.total_bought,
				total_sold = EXCLUDED.total_sold,
				swap_count = EXCLUDED.swap_count,
				last_updated = NOW()`,
			r.WalletAddress, r.TokenMint, r.RealizedPnl, r.TotalBought, r.TotalSold, r.SwapCount, r.Scope,
		)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, "upsert analysis result", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO app.wallet_pnl_summaries
			(wallet_address, total_realized_pnl, total_tokens_traded, win_rate, status, last_analyzed_at)
		VALUES ($1, $2, $3, $4, 'analyzed', NOW())
		ON CONFLICT (wallet_address) DO UPDATE SET
			total_realized_pnl = EXCLUDED.total_realized_pnl,
			total_tokens_traded = EXCLUDED.total_tokens_traded,
			win_rate = EXCLUDED.win_rate,
			status = 'analyzed',
			last_analyzed_at = NOW()`,
		summary.WalletAddress, summary.TotalRealized, summary.TotalTokens, summary.WinRate,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "upsert pnl summary", err)
	}

	if profile != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO app.wallet_behavior_profiles
				(wallet_address, trading_style, avg_hold_time_seconds, preferred_dexes, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (wallet_address) DO UPDATE SET
				trading_style = EXCLUDED.trading_style,
				avg_hold_time_seconds = EXCLUDED.avg_hold_time_seconds,
				preferred_dexes = EXCLUDED.preferred_dexes,
				updated_at = NOW()`,
			profile.WalletAddress, profile.TradingStyle, profile.AvgHoldTimeSeconds, profile.PreferredDexes,
		)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, "upsert behavior profile", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE app.analysis_runs
		SET state = 'COMPLETED', finished_at = NOW(), input_count = $2
		WHERE id = $1`,
		runID, inputCount,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "finish analysis run in tx", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE app.wallets SET last_analyzed_at = NOW(), updated_at = NOW() WHERE address = $1`,
		summary.WalletAddress,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "advance wallet last_analyzed_at", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apierr.Wrap(apierr.KindInternal, "commit analysis run", err)
	}
	return nil
}

func (s *Store) GetPnlSummary(ctx context.Context, walletAddress string) (*models.WalletPnlSummary, error) {
	var sum models.WalletPnlSummary
	err := s.db.QueryRow(ctx, `
		SELECT wallet_address, total_realized_pnl, total_tokens_traded, win_rate, status, last_analyzed_at
		FROM app.wallet_pnl_summaries WHERE wallet_address = $1`,
		walletAddress,
	).Scan(&sum.WalletAddress, &sum.TotalRealized, &sum.TotalTokens, &sum.WinRate, &sum.Status, &sum.LastAnalyzedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "get pnl summary", err)
	}
	return &sum, nil
}

func (s *Store) GetAnalysisResults(ctx context.Context, walletAddress string, limit, offset int) ([]models.AnalysisResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT wallet_address, token_mint, realized_pnl, total_bought, total_sold, swap_count, scope, last_updated
		FROM app.analysis_results
		WHERE wallet_address = $1
		ORDER BY last_updated DESC
		LIMIT $2 OFFSET $3`,
		walletAddress, limit, offset,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "get analysis results", err)
	}
	defer rows.Close()

	var out []models.AnalysisResult
	for rows.Next() {
		var r models.AnalysisResult
		if err := rows.Scan(&r.WalletAddress, &r.TokenMint, &r.RealizedPnl, &r.TotalBought, &r.TotalSold,
			&r.SwapCount, &r.Scope, &r.LastUpdated); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "scan analysis result", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
