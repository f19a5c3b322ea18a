package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"walletanalytics/internal/apierr"
	"walletanalytics/internal/models"
)

// UpsertWallet creates the wallet row lazily on first sync; never deletes.
func (s *Store) UpsertWallet(ctx context.Context, address string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.QueryRow(ctx, `
		INSERT INTO app.wallets (address, classification, tx_count, created_at, updated_at)
		VALUES ($1, 'unknown', 0, NOW(), NOW())
		ON CONFLICT (address) DO UPDATE SET updated_at = NOW()
		RETURNING address, classification, restricted_reason, last_analyzed_at, tx_count, created_at, updated_at`,
		address,
	).Scan(&w.Address, &w.Classification, &w.RestrictedReason, &w.LastAnalyzedAt, &w.TxCount, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "upsert wallet", err)
	}
	return &w, nil
}

func (s *Store) GetWallet(ctx context.Context, address string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.QueryRow(ctx, `
		SELECT address, classification, restricted_reason, last_analyzed_at, tx_count, created_at, updated_at
		FROM app.wallets WHERE address = $1`,
		address,
	).Scan(&w.Address, &w.Classification, &w.RestrictedReason, &w.LastAnalyzedAt, &w.TxCount, &w.CreatedAt, &w.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "wallet not found: "+address)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "get wallet", err)
	}
	return &w, nil
}

// SetClassification persists the Wallet Classifier's verdict.
func (s *Store) SetClassification(ctx context.Context, address string, c models.Classification) error {
	_, err := s.db.Exec(ctx, `
		UPDATE app.wallets SET classification = $2, updated_at = NOW() WHERE address = $1`,
		address, c,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "set classification", err)
	}
	return nil
}

func (s *Store) Restrict(ctx context.Context, address, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE app.wallets SET classification = 'restricted', restricted_reason = $2, updated_at = NOW()
		WHERE address = $1`,
		address, reason,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "restrict wallet", err)
	}
	return nil
}

func (s *Store) CountTransactions(ctx context.Context, address string) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM app.swap_analysis_inputs WHERE wallet_address = $1`,
		address,
	).Scan(&count)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, "count transactions", err)
	}
	return count, nil
}

// TxDensityWindow reports the max number of the wallet's swap-input rows
// that fall into one fixed, epoch-aligned window-second bucket of its
// history, used by the classifier's high_frequency threshold. Bursts that
// straddle a bucket boundary are split across two buckets.
func (s *Store) TxDensityWindow(ctx context.Context, address string, window int64) (int, error) {
	var maxCount int
	err := s.db.QueryRow(ctx, `
		WITH buckets AS (
			SELECT count(*) AS c
			FROM app.swap_analysis_inputs s1
			WHERE s1.wallet_address = $1
			GROUP BY floor(extract(epoch FROM s1.timestamp) / $2)
		)
		SELECT COALESCE(MAX(c), 0) FROM buckets`,
		address, window,
	).Scan(&maxCount)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, "tx density window", err)
	}
	return maxCount, nil
}
