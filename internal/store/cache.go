package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"walletanalytics/internal/apierr"
	"walletanalytics/internal/models"
)

// InsertTransactionsIfAbsent bulk-inserts raw cache rows, idempotent on
// signature. Grounded on the teacher's pgx.Batch/SendBatch upsert shape
// (UpsertTokenTransfers): one Queue() per row, one SendBatch, drain
// exactly len(batch) results.
func (s *Store) InsertTransactionsIfAbsent(ctx context.Context, batch []models.RawTransactionCache) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, row := range batch {
		b.Queue(`
			INSERT INTO app.raw_transaction_cache (signature, slot, block_time, parsed, created_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (signature) DO NOTHING`,
			row.Signature, row.Slot, row.BlockTime, row.Parsed,
		)
	}

	br := s.db.SendBatch(ctx, b)
	defer br.Close()

	inserted := 0
	for range batch {
		tag, err := br.Exec()
		if err != nil {
			return inserted, apierr.Wrap(apierr.KindInternal, "insert raw transactions", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ExistingSignatures returns which of the given signatures are already
// cached, so the Fetcher only hits the provider for misses.
func (s *Store) ExistingSignatures(ctx context.Context, signatures []string) (map[string]bool, error) {
	out := make(map[string]bool, len(signatures))
	if len(signatures) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT signature FROM app.raw_transaction_cache WHERE signature = ANY($1)`,
		signatures,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "lookup existing signatures", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "scan signature", err)
		}
		out[sig] = true
	}
	return out, rows.Err()
}

// MostRecentSignatureTime returns the cache row with the newest block
// time among the wallet's swap inputs, or nil if it has none. Used by the
// Smart-Fetch Controller's Phase Newer to bound the provider query.
func (s *Store) MostRecentSignatureTime(ctx context.Context, walletAddress string) (*models.RawTransactionCache, error) {
	var row models.RawTransactionCache
	err := s.db.QueryRow(ctx, `
		SELECT r.signature, r.slot, r.block_time, r.parsed, r.created_at
		FROM app.raw_transaction_cache r
		JOIN app.swap_analysis_inputs s ON s.signature = r.signature
		WHERE s.wallet_address = $1
		ORDER BY r.block_time DESC
		LIMIT 1`,
		walletAddress,
	).Scan(&row.Signature, &row.Slot, &row.BlockTime, &row.Parsed, &row.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "most recent signature", err)
	}
	return &row, nil
}

func (s *Store) EarliestSignatureTime(ctx context.Context, walletAddress string) (*models.RawTransactionCache, error) {
	var row models.RawTransactionCache
	err := s.db.QueryRow(ctx, `
		SELECT r.signature, r.slot, r.block_time, r.parsed, r.created_at
		FROM app.raw_transaction_cache r
		JOIN app.swap_analysis_inputs s ON s.signature = r.signature
		WHERE s.wallet_address = $1
		ORDER BY r.block_time ASC
		LIMIT 1`,
		walletAddress,
	).Scan(&row.Signature, &row.Slot, &row.BlockTime, &row.Parsed, &row.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "earliest signature", err)
	}
	return &row, nil
}

// InsertSwapInputsIfAbsent bulk-inserts mapper output, idempotent on
// (wallet_address, signature, direction, mint).
func (s *Store) InsertSwapInputsIfAbsent(ctx context.Context, batch []models.SwapAnalysisInput) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, row := range batch {
		b.Queue(`
			INSERT INTO app.swap_analysis_inputs
				(wallet_address, signature, direction, mint, sol_value, token_amount, fee_lamports, interaction_type, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (wallet_address, signature, direction, mint) DO NOTHING`,
			row.WalletAddress, row.Signature, row.Direction, row.Mint,
			row.SolValue, row.TokenAmount, row.FeeLamports, row.InteractionType, row.Timestamp,
		)
	}

	br := s.db.SendBatch(ctx, b)
	defer br.Close()

	inserted := 0
	for range batch {
		tag, err := br.Exec()
		if err != nil {
			return inserted, apierr.Wrap(apierr.KindInternal, "insert swap inputs", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *Store) GetSwapInputs(ctx context.Context, walletAddress string, since *int64) ([]models.SwapAnalysisInput, error) {
	query := `
		SELECT id, wallet_address, signature, direction, mint, sol_value, token_amount, fee_lamports, interaction_type, timestamp
		FROM app.swap_analysis_inputs
		WHERE wallet_address = $1`
	args := []interface{}{walletAddress}
	if since != nil {
		query += ` AND extract(epoch FROM timestamp) >= $2`
		args = append(args, *since)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "get swap inputs", err)
	}
	defer rows.Close()

	var out []models.SwapAnalysisInput
	for rows.Next() {
		var r models.SwapAnalysisInput
		if err := rows.Scan(&r.ID, &r.WalletAddress, &r.Signature, &r.Direction, &r.Mint,
			&r.SolValue, &r.TokenAmount, &r.FeeLamports, &r.InteractionType, &r.Timestamp); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "scan swap input", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
