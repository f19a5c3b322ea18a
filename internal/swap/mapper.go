// Package swap supplies the two pluggable pure functions the core
// orchestration layer treats as out-of-core collaborators: the
// transaction-to-SwapAnalysisInput mapper (classifier.Mapper) and the
// P&L/behavior analyzer (scheduler.Analyzer). Grounded on the
// teacher's ingester worker shape: decode one provider payload, return
// a slice of rows plus a small stats struct, no side effects.
package swap

import (
	"encoding/json"
	"math"

	"walletanalytics/internal/classifier"
	"walletanalytics/internal/fetcher"
	"walletanalytics/internal/models"
)

const lamportsPerSol = 1_000_000_000

// txJSON mirrors just the fields of Solana's standard getTransaction
// JSON response this package needs; the rest of the provider's
// payload is stored verbatim in the cache and never parsed.
type txJSON struct {
	Transaction struct {
		Message struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
	Meta struct {
		Fee               uint64          `json:"fee"`
		PreBalances       []uint64        `json:"preBalances"`
		PostBalances      []uint64        `json:"postBalances"`
		PreTokenBalances  []tokenBalance  `json:"preTokenBalances"`
		PostTokenBalances []tokenBalance  `json:"postTokenBalances"`
	} `json:"meta"`
}

type tokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	UiTokenAmount struct {
		UiAmount float64 `json:"uiAmount"`
	} `json:"uiTokenAmount"`
}

// Map decodes a provider-parsed transaction's pre/post SOL and token
// balances into one SwapAnalysisInput per token mint whose balance
// moved for the tracked wallet, classifying the wallet's own SOL delta
// as the swap's consideration. interaction_type is "swap" only when a
// token leg and an opposing SOL leg both moved; otherwise "transfer".
func Map(wallet string, tx *fetcher.ParsedTransaction) ([]models.SwapAnalysisInput, classifier.MapStats) {
	var parsed txJSON
	if err := json.Unmarshal(tx.Raw, &parsed); err != nil {
		return nil, classifier.MapStats{Skipped: 1}
	}

	acctIdx := -1
	for i, k := range parsed.Transaction.Message.AccountKeys {
		if k == wallet {
			acctIdx = i
			break
		}
	}
	if acctIdx < 0 {
		return nil, classifier.MapStats{Skipped: 1}
	}

	var solDelta float64
	if acctIdx < len(parsed.Meta.PreBalances) && acctIdx < len(parsed.Meta.PostBalances) {
		solDelta = float64(int64(parsed.Meta.PostBalances[acctIdx])-int64(parsed.Meta.PreBalances[acctIdx])) / lamportsPerSol
	}

	pre := tokenBalancesByMint(parsed.Meta.PreTokenBalances, acctIdx)
	post := tokenBalancesByMint(parsed.Meta.PostTokenBalances, acctIdx)

	mints := make(map[string]bool, len(pre)+len(post))
	for m := range pre {
		mints[m] = true
	}
	for m := range post {
		mints[m] = true
	}

	var rows []models.SwapAnalysisInput
	var stats classifier.MapStats
	for mint := range mints {
		delta := post[mint] - pre[mint]
		if delta == 0 {
			continue
		}
		direction := "out"
		interaction := "transfer"
		if delta > 0 {
			direction = "in"
			if solDelta < 0 {
				interaction = "swap"
			}
		} else if solDelta > 0 {
			interaction = "swap"
		}
		if interaction == "swap" {
			stats.Swaps++
		} else {
			stats.Transfers++
		}
		rows = append(rows, models.SwapAnalysisInput{
			WalletAddress:   wallet,
			Signature:       tx.Signature.String(),
			Direction:       direction,
			Mint:            mint,
			SolValue:        math.Abs(solDelta),
			TokenAmount:     math.Abs(delta),
			FeeLamports:     int64(parsed.Meta.Fee),
			InteractionType: interaction,
			Timestamp:       tx.BlockTime,
		})
	}
	return rows, stats
}

func tokenBalancesByMint(balances []tokenBalance, acctIdx int) map[string]float64 {
	out := make(map[string]float64, len(balances))
	for _, b := range balances {
		if b.AccountIndex != acctIdx {
			continue
		}
		out[b.Mint] += b.UiTokenAmount.UiAmount
	}
	return out
}
