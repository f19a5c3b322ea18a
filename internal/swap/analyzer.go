package swap

import (
	"sort"

	"walletanalytics/internal/models"
)

// Analyze computes realized P&L per token mint from a wallet's swap
// inputs using weighted-average cost basis, plus a wallet-level P&L
// summary and a coarse trading-style profile. All inputs are assumed
// to belong to the same wallet, per scheduler.Analyzer's contract.
func Analyze(inputs []models.SwapAnalysisInput) ([]models.AnalysisResult, models.WalletPnlSummary, *models.WalletBehaviorProfile) {
	if len(inputs) == 0 {
		return nil, models.WalletPnlSummary{Status: "unanalyzed"}, nil
	}

	sorted := make([]models.SwapAnalysisInput, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	type position struct {
		units     float64
		costBasis float64 // total SOL paid for held units
		firstBuy  *int64  // unix seconds of first open buy, for hold time
	}
	positions := make(map[string]*position)

	var results []models.AnalysisResult
	var holdDurations []int64

	for _, in := range sorted {
		p, ok := positions[in.Mint]
		if !ok {
			p = &position{}
			positions[in.Mint] = p
		}
		ts := in.Timestamp.Unix()

		if in.Direction == "in" {
			p.units += in.TokenAmount
			p.costBasis += in.SolValue
			if p.firstBuy == nil {
				p.firstBuy = &ts
			}
		} else {
			if p.units <= 0 {
				continue // sold with no tracked position; likely an airdrop or untracked transfer in
			}
			avgCost := p.costBasis / p.units
			sellUnits := in.TokenAmount
			if sellUnits > p.units {
				sellUnits = p.units
			}
			realized := in.SolValue - avgCost*sellUnits

			idx := resultIndex(&results, in.WalletAddress, in.Mint)
			results[idx].RealizedPnl += realized
			results[idx].TotalSold += in.SolValue
			results[idx].SwapCount++
			if in.InteractionType == "swap" {
				results[idx].TotalBought += avgCost * sellUnits
			}

			p.units -= sellUnits
			p.costBasis -= avgCost * sellUnits
			if p.firstBuy != nil {
				holdDurations = append(holdDurations, ts-*p.firstBuy)
			}
			if p.units <= 0 {
				p.firstBuy = nil
			}
			continue
		}

		idx := resultIndex(&results, in.WalletAddress, in.Mint)
		results[idx].TotalBought += in.SolValue
		results[idx].SwapCount++
	}

	var totalPnl float64
	var winning int
	for i := range results {
		results[i].LastUpdated = sorted[len(sorted)-1].Timestamp
		totalPnl += results[i].RealizedPnl
		if results[i].RealizedPnl > 0 {
			winning++
		}
	}

	var winRate float64
	if len(results) > 0 {
		winRate = float64(winning) / float64(len(results))
	}

	summary := models.WalletPnlSummary{
		WalletAddress:  inputs[0].WalletAddress,
		TotalRealized:  totalPnl,
		TotalTokens:    len(results),
		WinRate:        winRate,
		Status:         "analyzed",
		LastAnalyzedAt: &sorted[len(sorted)-1].Timestamp,
	}

	var avgHold int64
	if len(holdDurations) > 0 {
		var sum int64
		for _, d := range holdDurations {
			sum += d
		}
		avgHold = sum / int64(len(holdDurations))
	}

	profile := &models.WalletBehaviorProfile{
		WalletAddress:      inputs[0].WalletAddress,
		TradingStyle:       tradingStyle(avgHold, len(sorted)),
		AvgHoldTimeSeconds: avgHold,
		UpdatedAt:          sorted[len(sorted)-1].Timestamp,
	}

	return results, summary, profile
}

func resultIndex(results *[]models.AnalysisResult, wallet, mint string) int {
	for i, r := range *results {
		if r.TokenMint == mint {
			return i
		}
	}
	// Scope is stamped by the caller once the run's scope is known.
	*results = append(*results, models.AnalysisResult{WalletAddress: wallet, TokenMint: mint})
	return len(*results) - 1
}

// tradingStyle buckets a wallet by average hold time and trade volume;
// thresholds are a rough heuristic, not a modeled distribution.
func tradingStyle(avgHoldSeconds int64, swapCount int) string {
	switch {
	case avgHoldSeconds > 0 && avgHoldSeconds < 300 && swapCount > 20:
		return "sniper"
	case avgHoldSeconds < 3600:
		return "degen"
	case avgHoldSeconds < 86400*3:
		return "swing"
	default:
		return "conservative"
	}
}
