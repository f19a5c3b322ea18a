package swap

import (
	"testing"
	"time"

	"walletanalytics/internal/models"
)

func TestAnalyze_RealizedPnlRoundTrip(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inputs := []models.SwapAnalysisInput{
		{WalletAddress: "W1", Mint: "MINT_A", Direction: "in", SolValue: 10, TokenAmount: 100, InteractionType: "swap", Timestamp: base},
		{WalletAddress: "W1", Mint: "MINT_A", Direction: "out", SolValue: 15, TokenAmount: 100, InteractionType: "swap", Timestamp: base.Add(time.Hour)},
	}

	results, summary, profile := Analyze(inputs)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if got, want := results[0].RealizedPnl, 5.0; got != want {
		t.Fatalf("realized pnl = %v, want %v", got, want)
	}
	if summary.Status != "analyzed" {
		t.Fatalf("status = %q, want analyzed", summary.Status)
	}
	if summary.WinRate != 1 {
		t.Fatalf("win rate = %v, want 1", summary.WinRate)
	}
	if profile == nil {
		t.Fatal("expected a behavior profile")
	}
	if profile.AvgHoldTimeSeconds != int64(time.Hour.Seconds()) {
		t.Fatalf("avg hold = %v, want %v", profile.AvgHoldTimeSeconds, time.Hour.Seconds())
	}
}

func TestAnalyze_SellWithNoPositionIsSkipped(t *testing.T) {
	t.Parallel()

	inputs := []models.SwapAnalysisInput{
		{WalletAddress: "W1", Mint: "MINT_B", Direction: "out", SolValue: 5, TokenAmount: 50, InteractionType: "transfer", Timestamp: time.Now()},
	}
	results, summary, _ := Analyze(inputs)
	if len(results) != 0 {
		t.Fatalf("expected no results for an untracked sell, got %d", len(results))
	}
	if summary.TotalTokens != 0 {
		t.Fatalf("expected zero tokens traded, got %d", summary.TotalTokens)
	}
}

func TestAnalyze_EmptyInputsYieldUnanalyzed(t *testing.T) {
	t.Parallel()

	results, summary, profile := Analyze(nil)
	if results != nil || profile != nil {
		t.Fatal("expected nil results and profile for empty input")
	}
	if summary.Status != "unanalyzed" {
		t.Fatalf("status = %q, want unanalyzed", summary.Status)
	}
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	identical := cosineSimilarity(map[string]float64{"A": 1, "B": 2}, map[string]float64{"A": 1, "B": 2})
	if identical < 0.999 {
		t.Fatalf("identical vectors similarity = %v, want ~1", identical)
	}

	disjoint := cosineSimilarity(map[string]float64{"A": 1}, map[string]float64{"B": 1})
	if disjoint != 0 {
		t.Fatalf("disjoint vectors similarity = %v, want 0", disjoint)
	}

	empty := cosineSimilarity(map[string]float64{}, map[string]float64{"A": 1})
	if empty != 0 {
		t.Fatalf("empty vector similarity = %v, want 0", empty)
	}
}
