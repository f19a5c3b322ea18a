package swap

import (
	"context"
	"math"

	"walletanalytics/internal/models"
)

// resultsStore is the subset of the Persistence Store the similarity
// computation needs: each wallet's traded-mint volumes.
type resultsStore interface {
	GetAnalysisResults(ctx context.Context, walletAddress string, limit, offset int) ([]models.AnalysisResult, error)
}

// PairSimilarity is one wallet pair's cosine similarity over
// trade-volume vectors keyed by token mint.
type PairSimilarity struct {
	WalletA    string  `json:"walletA"`
	WalletB    string  `json:"walletB"`
	Similarity float64 `json:"similarity"`
}

// NewSimilarityCompute builds the queue.NewSimilarityHandler's compute
// collaborator: pairwise cosine similarity of each wallet's
// (total bought + total sold) volume per token mint. vectorType is
// accepted for forward compatibility with alternate vector definitions
// but only "volume" is implemented.
func NewSimilarityCompute(store resultsStore) func(ctx context.Context, wallets []string, vectorType string) (interface{}, error) {
	return func(ctx context.Context, wallets []string, vectorType string) (interface{}, error) {
		vectors := make(map[string]map[string]float64, len(wallets))
		for _, w := range wallets {
			results, err := store.GetAnalysisResults(ctx, w, 1000, 0)
			if err != nil {
				return nil, err
			}
			v := make(map[string]float64, len(results))
			for _, r := range results {
				v[r.TokenMint] = r.TotalBought + r.TotalSold
			}
			vectors[w] = v
		}

		var pairs []PairSimilarity
		for i := 0; i < len(wallets); i++ {
			for j := i + 1; j < len(wallets); j++ {
				pairs = append(pairs, PairSimilarity{
					WalletA:    wallets[i],
					WalletB:    wallets[j],
					Similarity: cosineSimilarity(vectors[wallets[i]], vectors[wallets[j]]),
				})
			}
		}
		return pairs, nil
	}
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for mint, va := range a {
		dot += va * b[mint]
		normA += va * va
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
