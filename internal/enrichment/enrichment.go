package enrichment

import (
	"context"
	"log"
)

// Service enriches token mints with current USD prices, backing the
// enrichment-operations queue's enrich-tokens job kind (spec.md §4.5).
type Service struct {
	cache *PriceCache
}

func New(cache *PriceCache) *Service {
	return &Service{cache: cache}
}

// Enrich fetches and caches a current price quote for each mint,
// logging and skipping ones that fail rather than aborting the whole
// batch -- a partial enrichment is still useful to the dashboard.
func (s *Service) Enrich(ctx context.Context, mints []string) error {
	for _, mint := range mints {
		quote, err := FetchTokenPrice(ctx, mint)
		if err != nil {
			log.Printf("enrichment: price lookup failed for %s: %v", mint, err)
			continue
		}
		s.cache.Append(mint, []DailyPrice{{Date: quote.AsOf, Price: quote.Price}})
	}
	return nil
}

func (s *Service) GetPrice(mint string) (float64, bool) {
	return s.cache.GetLatestPrice(mint)
}
