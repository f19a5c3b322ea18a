package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type PriceQuote struct {
	Mint           string
	Currency       string
	Price          float64
	PriceChange24h float64
	MarketCap      float64
	Source         string
	AsOf           time.Time
}

// FetchTokenPrice resolves the current USD price of a Solana token mint
// via CoinGecko's token_price-by-contract endpoint, adapted from the
// teacher's single-coin FetchFlowPrice.
func FetchTokenPrice(ctx context.Context, mint string) (PriceQuote, error) {
	url := fmt.Sprintf(
		"https://api.coingecko.com/api/v3/simple/token_price/solana?contract_addresses=%s&vs_currencies=usd&include_24hr_change=true&include_market_cap=true",
		mint,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	req.Header.Set("User-Agent", "walletanalytics/1.0")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PriceQuote{}, fmt.Errorf("coingecko status: %s", resp.Status)
	}

	var result map[string]struct {
		USD          float64 `json:"usd"`
		USDChange24h float64 `json:"usd_24h_change"`
		USDMarketCap float64 `json:"usd_market_cap"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return PriceQuote{}, err
	}

	data, ok := result[mint]
	if !ok {
		return PriceQuote{}, fmt.Errorf("coingecko payload missing mint %s", mint)
	}
	return PriceQuote{
		Mint:           mint,
		Currency:       "usd",
		Price:          data.USD,
		PriceChange24h: data.USDChange24h,
		MarketCap:      data.USDMarketCap,
		Source:         "coingecko",
		AsOf:           time.Now(),
	}, nil
}

// FetchPriceHistory fetches daily prices for a Solana mint from DeFi
// Llama, chain-prefixed ("solana:<mint>"), paginating forward in
// 500-day spans. Adapted from the teacher's FetchDefiLlamaPriceHistory,
// which paginated a bare CoinGecko asset id instead of a chain:address
// pair.
func FetchPriceHistory(ctx context.Context, mint string) ([]PriceQuote, error) {
	var quotes []PriceQuote
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	for start.Before(now) {
		url := fmt.Sprintf(
			"https://coins.llama.fi/chart/solana:%s?start=%d&span=500&period=1d&searchWidth=600",
			mint, start.Unix(),
		)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return quotes, err
		}
		req.Header.Set("User-Agent", "walletanalytics/1.0")

		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return quotes, err
		}

		var result struct {
			Coins map[string]struct {
				Prices []struct {
					Timestamp float64 `json:"timestamp"`
					Price     float64 `json:"price"`
				} `json:"prices"`
			} `json:"coins"`
		}
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			return quotes, fmt.Errorf("decode defillama: %w", err)
		}

		for _, coinData := range result.Coins {
			for _, p := range coinData.Prices {
				if p.Price <= 0 {
					continue
				}
				ts := time.Unix(int64(p.Timestamp), 0).UTC()
				quotes = append(quotes, PriceQuote{Mint: mint, Currency: "usd", Price: p.Price, Source: "defillama", AsOf: ts})
			}
		}
		start = start.AddDate(0, 0, 500)
	}

	return quotes, nil
}
