// Package fetcher is the Rate-Limited Fetcher: a bounded-concurrency
// client for the external Solana provider with token-bucket pacing and
// a two-phase fetch (signatures -> parsed details) backed by a
// per-signature cache. Retry/backoff is grounded directly on the
// teacher's flow/client.go withRetry: classify the error, back off
// exponentially, honor ctx.Done() on every wait.
package fetcher

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"

	"walletanalytics/internal/apierr"
	"walletanalytics/internal/models"
)

// Signature is one page entry from fetchSignatures.
type Signature struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime time.Time
}

// ParsedTransaction is the provider's parsed-detail payload for one signature.
type ParsedTransaction struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime time.Time
	Raw       []byte // provider-specific JSON blob, stored verbatim in the cache
}

// Provider is the external collaborator (out of this core's scope per
// the spec: "specified only by the interface the core consumes").
type Provider interface {
	ListSignatures(ctx context.Context, wallet solana.PublicKey, limit int, before, until *solana.Signature) ([]Signature, error)
	GetParsedTransaction(ctx context.Context, sig solana.Signature) (*ParsedTransaction, error)
}

// Cache is the subset of the Persistence Store the Fetcher needs.
type Cache interface {
	ExistingSignatures(ctx context.Context, signatures []string) (map[string]bool, error)
	InsertTransactionsIfAbsent(ctx context.Context, batch []models.RawTransactionCache) (int, error)
}

// TransientError classes that retry; anything else is permanent.
var (
	ErrRateLimited         = errors.New("provider rate limited")
	ErrExternalUnavailable = errors.New("provider unavailable")
)

type Config struct {
	RPS          float64 // EXTERNAL_API_RPS, default 10
	DetailFanout int     // default 3, per spec's "source uses 3 for details"
	MaxRetries   int
	BaseBackoff  time.Duration
}

func ConfigFromEnv() Config {
	rps := 10.0
	if v := os.Getenv("EXTERNAL_API_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	fanout := 3
	if v := os.Getenv("FETCHER_DETAIL_FANOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			fanout = n
		}
	}
	return Config{RPS: rps, DetailFanout: fanout, MaxRetries: 5, BaseBackoff: 500 * time.Millisecond}
}

type Fetcher struct {
	provider Provider
	cache    Cache
	limiter  *rate.Limiter
	cfg      Config
}

func New(provider Provider, cache Cache, cfg Config) *Fetcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.DetailFanout == 0 {
		cfg.DetailFanout = 3
	}
	burst := int(cfg.RPS)
	if burst < 1 {
		burst = 1
	}
	return &Fetcher{
		provider: provider,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), burst),
		cfg:      cfg,
	}
}

// withRetry mirrors flow/client.go: wait on the shared limiter first,
// call fn, and on a transient error back off exponentially honoring
// ctx.Done(); a non-transient error returns immediately.
func (f *Fetcher) withRetry(ctx context.Context, fn func() error) error {
	backoff := f.cfg.BaseBackoff
	for attempt := 0; ; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return apierr.Wrap(apierr.KindTimeout, "rate limiter wait", err)
		}

		err := fn()
		if err == nil {
			return nil
		}

		transient := errors.Is(err, ErrRateLimited) || errors.Is(err, ErrExternalUnavailable)
		if !transient || attempt >= f.cfg.MaxRetries-1 {
			if errors.Is(err, ErrRateLimited) {
				return apierr.Wrap(apierr.KindRateLimited, "provider rate limited", err)
			}
			if errors.Is(err, ErrExternalUnavailable) {
				return apierr.Wrap(apierr.KindExternalUnavailable, "provider unavailable", err)
			}
			return apierr.Wrap(apierr.KindInternal, "fetch failed", err)
		}

		wait := backoff * time.Duration(1<<attempt)
		log.Printf("fetcher: transient error (attempt %d/%d), retrying in %s: %v", attempt+1, f.cfg.MaxRetries, wait, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// FetchSignatures pages internally but caps output at limit: a hard
// ceiling, excess discarded even if the provider over-returns on a page.
func (f *Fetcher) FetchSignatures(ctx context.Context, wallet solana.PublicKey, limit int, before, until *solana.Signature) ([]Signature, error) {
	var out []Signature
	cursor := before

	for len(out) < limit {
		var page []Signature
		err := f.withRetry(ctx, func() error {
			p, err := f.provider.ListSignatures(ctx, wallet, limit-len(out), cursor, until)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return out, err
		}
		if len(page) == 0 {
			break
		}
		for _, sig := range page {
			if len(out) >= limit {
				break
			}
			out = append(out, sig)
		}
		last := page[len(page)-1].Signature
		cursor = &last
	}
	return out, nil
}

// FetchParsedDetails de-dupes against the cache first; only misses hit
// the provider, via a bounded fan-out pool. New rows are written back
// in a single batched insert-if-absent.
func (f *Fetcher) FetchParsedDetails(ctx context.Context, sigs []solana.Signature) (map[solana.Signature]*ParsedTransaction, error) {
	result := make(map[solana.Signature]*ParsedTransaction, len(sigs))
	if len(sigs) == 0 {
		return result, nil
	}

	strSigs := make([]string, len(sigs))
	for i, s := range sigs {
		strSigs[i] = s.String()
	}
	existing, err := f.cache.ExistingSignatures(ctx, strSigs)
	if err != nil {
		return nil, err
	}

	var misses []solana.Signature
	for _, s := range sigs {
		if !existing[s.String()] {
			misses = append(misses, s)
		}
	}

	type fetched struct {
		sig  solana.Signature
		tx   *ParsedTransaction
		err  error
	}
	results := make(chan fetched, len(misses))
	sem := make(chan struct{}, f.cfg.DetailFanout)
	var wg sync.WaitGroup

	for _, sig := range misses {
		sig := sig
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			var tx *ParsedTransaction
			err := f.withRetry(ctx, func() error {
				t, err := f.provider.GetParsedTransaction(ctx, sig)
				if err != nil {
					return err
				}
				tx = t
				return nil
			})
			results <- fetched{sig: sig, tx: tx, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var batch []models.RawTransactionCache
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		result[r.sig] = r.tx
		batch = append(batch, models.RawTransactionCache{
			Signature: r.sig.String(),
			Slot:      r.tx.Slot,
			BlockTime: r.tx.BlockTime,
			Parsed:    r.tx.Raw,
		})
	}

	// Partial batch failures surface with the successes retained: write
	// whatever succeeded even if some signatures errored.
	if len(batch) > 0 {
		if _, err := f.cache.InsertTransactionsIfAbsent(ctx, batch); err != nil {
			return result, err
		}
	}

	return result, firstErr
}
