// Package classifier implements the Wallet Classifier (classify ->
// normal | high_frequency) and the Smart-Fetch Controller that
// orchestrates forward+backward pagination against the Fetcher to
// reach a target store count. Grounded on the teacher's stateless
// FetchXxx-returns-result-struct shape (ingester/worker.go) and the
// dedupe-then-map pattern from the forohtoo Solana-polling activities.
package classifier

import (
	"context"
	"log"
	"time"

	"github.com/gagliardetto/solana-go"

	"walletanalytics/internal/fetcher"
	"walletanalytics/internal/models"
)

// densityWindowSeconds and highFrequencyThreshold resolve spec's Open
// Question: a wallet is high_frequency when more than this many of its
// swap-input rows fall into one fixed 10-minute bucket (see
// store.TxDensityWindow).
const (
	densityWindowSeconds  = 600
	highFrequencyThreshold = 20

	// highFrequencyCeiling bounds effectiveTarget for high_frequency
	// wallets so a single sync can never trigger an unbounded fetch.
	highFrequencyCeiling = 2000
)

// Store is the subset of the Persistence Store the classifier needs.
type Store interface {
	TxDensityWindow(ctx context.Context, address string, window int64) (int, error)
	SetClassification(ctx context.Context, address string, c models.Classification) error
	GetWallet(ctx context.Context, address string) (*models.Wallet, error)
	MostRecentSignatureTime(ctx context.Context, walletAddress string) (*models.RawTransactionCache, error)
	EarliestSignatureTime(ctx context.Context, walletAddress string) (*models.RawTransactionCache, error)
	CountTransactions(ctx context.Context, address string) (int64, error)
	InsertSwapInputsIfAbsent(ctx context.Context, batch []models.SwapAnalysisInput) (int, error)
}

type Classifier struct {
	store Store
}

func New(store Store) *Classifier {
	return &Classifier{store: store}
}

// Classify reads persisted history density; unknown wallets are
// auto-classified and persisted on first full fetch.
func (c *Classifier) Classify(ctx context.Context, address string) (models.Classification, error) {
	w, err := c.store.GetWallet(ctx, address)
	if err != nil {
		return "", err
	}
	if w.Classification == models.ClassificationRestricted {
		return w.Classification, nil
	}

	density, err := c.store.TxDensityWindow(ctx, address, densityWindowSeconds)
	if err != nil {
		return "", err
	}

	verdict := models.ClassificationNormal
	if density > highFrequencyThreshold {
		verdict = models.ClassificationHighFrequency
	}
	if err := c.store.SetClassification(ctx, address, verdict); err != nil {
		return "", err
	}
	return verdict, nil
}

// Mapper turns a parsed transaction into zero or more SwapAnalysisInput
// rows; it is a pure function and records per-run stats.
type MapStats struct {
	Swaps     int
	Transfers int
	Skipped   int
}

type Mapper func(wallet string, tx *fetcher.ParsedTransaction) ([]models.SwapAnalysisInput, MapStats)

// Controller runs the Smart-Fetch algorithm (spec.md §4.4).
type Controller struct {
	classifier *Classifier
	fetcher    *fetcher.Fetcher
	store      Store
	mapTx      Mapper
}

func NewController(classifier *Classifier, f *fetcher.Fetcher, store Store, mapper Mapper) *Controller {
	return &Controller{classifier: classifier, fetcher: f, store: store, mapTx: mapper}
}

type Summary struct {
	NewFetched      int
	OlderFetched    int
	FinalStoreCount int64
	Stats           MapStats
}

func (c *Controller) Run(ctx context.Context, wallet solana.PublicKey, targetCount int, since *time.Time) (*Summary, error) {
	addr := wallet.String()

	verdict, err := c.classifier.Classify(ctx, addr)
	if err != nil {
		return nil, err
	}

	effectiveTarget := targetCount
	if verdict == models.ClassificationHighFrequency && effectiveTarget > highFrequencyCeiling {
		effectiveTarget = highFrequencyCeiling
		log.Printf("classifier: capping %s to %d (high_frequency)", addr, effectiveTarget)
	}

	sum := &Summary{}

	// Phase Newer: signatures more recent than the most-recent stored one.
	var newerUntil *solana.Signature
	if recent, err := c.store.MostRecentSignatureTime(ctx, addr); err != nil {
		return nil, err
	} else if recent != nil {
		sig, err := solana.SignatureFromBase58(recent.Signature)
		if err == nil {
			newerUntil = &sig
		}
	}

	newFetched, err := c.fetchMapInsert(ctx, wallet, addr, effectiveTarget, nil, newerUntil, sum)
	if err != nil {
		return nil, err
	}
	sum.NewFetched = newFetched

	storeCount, err := c.store.CountTransactions(ctx, addr)
	if err != nil {
		return nil, err
	}
	sum.FinalStoreCount = storeCount
	if storeCount >= int64(effectiveTarget) {
		return sum, nil
	}

	// Phase Older: signatures older than the earliest stored one.
	var olderBefore *solana.Signature
	if earliest, err := c.store.EarliestSignatureTime(ctx, addr); err != nil {
		return nil, err
	} else if earliest != nil {
		sig, err := solana.SignatureFromBase58(earliest.Signature)
		if err == nil {
			olderBefore = &sig
		}
	}

	remaining := effectiveTarget - int(storeCount)
	olderFetched, err := c.fetchMapInsert(ctx, wallet, addr, remaining, olderBefore, nil, sum)
	if err != nil {
		return nil, err
	}
	sum.OlderFetched = olderFetched

	storeCount, err = c.store.CountTransactions(ctx, addr)
	if err != nil {
		return nil, err
	}
	sum.FinalStoreCount = storeCount
	return sum, nil
}

func (c *Controller) fetchMapInsert(ctx context.Context, wallet solana.PublicKey, addr string, limit int, before, until *solana.Signature, sum *Summary) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	sigs, err := c.fetcher.FetchSignatures(ctx, wallet, limit, before, until)
	if err != nil {
		return 0, err
	}
	if len(sigs) == 0 {
		return 0, nil
	}

	raw := make([]solana.Signature, len(sigs))
	for i, s := range sigs {
		raw[i] = s.Signature
	}
	details, err := c.fetcher.FetchParsedDetails(ctx, raw)
	if err != nil {
		return 0, err
	}

	var toInsert []models.SwapAnalysisInput
	for _, sig := range raw {
		tx, ok := details[sig]
		if !ok {
			continue
		}
		rows, stats := c.mapTx(addr, tx)
		sum.Stats.Swaps += stats.Swaps
		sum.Stats.Transfers += stats.Transfers
		sum.Stats.Skipped += stats.Skipped
		toInsert = append(toInsert, rows...)
	}

	if len(toInsert) > 0 {
		if _, err := c.store.InsertSwapInputsIfAbsent(ctx, toInsert); err != nil {
			return 0, err
		}
	}

	return len(raw), nil
}
