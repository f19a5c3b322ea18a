package classifier

import (
	"context"
	"testing"

	"walletanalytics/internal/models"
)

type fakeStore struct {
	wallet   *models.Wallet
	density  int
	setCalls []models.Classification
}

func (f *fakeStore) TxDensityWindow(ctx context.Context, address string, window int64) (int, error) {
	return f.density, nil
}
func (f *fakeStore) SetClassification(ctx context.Context, address string, c models.Classification) error {
	f.setCalls = append(f.setCalls, c)
	return nil
}
func (f *fakeStore) GetWallet(ctx context.Context, address string) (*models.Wallet, error) {
	return f.wallet, nil
}
func (f *fakeStore) MostRecentSignatureTime(ctx context.Context, walletAddress string) (*models.RawTransactionCache, error) {
	return nil, nil
}
func (f *fakeStore) EarliestSignatureTime(ctx context.Context, walletAddress string) (*models.RawTransactionCache, error) {
	return nil, nil
}
func (f *fakeStore) CountTransactions(ctx context.Context, address string) (int64, error) {
	return 0, nil
}
func (f *fakeStore) InsertSwapInputsIfAbsent(ctx context.Context, batch []models.SwapAnalysisInput) (int, error) {
	return len(batch), nil
}

func TestClassify_RestrictedShortCircuits(t *testing.T) {
	t.Parallel()
	store := &fakeStore{wallet: &models.Wallet{Address: "W1", Classification: models.ClassificationRestricted}, density: 9999}
	c := New(store)

	verdict, err := c.Classify(context.Background(), "W1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != models.ClassificationRestricted {
		t.Fatalf("verdict = %v, want restricted", verdict)
	}
	if len(store.setCalls) != 0 {
		t.Fatal("restricted wallets must not have their classification overwritten")
	}
}

func TestClassify_HighFrequencyThreshold(t *testing.T) {
	t.Parallel()
	store := &fakeStore{wallet: &models.Wallet{Address: "W1"}, density: highFrequencyThreshold + 1}
	c := New(store)

	verdict, err := c.Classify(context.Background(), "W1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != models.ClassificationHighFrequency {
		t.Fatalf("verdict = %v, want high_frequency", verdict)
	}
	if len(store.setCalls) != 1 || store.setCalls[0] != models.ClassificationHighFrequency {
		t.Fatalf("expected classification to be persisted, got %v", store.setCalls)
	}
}

func TestClassify_AtThresholdStaysNormal(t *testing.T) {
	t.Parallel()
	store := &fakeStore{wallet: &models.Wallet{Address: "W1"}, density: highFrequencyThreshold}
	c := New(store)

	verdict, err := c.Classify(context.Background(), "W1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != models.ClassificationNormal {
		t.Fatalf("verdict = %v, want normal at exactly the threshold", verdict)
	}
}
