package models

import "time"

// Classification is the coarse risk/behavior bucket for a wallet.
type Classification string

const (
	ClassificationUnknown       Classification = "unknown"
	ClassificationNormal        Classification = "normal"
	ClassificationHighFrequency Classification = "high_frequency"
	ClassificationRestricted    Classification = "restricted"
)

// Scope is one tier of the dashboard analysis ladder.
type Scope string

const (
	ScopeFlash   Scope = "flash"
	ScopeWorking Scope = "working"
	ScopeDeep    Scope = "deep"
)

// Wallet represents the 'wallets' table.
type Wallet struct {
	Address          string         `json:"address" db:"address"`
	Classification   Classification `json:"classification" db:"classification"`
	RestrictedReason *string        `json:"restrictedReason,omitempty" db:"restricted_reason"`
	LastAnalyzedAt   *time.Time     `json:"lastAnalyzedAt,omitempty" db:"last_analyzed_at"`
	TxCount          int64          `json:"txCount" db:"tx_count"`
	CreatedAt        time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time      `json:"updatedAt" db:"updated_at"`
}

// RawTransactionCache represents the 'raw_transaction_cache' table, keyed by signature.
type RawTransactionCache struct {
	Signature string    `json:"signature" db:"signature"`
	Slot      uint64    `json:"slot" db:"slot"`
	BlockTime time.Time `json:"blockTime" db:"block_time"`
	Parsed    []byte    `json:"parsed" db:"parsed"` // JSONB blob, provider-specific shape
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// SwapAnalysisInput represents one row derived by the transaction mapper
// from a raw cache entry; unique on (wallet_address, signature, direction, mint).
type SwapAnalysisInput struct {
	ID              int64     `json:"id" db:"id"`
	WalletAddress   string    `json:"walletAddress" db:"wallet_address"`
	Signature       string    `json:"signature" db:"signature"`
	Direction       string    `json:"direction" db:"direction"` // "in" | "out"
	Mint            string    `json:"mint" db:"mint"`
	SolValue        float64   `json:"solValue" db:"sol_value"`
	TokenAmount     float64   `json:"tokenAmount" db:"token_amount"`
	FeeLamports     int64     `json:"feeLamports" db:"fee_lamports"`
	InteractionType string    `json:"interactionType" db:"interaction_type"` // "swap" | "transfer" | ...
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
}

// RunState is the lifecycle state of an AnalysisRun.
type RunState string

const (
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
)

// AnalysisRun records one execution of the analysis pipeline for a wallet.
type AnalysisRun struct {
	ID          int64      `json:"id" db:"id"`
	WalletAddr  string     `json:"walletAddress" db:"wallet_address"`
	Scope       Scope      `json:"scope" db:"scope"`
	State       RunState   `json:"state" db:"state"`
	StartedAt   time.Time  `json:"startedAt" db:"started_at"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty" db:"finished_at"`
	InputCount  int        `json:"inputCount" db:"input_count"`
	ErrorDetail *string    `json:"errorDetail,omitempty" db:"error_detail"`
}

// AnalysisResult is a per (wallet, tokenMint) P&L row, upserted per run.
type AnalysisResult struct {
	WalletAddress  string    `json:"walletAddress" db:"wallet_address"`
	TokenMint      string    `json:"tokenMint" db:"token_mint"`
	RealizedPnl    float64   `json:"realizedPnl" db:"realized_pnl"`
	TotalBought    float64   `json:"totalBought" db:"total_bought"`
	TotalSold      float64   `json:"totalSold" db:"total_sold"`
	SwapCount      int       `json:"swapCount" db:"swap_count"`
	Scope          Scope     `json:"scope" db:"scope"`
	LastUpdated    time.Time `json:"lastUpdated" db:"last_updated"`
}

// WalletPnlSummary is a per-wallet aggregate snapshot, upserted on each successful run.
type WalletPnlSummary struct {
	WalletAddress  string     `json:"walletAddress" db:"wallet_address"`
	TotalRealized  float64    `json:"totalRealizedPnl" db:"total_realized_pnl"`
	TotalTokens    int        `json:"totalTokensTraded" db:"total_tokens_traded"`
	WinRate        float64    `json:"winRate" db:"win_rate"`
	Status         string     `json:"status" db:"status"` // "unanalyzed" | "analyzed" | "restricted"
	LastAnalyzedAt *time.Time `json:"lastAnalyzedAt,omitempty" db:"last_analyzed_at"`
}

// WalletBehaviorProfile is a per-wallet behavior snapshot, upserted on each successful run.
// Field shape is descriptive only; the classification math is an out-of-core analyzer.
type WalletBehaviorProfile struct {
	WalletAddress      string   `json:"walletAddress" db:"wallet_address"`
	TradingStyle       string   `json:"tradingStyle" db:"trading_style"` // "sniper","swing","degen","conservative"
	AvgHoldTimeSeconds int64    `json:"avgHoldTimeSeconds" db:"avg_hold_time_seconds"`
	PreferredDexes     []string `json:"preferredDexes" db:"preferred_dexes"`
	UpdatedAt          time.Time `json:"updatedAt" db:"updated_at"`
}

// JobState is the lifecycle state of a queued Job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateDelayed   JobState = "delayed"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStatePaused    JobState = "paused"
)

// Job is a queued work unit. One table for every kind; Kind+Payload is the
// tagged variant dispatched through the queue runtime's handler table.
type Job struct {
	ID          int64      `json:"id" db:"id"`
	QueueName   string     `json:"queueName" db:"queue_name"`
	Kind        string     `json:"kind" db:"kind"`
	Payload     []byte     `json:"payload" db:"payload"` // JSONB
	State       JobState   `json:"state" db:"state"`
	Attempts    int        `json:"attempts" db:"attempts"`
	MaxAttempts int        `json:"maxAttempts" db:"max_attempts"`
	Progress    int        `json:"progress" db:"progress"`
	Result      []byte     `json:"result,omitempty" db:"result"`
	Error       *string    `json:"error,omitempty" db:"error"`
	RunAt       time.Time  `json:"runAt" db:"run_at"` // when it becomes eligible to claim (delayed backoff)
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	ProcessedAt *time.Time `json:"processedAt,omitempty" db:"processed_at"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty" db:"finished_at"`
}

// DistributedLock is a named mutual-exclusion row with TTL.
type DistributedLock struct {
	Key       string    `json:"key" db:"key"`
	HolderID  string    `json:"holderId" db:"holder_id"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}
