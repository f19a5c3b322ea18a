package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// RPCProvider is the concrete Provider backed by a Solana JSON-RPC
// endpoint, the "external Solana API" spec.md treats as an out-of-core
// collaborator. Grounded on the teacher's flow/client.go in spirit
// (a thin wrapper translating one RPC client's shapes into the
// package's own Signature/ParsedTransaction types) though the Flow
// client's multi-node failover pool is out of scope here: a single
// endpoint plus the Fetcher's own rate limiting and retry is enough
// for one JSON-RPC provider.
type RPCProvider struct {
	client *rpc.Client
}

func NewRPCProvider(endpoint string) *RPCProvider {
	return &RPCProvider{client: rpc.New(endpoint)}
}

func (p *RPCProvider) ListSignatures(ctx context.Context, wallet solana.PublicKey, limit int, before, until *solana.Signature) ([]Signature, error) {
	opts := &rpc.GetSignaturesForAddressOpts{Limit: &limit}
	if before != nil {
		opts.Before = *before
	}
	if until != nil {
		opts.Until = *until
	}

	out, err := p.client.GetSignaturesForAddressWithOpts(ctx, wallet, opts)
	if err != nil {
		return nil, classifyRPCError(err)
	}

	sigs := make([]Signature, 0, len(out))
	for _, s := range out {
		if s.Err != nil {
			continue // failed transactions carry no swap data worth caching
		}
		var blockTime time.Time
		if s.BlockTime != nil {
			blockTime = s.BlockTime.Time()
		}
		sigs = append(sigs, Signature{Signature: s.Signature, Slot: s.Slot, BlockTime: blockTime})
	}
	return sigs, nil
}

func (p *RPCProvider) GetParsedTransaction(ctx context.Context, sig solana.Signature) (*ParsedTransaction, error) {
	maxVersion := uint64(0)
	tx, err := p.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingJSONParsed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, classifyRPCError(err)
	}

	var blockTime time.Time
	if tx.BlockTime != nil {
		blockTime = tx.BlockTime.Time()
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal parsed transaction %s: %w", sig, err)
	}
	return &ParsedTransaction{Signature: sig, Slot: tx.Slot, BlockTime: blockTime, Raw: raw}, nil
}

// classifyRPCError maps provider errors onto the sentinel errors the
// Fetcher's withRetry loop checks for.
func classifyRPCError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrExternalUnavailable, err)
	}
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch rpcErr.Code {
	case -32005, 429:
		return ErrRateLimited
	default:
		return ErrExternalUnavailable
	}
}
