// Package ledgersubmitter batches DataItems into on-ledger submission
// transactions, manages nonce assignment and fee estimation, and retries
// failed attempts with nonce re-synchronization on nonce-class errors.
package ledgersubmitter

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/elephant-xyz/submit-files/internal/ledgeroracle"
	"github.com/elephant-xyz/submit-files/internal/model"
)

// ErrSubmissionFailed is returned by SubmitBatch when the retry budget
// is exhausted.
var ErrSubmissionFailed = fmt.Errorf("ledgersubmitter: batch submission failed")

// FeeMode selects how gas fee fields are populated.
type FeeMode int

const (
	// FeeModeLegacy populates a single GasPrice field.
	FeeModeLegacy FeeMode = iota
	// FeeModeEIP1559 populates MaxFeePerGas/MaxPriorityFeePerGas directly.
	FeeModeEIP1559
	// FeeModeAuto fetches the provider's fee suggestion, falling back to
	// fixed defaults when unavailable.
	FeeModeAuto
)

// ChainClient is the subset of *ethclient.Client the submitter needs.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Config tunes batching, retry, fee, and confirmation behavior.
type Config struct {
	TransactionBatchSize   int
	MaxRetries             int
	RetryDelay             time.Duration
	RetryBackoffMultiplier float64
	FeeMode                FeeMode
	FixedGasPrice          *big.Int
	FixedTipCap            *big.Int
	AwaitConfirmation      bool
	ConfirmTimeout         time.Duration
	ChainID                *big.Int
}

// abiPacker encodes a contract call; callers pass ledgeroracle.Pack, which
// is bound to the shared contract ABI. It is injected as a function value
// so the submitter does not hold its own copy of the ABI.
type abiPacker func(method string, args ...interface{}) ([]byte, error)

// Submitter implements the LedgerSubmitter component (C9).
type Submitter struct {
	client   ChainClient
	contract common.Address
	identity *ecdsa.PrivateKey
	address  common.Address
	pack     abiPacker
	cfg      Config

	mu    sync.Mutex
	nonce uint64
	known bool
}

// New returns a Submitter sending transactions to contract, signed by
// identity, using pack to ABI-encode the submission call.
func New(client ChainClient, contract common.Address, identity *ecdsa.PrivateKey, pack abiPacker, cfg Config) *Submitter {
	var address common.Address
	if identity != nil {
		address = crypto.PubkeyToAddress(identity.PublicKey)
	}
	return &Submitter{
		client:   client,
		contract: contract,
		identity: identity,
		address:  address,
		pack:     pack,
		cfg:      cfg,
	}
}

// GroupIntoBatches deterministically chunks items at TransactionBatchSize.
func (s *Submitter) GroupIntoBatches(items []model.DataItem) [][]model.DataItem {
	size := s.cfg.TransactionBatchSize
	if size < 1 {
		size = 1
	}
	var batches [][]model.DataItem
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}

type digestTriple struct {
	PropertyDigest [32]byte
	GroupDigest    [32]byte
	DataDigest     [32]byte
}

// SubmitOutcome is one element of the SubmitAll lazy sequence.
type SubmitOutcome struct {
	Receipt model.BatchReceipt
	Err     error
}

// SubmitAll groups items and submits the resulting batches strictly
// sequentially over the returned channel, closing it after the last
// batch or after the first FAILED batch (whose error is the final
// element sent).
func (s *Submitter) SubmitAll(ctx context.Context, items []model.DataItem) <-chan SubmitOutcome {
	out := make(chan SubmitOutcome)
	batches := s.GroupIntoBatches(items)

	go func() {
		defer close(out)
		for _, batch := range batches {
			receipt, err := s.SubmitBatch(ctx, batch)
			if err != nil {
				out <- SubmitOutcome{Err: err}
				return
			}
			out <- SubmitOutcome{Receipt: receipt}
		}
	}()

	return out
}

// SubmitBatch runs the batch submission protocol for one batch, retrying
// up to MaxRetries+1 attempts with nonce re-synchronization on
// nonce-class errors.
func (s *Submitter) SubmitBatch(ctx context.Context, batch []model.DataItem) (model.BatchReceipt, error) {
	if len(batch) == 0 {
		return model.BatchReceipt{}, fmt.Errorf("ledgersubmitter: empty batch")
	}

	triples := make([]digestTriple, len(batch))
	for i, item := range batch {
		prop, err := ledgeroracle.CIDToDigest(item.PropertyID)
		if err != nil {
			return model.BatchReceipt{}, fmt.Errorf("ledgersubmitter: %w", err)
		}
		group, err := ledgeroracle.CIDToDigest(item.GroupID)
		if err != nil {
			return model.BatchReceipt{}, fmt.Errorf("ledgersubmitter: %w", err)
		}
		data, err := ledgeroracle.CIDToDigest(item.DataCID)
		if err != nil {
			return model.BatchReceipt{}, fmt.Errorf("ledgersubmitter: %w", err)
		}
		triples[i] = digestTriple{PropertyDigest: prop, GroupDigest: group, DataDigest: data}
	}

	attempts := s.cfg.MaxRetries + 1
	var lastErr error
	delay := s.cfg.RetryDelay

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			mult := s.cfg.RetryBackoffMultiplier
			if mult <= 0 {
				mult = 2
			}
			delay = time.Duration(float64(delay) * mult)
		}

		receipt, err := s.attempt(ctx, triples, len(batch))
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if isNonceError(err) {
			s.resyncNonce(ctx)
		}
	}

	s.rollbackNonce()
	return model.BatchReceipt{}, fmt.Errorf("%w: %v", ErrSubmissionFailed, lastErr)
}

func (s *Submitter) attempt(ctx context.Context, triples []digestTriple, count int) (model.BatchReceipt, error) {
	nonce, err := s.nextNonce(ctx)
	if err != nil {
		return model.BatchReceipt{}, fmt.Errorf("obtaining nonce: %w", err)
	}

	data, err := s.pack("submitBatch", triples)
	if err != nil {
		return model.BatchReceipt{}, fmt.Errorf("packing call data: %w", err)
	}

	gasLimit, err := s.estimateGas(ctx, data)
	if err != nil {
		return model.BatchReceipt{}, fmt.Errorf("estimating gas: %w", err)
	}

	tx, err := s.buildTx(ctx, nonce, data, gasLimit)
	if err != nil {
		return model.BatchReceipt{}, fmt.Errorf("building transaction: %w", err)
	}

	signer := types.LatestSignerForChainID(s.cfg.ChainID)
	signedTx, err := types.SignTx(tx, signer, s.identity)
	if err != nil {
		return model.BatchReceipt{}, fmt.Errorf("signing transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return model.BatchReceipt{}, fmt.Errorf("sending transaction: %w", err)
	}

	receipt := model.BatchReceipt{TxHash: signedTx.Hash().Hex(), ItemsSubmitted: count}

	if s.cfg.AwaitConfirmation {
		confirmed, err := s.awaitConfirmation(ctx, signedTx.Hash())
		if err != nil {
			return model.BatchReceipt{}, err
		}
		blockNum := confirmed.BlockNumber.Uint64()
		gasUsed := confirmed.GasUsed
		receipt.BlockNumber = &blockNum
		receipt.CostUsed = &gasUsed
	}

	return receipt, nil
}

func (s *Submitter) estimateGas(ctx context.Context, data []byte) (uint64, error) {
	estimate, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: s.address,
		To:   &s.contract,
		Data: data,
	})
	if err != nil {
		return 0, err
	}
	return estimate * 120 / 100, nil
}

func (s *Submitter) buildTx(ctx context.Context, nonce uint64, data []byte, gasLimit uint64) (*types.Transaction, error) {
	switch s.cfg.FeeMode {
	case FeeModeLegacy:
		price, err := s.legacyGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &s.contract,
			Gas:      gasLimit,
			GasPrice: price,
			Data:     data,
		}), nil
	default:
		tip, feeCap, err := s.dynamicFees(ctx)
		if err != nil {
			return nil, err
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   s.cfg.ChainID,
			Nonce:     nonce,
			To:        &s.contract,
			Gas:       gasLimit,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Data:      data,
		}), nil
	}
}

var defaultGasPrice = big.NewInt(1_000_000_000) // 1 gwei
var defaultTipCap = big.NewInt(1_000_000_000)

func (s *Submitter) legacyGasPrice(ctx context.Context) (*big.Int, error) {
	if s.cfg.FeeMode == FeeModeLegacy && s.cfg.FixedGasPrice != nil {
		return s.cfg.FixedGasPrice, nil
	}
	price, err := s.client.SuggestGasPrice(ctx)
	if err != nil || price == nil {
		return defaultGasPrice, nil
	}
	return price, nil
}

// dynamicFees follows go-ethereum's recommended EIP-1559 fee cap formula:
// tip + 2*baseFee, with enough headroom to survive two consecutive
// base-fee increases before the transaction needs replacing. Falls back
// to tip*2 when the chain's latest header carries no base fee (a
// pre-London, legacy-fee chain).
func (s *Submitter) dynamicFees(ctx context.Context) (tip, feeCap *big.Int, err error) {
	if s.cfg.FeeMode == FeeModeEIP1559 && s.cfg.FixedTipCap != nil {
		tip = s.cfg.FixedTipCap
	} else {
		suggested, suggestErr := s.client.SuggestGasTipCap(ctx)
		if suggestErr != nil || suggested == nil {
			tip = defaultTipCap
		} else {
			tip = suggested
		}
	}

	header, headerErr := s.client.HeaderByNumber(ctx, nil)
	if headerErr != nil || header == nil || header.BaseFee == nil {
		feeCap = new(big.Int).Mul(tip, big.NewInt(2))
		return tip, feeCap, nil
	}

	feeCap = new(big.Int).Add(tip, new(big.Int).Mul(header.BaseFee, big.NewInt(2)))
	return tip, feeCap, nil
}

func (s *Submitter) awaitConfirmation(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out awaiting confirmation: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Submitter) nextNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.known {
		pending, err := s.client.PendingNonceAt(ctx, s.address)
		if err != nil {
			return 0, err
		}
		s.nonce = pending
		s.known = true
	}
	n := s.nonce
	s.nonce++
	return n, nil
}

func (s *Submitter) resyncNonce(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = false
}

func (s *Submitter) rollbackNonce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known && s.nonce > 0 {
		s.nonce--
	}
}

var nonceErrorPatterns = []string{"nonce", "too low", "too high", "already used", "replacement underpriced"}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range nonceErrorPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
