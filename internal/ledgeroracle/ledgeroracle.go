// Package ledgeroracle answers read-only questions about ledger state:
// the data-CID currently anchored for a (property, group) pair, and
// whether an identity has already submitted a given triple.
package ledgeroracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"
)

// ChainReader is the subset of *ethclient.Client the oracle needs. It's
// satisfied directly by *ethclient.Client; tests supply a fake.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Query names a (property, group) pair to resolve.
type Query struct {
	PropertyID string
	GroupID    string
}

// Result is one batch lookup outcome. Found is false when the pair is
// unanchored, the returned digest is the zero sentinel, or the lookup
// failed for any reason — partial failures never propagate as errors
// out of BatchCurrentDataCIDs.
type Result struct {
	CID   string
	Found bool
}

// Oracle implements the LedgerOracle component.
type Oracle struct {
	reader               ChainReader
	contract             common.Address
	queryTimeout         time.Duration
	maxConcurrentQueries int64
}

// New returns an Oracle reading from contract at address through reader.
// queryTimeout bounds each individual call; maxConcurrentQueries bounds
// BatchCurrentDataCIDs fan-out.
func New(reader ChainReader, contract common.Address, queryTimeout time.Duration, maxConcurrentQueries int64) *Oracle {
	if maxConcurrentQueries < 1 {
		maxConcurrentQueries = 1
	}
	return &Oracle{
		reader:               reader,
		contract:             contract,
		queryTimeout:         queryTimeout,
		maxConcurrentQueries: maxConcurrentQueries,
	}
}

// CurrentDataCID returns the CID currently anchored on the ledger for
// (propertyID, groupID), or found=false if unanchored.
func (o *Oracle) CurrentDataCID(ctx context.Context, propertyID, groupID string) (string, bool, error) {
	propDigest, err := cidToDigest(propertyID)
	if err != nil {
		return "", false, fmt.Errorf("ledgeroracle: property id: %w", err)
	}
	groupDigest, err := cidToDigest(groupID)
	if err != nil {
		return "", false, fmt.Errorf("ledgeroracle: group id: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.queryTimeout)
	defer cancel()

	data, err := parsedABI.Pack("currentDataCid", propDigest, groupDigest)
	if err != nil {
		return "", false, fmt.Errorf("ledgeroracle: packing call: %w", err)
	}

	raw, err := o.reader.CallContract(ctx, ethereum.CallMsg{To: &o.contract, Data: data}, nil)
	if err != nil {
		return "", false, fmt.Errorf("ledgeroracle: call failed: %w", err)
	}

	results, err := parsedABI.Unpack("currentDataCid", raw)
	if err != nil || len(results) != 1 {
		return "", false, fmt.Errorf("ledgeroracle: unpacking result: %w", err)
	}
	digest, ok := results[0].([32]byte)
	if !ok {
		return "", false, fmt.Errorf("ledgeroracle: unexpected result type")
	}
	if isZeroDigest(digest) {
		return "", false, nil
	}

	cidStr, err := digestToCID(digest)
	if err != nil {
		// Malformed on-chain value: treat as unanchored rather than fatal.
		return "", false, nil
	}
	return cidStr, true, nil
}

// HasSubmitted reports whether identity has already submitted the
// (propertyID, groupID, dataCID) triple.
func (o *Oracle) HasSubmitted(ctx context.Context, identity common.Address, propertyID, groupID, dataCID string) (bool, error) {
	propDigest, err := cidToDigest(propertyID)
	if err != nil {
		return false, fmt.Errorf("ledgeroracle: property id: %w", err)
	}
	groupDigest, err := cidToDigest(groupID)
	if err != nil {
		return false, fmt.Errorf("ledgeroracle: group id: %w", err)
	}
	dataDigest, err := cidToDigest(dataCID)
	if err != nil {
		return false, fmt.Errorf("ledgeroracle: data id: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.queryTimeout)
	defer cancel()

	data, err := parsedABI.Pack("hasSubmitted", identity, propDigest, groupDigest, dataDigest)
	if err != nil {
		return false, fmt.Errorf("ledgeroracle: packing call: %w", err)
	}

	raw, err := o.reader.CallContract(ctx, ethereum.CallMsg{To: &o.contract, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("ledgeroracle: call failed: %w", err)
	}

	results, err := parsedABI.Unpack("hasSubmitted", raw)
	if err != nil || len(results) != 1 {
		return false, fmt.Errorf("ledgeroracle: unpacking result: %w", err)
	}
	submitted, ok := results[0].(bool)
	if !ok {
		return false, fmt.Errorf("ledgeroracle: unexpected result type")
	}
	return submitted, nil
}

// BatchCurrentDataCIDs resolves every query concurrently, bounded by
// maxConcurrentQueries. A per-query failure yields Found=false rather
// than aborting the batch.
func (o *Oracle) BatchCurrentDataCIDs(ctx context.Context, queries []Query) map[Query]Result {
	out := make(map[Query]Result, len(queries))
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := semaphore.NewWeighted(o.maxConcurrentQueries)

	for _, q := range queries {
		q := q
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			out[q] = Result{Found: false}
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			cidStr, found, err := o.CurrentDataCID(ctx, q.PropertyID, q.GroupID)
			res := Result{CID: cidStr, Found: found && err == nil}

			mu.Lock()
			out[q] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}
