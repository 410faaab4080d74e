// Package uploader pushes validated documents to a pinning service with
// bounded concurrency, per-upload timeout and retry, and verifies the
// returned pin CID against the locally computed one.
package uploader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

// Candidate is one file queued for upload.
type Candidate struct {
	PropertyID     string
	GroupID        string
	CanonicalBytes []byte
	ComputedCID    string
}

// Result is the outcome of uploading one Candidate.
type Result struct {
	PropertyID string
	GroupID    string
	Success    bool
	CID        string
	Err        error
}

// Pinner uploads raw bytes to the pinning service and returns the CID it
// assigned. Implementations carry the HTTP client and credential; none
// is specified here beyond this interface.
type Pinner interface {
	Pin(ctx context.Context, data []byte) (cid string, err error)
}

// Config bounds the uploader's concurrency, timeout, and retry schedule.
type Config struct {
	MaxConcurrentUploads   int64
	UploadTimeout          time.Duration
	MaxRetries             int
	RetryDelay             time.Duration
	RetryBackoffMultiplier float64
}

// Uploader implements the Uploader component (C8).
type Uploader struct {
	pinner Pinner
	cfg    Config
}

// New returns an Uploader backed by pinner under cfg.
func New(pinner Pinner, cfg Config) *Uploader {
	if cfg.MaxConcurrentUploads < 1 {
		cfg.MaxConcurrentUploads = 1
	}
	return &Uploader{pinner: pinner, cfg: cfg}
}

// UploadBatch uploads every candidate, bounded by MaxConcurrentUploads,
// and blocks until every upload has reached a terminal outcome.
func (u *Uploader) UploadBatch(ctx context.Context, candidates []Candidate) []Result {
	results := make([]Result, len(candidates))
	sem := semaphore.NewWeighted(u.cfg.MaxConcurrentUploads)
	var wg sync.WaitGroup

	for i, c := range candidates {
		i, c := i, c
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{PropertyID: c.PropertyID, GroupID: c.GroupID, Err: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = u.uploadOne(ctx, c)
		}()
	}
	wg.Wait()

	return results
}

func (u *Uploader) uploadOne(ctx context.Context, c Candidate) Result {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = u.cfg.RetryDelay
	bo.Multiplier = u.cfg.RetryBackoffMultiplier
	if bo.Multiplier <= 0 {
		bo.Multiplier = 2
	}
	// The constructor already reset to its default interval; reset again so
	// the first wait starts from RetryDelay.
	bo.Reset()

	var lastErr error
	attempts := u.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(bo.NextBackOff())
		}

		callCtx, cancel := context.WithTimeout(ctx, u.cfg.UploadTimeout)
		cid, err := u.pinner.Pin(callCtx, c.CanonicalBytes)
		cancel()

		if err != nil {
			lastErr = err
			continue
		}
		if cid != c.ComputedCID {
			lastErr = fmt.Errorf("pinned cid %s does not match computed cid %s", cid, c.ComputedCID)
			continue
		}
		return Result{PropertyID: c.PropertyID, GroupID: c.GroupID, Success: true, CID: cid}
	}

	return Result{PropertyID: c.PropertyID, GroupID: c.GroupID, Err: fmt.Errorf("upload failed after %d attempts: %w", attempts, lastErr)}
}
