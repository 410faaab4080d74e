// Package contentstore is the schema cache's content-store collaborator:
// it fetches the raw bytes addressed by a CID from a public IPFS
// gateway. The content store's HTTP surface is an external collaborator
// the spec names only by interface (internal/schemacache.Fetcher); this
// is the concrete implementation the CLI wires in.
package contentstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultGateway = "https://gateway.pinata.cloud/ipfs/"

// GatewayFetcher retrieves schema bytes over HTTP from an IPFS gateway
// and satisfies schemacache.Fetcher.
type GatewayFetcher struct {
	gatewayURL string
	http       *http.Client
}

// New returns a GatewayFetcher reading through gatewayURL (e.g.
// "https://gateway.pinata.cloud/ipfs/"). An empty gatewayURL selects the
// public Pinata gateway.
func New(gatewayURL string) *GatewayFetcher {
	if gatewayURL == "" {
		gatewayURL = defaultGateway
	}
	return &GatewayFetcher{
		gatewayURL: gatewayURL,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch retrieves the bytes addressed by cid.
func (f *GatewayFetcher) Fetch(ctx context.Context, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.gatewayURL+cid, nil)
	if err != nil {
		return nil, fmt.Errorf("contentstore: building request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contentstore: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("contentstore: gateway returned status %d for %s", resp.StatusCode, cid)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("contentstore: reading response body: %w", err)
	}
	return data, nil
}
