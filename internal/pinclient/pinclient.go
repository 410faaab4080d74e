// Package pinclient is the uploader's pinning-service collaborator: a
// thin client over Pinata's pinFileToIPFS HTTP endpoint. The pinning
// service's API itself is an external collaborator the pipeline spec
// names only by interface (internal/uploader.Pinner); this is the
// concrete implementation the CLI wires in.
package pinclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"
)

const defaultEndpoint = "https://api.pinata.cloud/pinning/pinFileToIPFS"

// Client uploads byte payloads to Pinata and satisfies uploader.Pinner.
type Client struct {
	jwt      string
	endpoint string
	http     *http.Client
}

// New returns a Client authenticated with jwt (a Pinata JWT credential).
func New(jwt string) *Client {
	return &Client{
		jwt:      jwt,
		endpoint: defaultEndpoint,
		http:     &http.Client{Timeout: 2 * time.Minute},
	}
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Pin uploads data as a single file and returns the CID Pinata assigned.
func (c *Client) Pin(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "data.json")
	if err != nil {
		return "", fmt.Errorf("pinclient: building multipart form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("pinclient: writing form body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("pinclient: closing multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("pinclient: building request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.jwt)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pinclient: pinning service returned status %d", resp.StatusCode)
	}

	var parsed pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("pinclient: decoding response: %w", err)
	}
	if parsed.IpfsHash == "" {
		return "", fmt.Errorf("pinclient: response carried no IpfsHash")
	}
	return parsed.IpfsHash, nil
}
