package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Indexer is an authenticated client for a remote transaction indexer that
// already knows the payee and accepted assets.
type Indexer struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewIndexer(baseURL, apiKey string, timeout time.Duration) *Indexer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Indexer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Indexer) QueryTransaction(ctx context.Context, reference string) (*Transaction, error) {
	if strings.TrimSpace(reference) == "" || strings.ContainsAny(reference, "/?#") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, reference)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tx/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexer GetTransaction %s: %w", reference, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound(reference), nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("indexer GetTransaction %s: status %d", reference, resp.StatusCode)
	}

	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, fmt.Errorf("decode indexer response: %w", err)
	}
	tx.Reference = reference
	if !tx.Found {
		tx.Succeeded = false
	}
	return &tx, nil
}

// BaseURL returns the configured indexer URL.
func (c *Indexer) BaseURL() string { return c.baseURL }
