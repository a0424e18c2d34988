// Package metastore is the client for the content-addressed document store
// holding organization and proposal descriptions. The ledger stores only the
// returned refs; the documents themselves live here.
package metastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Document is an off-ledger description published before the on-ledger
// record referencing it.
type Document struct {
	Kind        string   `json:"kind"` // organization | proposal
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Options     []string `json:"options,omitempty"`
	CreatedAt   int64    `json:"created_at"`
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		logger:  logger,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Publish stores doc and returns its content-addressed ref. Publishing the
// same document twice returns the same ref, which keeps resumed workflows
// idempotent.
func (c *Client) Publish(ctx context.Context, doc *Document) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s document: %w", doc.Kind, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish %s document: %w", doc.Kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("publish %s document: metastore returned %s", doc.Kind, resp.Status)
	}

	var out struct {
		Ref string `json:"ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode publish response: %w", err)
	}
	c.logger.Debug("published document", zap.String("kind", doc.Kind), zap.String("ref", out.Ref))
	return out.Ref, nil
}

// Fetch retrieves the document behind ref.
func (c *Client) Fetch(ctx context.Context, ref string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents/"+ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("document %s not found", ref)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch document %s: metastore returned %s", ref, resp.Status)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", ref, err)
	}
	return &doc, nil
}
