// Package client is the HTTP implementation of the ledger client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adrijusxx/linehaul/internal/ledger/domain"
)

type Config struct {
	BaseURL string
	APIKey  string
}

type httpClient struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) domain.Client {
	return &httpClient{
		cfg:    Config{BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"), APIKey: strings.TrimSpace(cfg.APIKey)},
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type refResponse struct {
	Ref string `json:"ref"`
}

func (c *httpClient) SyncCustomer(ctx context.Context, rec domain.CustomerRecord) (string, error) {
	var resp refResponse
	if err := c.post(ctx, "/v1/customers", rec, &resp); err != nil {
		return "", err
	}
	return resp.Ref, nil
}

func (c *httpClient) SyncInvoice(ctx context.Context, rec domain.InvoiceRecord) (string, error) {
	var resp refResponse
	if err := c.post(ctx, "/v1/invoices", rec, &resp); err != nil {
		return "", err
	}
	return resp.Ref, nil
}

func (c *httpClient) PostLoadEntry(ctx context.Context, rec domain.LoadEntry) error {
	return c.post(ctx, "/v1/load-entries", rec, nil)
}

func (c *httpClient) post(ctx context.Context, path string, body, out any) error {
	if c.cfg.BaseURL == "" {
		return domain.ErrNotConfigured
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal ledger payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s: %s", domain.ErrRejected, path, resp.Status, strings.TrimSpace(string(msg)))
	default:
		return fmt.Errorf("ledger request %s: unexpected status %s", path, resp.Status)
	}
}
