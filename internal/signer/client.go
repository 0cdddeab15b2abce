// Package signer is the client for the external transaction signing
// service. Key material never enters this codebase; the signer holds the
// hot wallet and broadcasts payouts on request.
package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

type SendRequest struct {
	ToAddress string  `json:"to_address"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	RefundID  string  `json:"refund_id"`
}

// SendResult mirrors the signer's response. Retryable distinguishes
// transient failures (mempool congestion, signer restart) from permanent
// ones (invalid address); only retryable failures re-enter the queue.
type SendResult struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	Error           string `json:"error,omitempty"`
	Retryable       bool   `json:"retryable"`
}

func (c *Client) SendTransaction(ctx context.Context, req SendRequest) (*SendResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/internal/transactions/send"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// The signer being unreachable is always worth retrying.
		return &SendResult{Success: false, Error: err.Error(), Retryable: true}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		b, _ := io.ReadAll(resp.Body)
		return &SendResult{
			Success:   false,
			Error:     fmt.Sprintf("signer returned %d: %s", resp.StatusCode, string(b)),
			Retryable: true,
		}, nil
	}

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding signer response: %w", err)
	}
	return &result, nil
}
