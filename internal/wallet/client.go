// Package wallet issues per-order deposit addresses from the external
// wallet service.
package wallet

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
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type addressResponse struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// IssueAddress returns a fresh deposit address for the order. Every
// order gets its own address so incoming transfers map to exactly one
// order.
func (c *Client) IssueAddress(ctx context.Context, orderID, currency string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"order_id": orderID,
		"currency": currency,
	})

	url := c.baseURL + "/internal/addresses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("wallet service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("wallet service returned %d: %s", resp.StatusCode, string(b))
	}

	var ar addressResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", err
	}
	if ar.Address == "" {
		return "", fmt.Errorf("wallet service returned an empty address")
	}
	return ar.Address, nil
}
