// Package pricing converts listing prices in USD into the crypto amount
// an order charges, via an external price feed.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoPrice means the feed is down and no cached rate exists yet.
var ErrNoPrice = errors.New("no price available")

const cacheTTL = time.Minute

type cachedRate struct {
	usdPrice  float64
	fetchedAt time.Time
}

// Feed caches rates for one minute. When the upstream feed fails, the
// last known rate is served stale rather than failing the order.
type Feed struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger

	mu    sync.Mutex
	rates map[string]cachedRate

	now func() time.Time
}

func NewFeed(baseURL string, log *zap.Logger) *Feed {
	return &Feed{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log:   log,
		rates: make(map[string]cachedRate),
		now:   time.Now,
	}
}

type priceResponse struct {
	Currency string  `json:"currency"`
	USDPrice float64 `json:"usd_price"`
}

// USDPrice returns how many USD one unit of the currency is worth.
func (f *Feed) USDPrice(ctx context.Context, currency string) (float64, error) {
	f.mu.Lock()
	cached, ok := f.rates[currency]
	f.mu.Unlock()

	if ok && f.now().Sub(cached.fetchedAt) < cacheTTL {
		return cached.usdPrice, nil
	}

	price, err := f.fetch(ctx, currency)
	if err != nil {
		if ok {
			f.log.Warn("price feed unavailable, serving stale rate",
				zap.String("currency", currency),
				zap.Duration("age", f.now().Sub(cached.fetchedAt)),
				zap.Error(err),
			)
			return cached.usdPrice, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrNoPrice, err)
	}

	f.mu.Lock()
	f.rates[currency] = cachedRate{usdPrice: price, fetchedAt: f.now()}
	f.mu.Unlock()
	return price, nil
}

// Convert turns a USD amount into units of the given currency.
func (f *Feed) Convert(ctx context.Context, usdAmount float64, currency string) (float64, error) {
	price, err := f.USDPrice(ctx, currency)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive rate for %s", ErrNoPrice, currency)
	}
	return usdAmount / price, nil
}

func (f *Feed) fetch(ctx context.Context, currency string) (float64, error) {
	url := fmt.Sprintf("%s/v1/prices/%s", f.baseURL, currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price feed unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("price feed returned %d: %s", resp.StatusCode, string(body))
	}

	var pr priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, err
	}
	if pr.USDPrice <= 0 {
		return 0, fmt.Errorf("price feed returned non-positive rate %v", pr.USDPrice)
	}
	return pr.USDPrice, nil
}
