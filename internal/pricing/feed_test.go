package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newFeedServer(t *testing.T, price *atomic.Value, fail *atomic.Bool, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, `{"currency":"BNB","usd_price":%v}`, price.Load())
	}))
}

func TestUSDPriceCachesForOneMinute(t *testing.T) {
	var price atomic.Value
	price.Store(600.0)
	var fail atomic.Bool
	var hits atomic.Int64

	srv := newFeedServer(t, &price, &fail, &hits)
	defer srv.Close()

	f := NewFeed(srv.URL, zap.NewNop())
	now := time.Now()
	f.now = func() time.Time { return now }

	ctx := context.Background()
	got, err := f.USDPrice(ctx, "BNB")
	if err != nil {
		t.Fatalf("USDPrice: %v", err)
	}
	if got != 600 {
		t.Errorf("price = %v, want 600", got)
	}

	// Within the TTL the cached rate is served without a fetch.
	price.Store(700.0)
	got, err = f.USDPrice(ctx, "BNB")
	if err != nil {
		t.Fatalf("USDPrice cached: %v", err)
	}
	if got != 600 {
		t.Errorf("cached price = %v, want 600", got)
	}
	if hits.Load() != 1 {
		t.Errorf("feed hit %d times, want 1", hits.Load())
	}

	// Past the TTL the feed is consulted again.
	now = now.Add(cacheTTL + time.Second)
	got, err = f.USDPrice(ctx, "BNB")
	if err != nil {
		t.Fatalf("USDPrice refetch: %v", err)
	}
	if got != 700 {
		t.Errorf("refetched price = %v, want 700", got)
	}
}

func TestUSDPriceServesStaleOnFeedFailure(t *testing.T) {
	var price atomic.Value
	price.Store(600.0)
	var fail atomic.Bool
	var hits atomic.Int64

	srv := newFeedServer(t, &price, &fail, &hits)
	defer srv.Close()

	f := NewFeed(srv.URL, zap.NewNop())
	now := time.Now()
	f.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := f.USDPrice(ctx, "BNB"); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	fail.Store(true)
	now = now.Add(10 * time.Minute)

	got, err := f.USDPrice(ctx, "BNB")
	if err != nil {
		t.Fatalf("stale fallback errored: %v", err)
	}
	if got != 600 {
		t.Errorf("stale price = %v, want 600", got)
	}
}

func TestUSDPriceErrorsWithoutAnyCache(t *testing.T) {
	var price atomic.Value
	price.Store(600.0)
	var fail atomic.Bool
	fail.Store(true)
	var hits atomic.Int64

	srv := newFeedServer(t, &price, &fail, &hits)
	defer srv.Close()

	f := NewFeed(srv.URL, zap.NewNop())
	if _, err := f.USDPrice(context.Background(), "BNB"); !errors.Is(err, ErrNoPrice) {
		t.Errorf("got %v, want ErrNoPrice", err)
	}
}

func TestConvert(t *testing.T) {
	var price atomic.Value
	price.Store(50000.0)
	var fail atomic.Bool
	var hits atomic.Int64

	srv := newFeedServer(t, &price, &fail, &hits)
	defer srv.Close()

	f := NewFeed(srv.URL, zap.NewNop())
	got, err := f.Convert(context.Background(), 100, "BTC")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != 0.002 {
		t.Errorf("100 USD at 50000 = %v, want 0.002", got)
	}
}
