package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBackoffDelay(t *testing.T) {
	cap := 60 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
		{40, 60 * time.Second},
		{-1, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempt, cap); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

type stubChainClient struct {
	network string

	mu       sync.Mutex
	failures int // Connect errors to return before succeeding
	attempts int
}

func (c *stubChainClient) Network() string { return c.network }

func (c *stubChainClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.attempts <= c.failures {
		return errors.New("dial failed")
	}
	return nil
}

func (c *stubChainClient) Close() {}

func (c *stubChainClient) IncomingTransfers(ctx context.Context, addrs []string) ([]Transfer, error) {
	return nil, nil
}

func TestConnManagerConnectAndStatus(t *testing.T) {
	client := &stubChainClient{network: "bsc"}
	m := NewConnManager([]ChainClient{client}, 3, time.Second, zap.NewNop())

	reconnected := make(chan string, 1)
	m.SetOnReconnect(func(network string) { reconnected <- network })

	if _, up := m.Client("bsc"); up {
		t.Fatal("network reported connected before Start")
	}

	m.Start(context.Background())
	defer m.Close()

	select {
	case network := <-reconnected:
		if network != "bsc" {
			t.Errorf("reconnect hook got network %q, want bsc", network)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect hook never fired")
	}

	if got, up := m.Client("bsc"); got == nil || !up {
		t.Error("expected bsc client to be connected")
	}
	if status := m.Status(); !status["bsc"] {
		t.Errorf("Status() = %v, want bsc up", status)
	}

	if _, up := m.Client("unknown"); up {
		t.Error("unknown network must not report connected")
	}
}

func TestConnManagerMarkDownTriggersReconnect(t *testing.T) {
	client := &stubChainClient{network: "tron"}
	m := NewConnManager([]ChainClient{client}, 3, time.Second, zap.NewNop())

	reconnected := make(chan string, 2)
	m.SetOnReconnect(func(network string) { reconnected <- network })

	m.Start(context.Background())
	defer m.Close()
	<-reconnected

	m.MarkDown(context.Background(), "tron")

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("MarkDown did not trigger a reconnect")
	}
	if status := m.Status(); !status["tron"] {
		t.Error("network not reported up after reconnect")
	}
}
