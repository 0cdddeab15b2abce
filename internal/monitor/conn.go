package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Transfer is one incoming payment observed on a chain.
type Transfer struct {
	Address       string // watched receiving address
	TxHash        string
	From          string
	Amount        float64
	Currency      string
	Confirmations int
}

// ChainClient is a logical connection to one blockchain network.
type ChainClient interface {
	Network() string
	Connect(ctx context.Context) error
	Close()
	// IncomingTransfers returns recent transfers to any of the given
	// addresses, with current confirmation counts.
	IncomingTransfers(ctx context.Context, addrs []string) ([]Transfer, error)
}

// ConnManager maintains one ChainClient per network, reconnecting with
// exponential backoff when a connection drops. After maxAttempts failed
// reconnects the network is left disconnected and surfaced through
// Status() for operators; the manager does not self-heal indefinitely.
type ConnManager struct {
	clients     map[string]ChainClient
	maxAttempts int
	backoffCap  time.Duration
	onReconnect func(network string)
	log         *zap.Logger

	mu           sync.RWMutex
	connected    map[string]bool
	reconnecting map[string]bool
}

func NewConnManager(clients []ChainClient, maxAttempts int, backoffCap time.Duration, log *zap.Logger) *ConnManager {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if backoffCap <= 0 {
		backoffCap = 60 * time.Second
	}
	byNetwork := make(map[string]ChainClient, len(clients))
	connected := make(map[string]bool, len(clients))
	for _, c := range clients {
		byNetwork[c.Network()] = c
		connected[c.Network()] = false
	}
	return &ConnManager{
		clients:      byNetwork,
		maxAttempts:  maxAttempts,
		backoffCap:   backoffCap,
		connected:    connected,
		reconnecting: make(map[string]bool),
		log:          log,
	}
}

// SetOnReconnect registers a hook invoked after a network connection is
// re-established, so watched addresses can be re-subscribed.
func (m *ConnManager) SetOnReconnect(fn func(network string)) {
	m.onReconnect = fn
}

// Start dials every network. Each connection is established in its own
// goroutine with the same backoff schedule as later reconnects.
func (m *ConnManager) Start(ctx context.Context) {
	for network := range m.clients {
		go m.reconnect(ctx, network)
	}
}

// Close tears down every connection.
func (m *ConnManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for network, client := range m.clients {
		client.Close()
		m.connected[network] = false
	}
}

// Client returns the ChainClient for a network, and whether the
// connection is currently up.
func (m *ConnManager) Client(network string) (ChainClient, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[network]
	if !ok {
		return nil, false
	}
	return client, m.connected[network]
}

// Status reports per-network connection health.
func (m *ConnManager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.connected))
	for network, up := range m.connected {
		out[network] = up
	}
	return out
}

// MarkDown flags a network as disconnected and kicks off a background
// reconnect cycle, if one is not already running.
func (m *ConnManager) MarkDown(ctx context.Context, network string) {
	m.mu.Lock()
	wasConnected := m.connected[network]
	m.connected[network] = false
	alreadyReconnecting := m.reconnecting[network]
	if !alreadyReconnecting {
		m.reconnecting[network] = true
	}
	m.mu.Unlock()

	if wasConnected {
		m.log.Warn("network connection lost", zap.String("network", network))
	}
	if !alreadyReconnecting {
		go func() {
			defer func() {
				m.mu.Lock()
				m.reconnecting[network] = false
				m.mu.Unlock()
			}()
			m.reconnect(ctx, network)
		}()
	}
}

func (m *ConnManager) reconnect(ctx context.Context, network string) {
	client := m.clients[network]

	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		if err := client.Connect(ctx); err == nil {
			m.mu.Lock()
			m.connected[network] = true
			m.mu.Unlock()
			m.log.Info("network connected", zap.String("network", network), zap.Int("attempt", attempt+1))
			if m.onReconnect != nil {
				m.onReconnect(network)
			}
			return
		} else {
			delay := backoffDelay(attempt, m.backoffCap)
			m.log.Warn("connection attempt failed",
				zap.String("network", network),
				zap.Int("attempt", attempt+1),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}

	m.log.Error("network connection abandoned after max attempts, operator intervention required",
		zap.String("network", network),
		zap.Int("max_attempts", m.maxAttempts),
	)
}

// backoffDelay returns the exponential delay for the given attempt:
// 1s, 2s, 4s, 8s, 16s, 32s, then capped.
func backoffDelay(attempt int, cap time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return cap
	}
	d := time.Second << uint(attempt)
	if d > cap {
		return cap
	}
	return d
}
