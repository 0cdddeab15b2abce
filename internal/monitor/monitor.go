package monitor

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/models"
	"github.com/channelpass/backend/internal/queue"
)

const (
	// amountTolerance absorbs network fee rounding: a payment is
	// accepted when |actual-expected|/expected <= 0.1%.
	amountTolerance = 0.001

	confirmedKeyPrefix = "monitor:confirmed:"
	confirmedKeyTTL    = 7 * 24 * time.Hour

	// StatusKey holds the latest monitor status snapshot in redis so the
	// api process can serve it without talking to the monitor directly.
	StatusKey    = "monitor:status"
	statusKeyTTL = time.Minute
)

// PaymentPublisher pushes detected/confirmed events onto the durable
// payments stream, returning the message id or "" on failure.
type PaymentPublisher interface {
	PublishPaymentEvent(ctx context.Context, event queue.PaymentEvent) string
}

// Monitor watches deposit addresses across networks, classifies incoming
// transfers as detected or confirmed against per-network thresholds, and
// publishes payment events onto the durable payments stream.
type Monitor struct {
	registry     *WatchRegistry
	conns        *ConnManager
	producer     PaymentPublisher
	rdb          *redis.Client
	pollInterval time.Duration
	log          *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	lastSeen map[string]map[string]int // address -> tx hash -> last published confirmations

	// confirmOnce marks a tx hash as confirmed, reporting whether this
	// caller was first. Backed by redis SETNX so the guarantee holds
	// across monitor restarts within the key TTL.
	confirmOnce func(ctx context.Context, txHash string) (bool, error)
}

func New(conns *ConnManager, producer PaymentPublisher, rdb *redis.Client, pollInterval time.Duration, log *zap.Logger) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	m := &Monitor{
		registry:     NewWatchRegistry(),
		conns:        conns,
		producer:     producer,
		rdb:          rdb,
		pollInterval: pollInterval,
		log:          log,
		lastSeen:     make(map[string]map[string]int),
	}
	m.confirmOnce = func(ctx context.Context, txHash string) (bool, error) {
		return m.rdb.SetNX(ctx, confirmedKeyPrefix+txHash, "1", confirmedKeyTTL).Result()
	}
	conns.SetOnReconnect(m.resubscribe)
	return m
}

// Start connects every network and launches one poll loop per network.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.conns.Start(ctx)

	for _, network := range models.AllNetworks() {
		m.wg.Add(1)
		go func(network string) {
			defer m.wg.Done()
			ticker := time.NewTicker(m.pollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.poll(ctx, network)
				}
			}
		}(network)
	}

	m.log.Info("blockchain monitor started",
		zap.Strings("networks", models.AllNetworks()),
		zap.Duration("poll_interval", m.pollInterval),
	)
}

// Stop cancels the poll loops and closes the chain connections.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.conns.Close()
}

// WatchAddress registers a deposit address. Watching the same address
// again overwrites the prior entry.
func (m *Monitor) WatchAddress(address string, orderID uuid.UUID, currency string, expectedAmount float64, callback func(queue.PaymentEvent)) error {
	network, err := models.NetworkForCurrency(currency)
	if err != nil {
		return err
	}
	m.registry.Watch(WatchedAddress{
		Address:        address,
		OrderID:        orderID,
		Currency:       currency,
		Network:        network,
		ExpectedAmount: expectedAmount,
		Callback:       callback,
	})
	m.log.Info("watching address",
		zap.String("address", address),
		zap.String("order_id", orderID.String()),
		zap.String("network", network),
	)
	return nil
}

// UnwatchAddress drops the watch entry and the detection state kept for
// the address, so long-lived processes do not accumulate stale tx
// hashes.
func (m *Monitor) UnwatchAddress(address string) {
	m.registry.Unwatch(address)
	m.mu.Lock()
	delete(m.lastSeen, address)
	m.mu.Unlock()
}

// GetWatchedAddresses returns a defensive copy of the watch set.
func (m *Monitor) GetWatchedAddresses() []WatchedAddress {
	return m.registry.Snapshot()
}

// GetConnectionStatus reports per-network connection health.
func (m *Monitor) GetConnectionStatus() map[string]bool {
	return m.conns.Status()
}

// StatusSnapshot is the shape stored under StatusKey.
type StatusSnapshot struct {
	Networks      map[string]bool `json:"networks"`
	WatchedCount  int             `json:"watched_count"`
	UpdatedAtUnix int64           `json:"updated_at_unix"`
}

// StoreStatus writes the current status snapshot to redis. The key
// expires so a dead monitor shows up as a missing snapshot.
func (m *Monitor) StoreStatus(ctx context.Context) error {
	snap := StatusSnapshot{
		Networks:      m.conns.Status(),
		WatchedCount:  len(m.registry.Snapshot()),
		UpdatedAtUnix: time.Now().Unix(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, StatusKey, raw, statusKeyTTL).Err()
}

// resubscribe runs after a network reconnect. The poll model keeps the
// subscription state in the registry, so resuming the loop is enough;
// we log the watch count and poll immediately to catch up.
func (m *Monitor) resubscribe(network string) {
	watches := m.registry.ByNetwork(network)
	m.log.Info("re-subscribed watched addresses after reconnect",
		zap.String("network", network),
		zap.Int("count", len(watches)),
	)
}

func (m *Monitor) poll(ctx context.Context, network string) {
	watches := m.registry.ByNetwork(network)
	if len(watches) == 0 {
		return
	}

	client, up := m.conns.Client(network)
	if client == nil || !up {
		return
	}

	addrs := make([]string, 0, len(watches))
	for _, w := range watches {
		addrs = append(addrs, w.Address)
	}

	transfers, err := client.IncomingTransfers(ctx, addrs)
	if err != nil {
		m.log.Error("poll failed", zap.String("network", network), zap.Error(err))
		m.conns.MarkDown(ctx, network)
		return
	}

	for _, t := range transfers {
		m.classify(ctx, network, t)
	}
}

func (m *Monitor) classify(ctx context.Context, network string, t Transfer) {
	w, ok := m.registry.Get(t.Address)
	if !ok {
		return
	}

	if t.Currency != w.Currency {
		m.log.Debug("transfer in unexpected currency, skipping",
			zap.String("address", t.Address),
			zap.String("got", t.Currency),
			zap.String("want", w.Currency),
		)
		return
	}

	if !amountWithinTolerance(t.Amount, w.ExpectedAmount) {
		m.log.Warn("transfer amount outside tolerance",
			zap.String("address", t.Address),
			zap.String("order_id", w.OrderID.String()),
			zap.Float64("actual", t.Amount),
			zap.Float64("expected", w.ExpectedAmount),
		)
		return
	}

	threshold := models.RequiredConfirmations(network)
	eventType := classifyTransfer(t.Confirmations, threshold)
	event := queue.PaymentEvent{
		OrderID:       w.OrderID,
		Address:       t.Address,
		TxHash:        t.TxHash,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Network:       network,
		Confirmations: t.Confirmations,
		PayerAddress:  t.From,
	}

	if eventType == queue.PaymentEventConfirmed {
		// Confirm exactly once per tx hash.
		first, err := m.confirmOnce(ctx, t.TxHash)
		if err != nil {
			m.log.Error("confirmation dedup check failed", zap.String("tx_hash", t.TxHash), zap.Error(err))
			return
		}
		if !first {
			return
		}

		event.Type = queue.PaymentEventConfirmed
		m.publish(ctx, w, event)
		m.UnwatchAddress(t.Address)
		m.log.Info("payment confirmed",
			zap.String("order_id", w.OrderID.String()),
			zap.String("tx_hash", t.TxHash),
			zap.Int("confirmations", t.Confirmations),
		)
		return
	}

	// Below threshold: emit a detected event whenever the confirmation
	// count moves, starting at zero.
	m.mu.Lock()
	byTx := m.lastSeen[t.Address]
	if byTx == nil {
		byTx = make(map[string]int)
		m.lastSeen[t.Address] = byTx
	}
	last, seen := byTx[t.TxHash]
	if seen && last == t.Confirmations {
		m.mu.Unlock()
		return
	}
	byTx[t.TxHash] = t.Confirmations
	m.mu.Unlock()

	event.Type = queue.PaymentEventDetected
	m.publish(ctx, w, event)
	m.log.Info("payment detected",
		zap.String("order_id", w.OrderID.String()),
		zap.String("tx_hash", t.TxHash),
		zap.Int("confirmations", t.Confirmations),
		zap.Int("threshold", threshold),
	)
}

func (m *Monitor) publish(ctx context.Context, w WatchedAddress, event queue.PaymentEvent) {
	// Publish failures are logged inside the producer and must not
	// crash the watch loop.
	_ = m.producer.PublishPaymentEvent(ctx, event)
	if w.Callback != nil {
		w.Callback(event)
	}
}

// classifyTransfer maps a confirmation count to the event emitted for
// it: detected below the network threshold, confirmed at or above it.
func classifyTransfer(confirmations, threshold int) string {
	if confirmations >= threshold {
		return queue.PaymentEventConfirmed
	}
	return queue.PaymentEventDetected
}

func amountWithinTolerance(actual, expected float64) bool {
	if expected <= 0 {
		return false
	}
	return math.Abs(actual-expected)/expected <= amountTolerance
}
