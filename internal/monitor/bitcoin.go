package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"

	"github.com/channelpass/backend/internal/models"
)

// BitcoinClient polls a bitcoind node over JSON-RPC. Deposit addresses
// are expected to be imported into the node's watch-only wallet by the
// wallet service that issues them.
type BitcoinClient struct {
	host     string
	user     string
	password string
	params   *chaincfg.Params

	mu     sync.Mutex
	client *rpcclient.Client
}

func NewBitcoinClient(host, user, password string) *BitcoinClient {
	return &BitcoinClient{
		host:     host,
		user:     user,
		password: password,
		params:   &chaincfg.MainNetParams,
	}
}

func (c *BitcoinClient) Network() string { return models.NetworkBitcoin }

func (c *BitcoinClient) Connect(ctx context.Context) error {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         c.host,
		User:         c.user,
		Pass:         c.password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}

	// HTTP post mode does not dial eagerly; verify the node answers.
	if _, err := client.GetBlockCount(); err != nil {
		client.Shutdown()
		return fmt.Errorf("get block count: %w", err)
	}

	c.mu.Lock()
	if c.client != nil {
		c.client.Shutdown()
	}
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *BitcoinClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Shutdown()
		c.client = nil
	}
}

func (c *BitcoinClient) IncomingTransfers(ctx context.Context, addrs []string) ([]Transfer, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("not connected")
	}

	decoded := make([]btcutil.Address, 0, len(addrs))
	for _, a := range addrs {
		addr, err := btcutil.DecodeAddress(a, c.params)
		if err != nil {
			return nil, fmt.Errorf("decode address %s: %w", a, err)
		}
		decoded = append(decoded, addr)
	}

	// Zero min confirmations so mempool-seen deposits emit a detected
	// event immediately.
	unspent, err := client.ListUnspentMinMaxAddresses(0, 9999999, decoded)
	if err != nil {
		return nil, fmt.Errorf("list unspent: %w", err)
	}

	transfers := make([]Transfer, 0, len(unspent))
	for _, u := range unspent {
		transfers = append(transfers, Transfer{
			Address:       u.Address,
			TxHash:        u.TxID,
			Amount:        u.Amount,
			Currency:      models.CurrencyBTC,
			Confirmations: int(u.Confirmations),
		})
	}
	return transfers, nil
}
