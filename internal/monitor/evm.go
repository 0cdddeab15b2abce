package monitor

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/channelpass/backend/internal/models"
)

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)").
var erc20TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// Default BEP-20 contracts on BSC mainnet. Both carry 18 decimals.
var defaultBSCTokens = map[string]common.Address{
	models.CurrencyUSDTBEP20: common.HexToAddress("0x55d398326f99059fF775485246999027B3197955"),
	models.CurrencyBUSD:      common.HexToAddress("0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56"),
}

// pendingEVMTx keeps a matched transfer around until it passes the
// confirmation threshold, so its confirmation count can keep growing
// across polls without rescanning the block.
type pendingEVMTx struct {
	transfer Transfer
	block    uint64
}

// EVMClient watches a BSC-style EVM network: native coin transfers by
// block scan, BEP-20 token transfers by log filter.
type EVMClient struct {
	url    string
	tokens map[string]common.Address // currency -> contract

	mu      sync.Mutex
	client  *ethclient.Client
	chainID *big.Int
	cursor  uint64
	pending map[string]pendingEVMTx
}

func NewEVMClient(url string, tokens map[string]common.Address) *EVMClient {
	if tokens == nil {
		tokens = defaultBSCTokens
	}
	return &EVMClient{
		url:     url,
		tokens:  tokens,
		pending: make(map[string]pendingEVMTx),
	}
}

func (c *EVMClient) Network() string { return models.NetworkBSC }

func (c *EVMClient) Connect(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, c.url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("chain id: %w", err)
	}

	c.mu.Lock()
	if c.client != nil {
		c.client.Close()
	}
	c.client = client
	c.chainID = chainID
	c.mu.Unlock()
	return nil
}

func (c *EVMClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func (c *EVMClient) IncomingTransfers(ctx context.Context, addrs []string) ([]Transfer, error) {
	c.mu.Lock()
	client := c.client
	chainID := c.chainID
	c.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("not connected")
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}

	watched := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		watched[common.HexToAddress(a)] = true
	}

	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()

	if cursor == 0 {
		// First poll: start at the current head, skip historical blocks.
		c.setCursor(head)
		return c.collectPending(head, watched), nil
	}

	for bn := cursor + 1; bn <= head; bn++ {
		block, err := client.BlockByNumber(ctx, new(big.Int).SetUint64(bn))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", bn, err)
		}
		signer := types.LatestSignerForChainID(chainID)
		for _, tx := range block.Transactions() {
			to := tx.To()
			if to == nil || !watched[*to] || tx.Value().Sign() <= 0 {
				continue
			}
			from, _ := types.Sender(signer, tx)
			c.track(tx.Hash().Hex(), bn, Transfer{
				Address:  to.Hex(),
				TxHash:   tx.Hash().Hex(),
				From:     from.Hex(),
				Amount:   weiToFloat(tx.Value(), 18),
				Currency: models.CurrencyBNB,
			})
		}
	}

	if err := c.scanTokenLogs(ctx, client, cursor+1, head, watched); err != nil {
		return nil, err
	}

	c.setCursor(head)
	return c.collectPending(head, watched), nil
}

func (c *EVMClient) scanTokenLogs(ctx context.Context, client *ethclient.Client, from, to uint64, watched map[common.Address]bool) error {
	if len(c.tokens) == 0 || from > to {
		return nil
	}

	contracts := make([]common.Address, 0, len(c.tokens))
	byContract := make(map[common.Address]string, len(c.tokens))
	for currency, contract := range c.tokens {
		contracts = append(contracts, contract)
		byContract[contract] = currency
	}

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: contracts,
		Topics:    [][]common.Hash{{erc20TransferTopic}},
	})
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}

	for _, l := range logs {
		if len(l.Topics) < 3 || l.Removed {
			continue
		}
		recipient := common.BytesToAddress(l.Topics[2].Bytes()[12:])
		if !watched[recipient] {
			continue
		}
		sender := common.BytesToAddress(l.Topics[1].Bytes()[12:])
		amount := new(big.Int).SetBytes(l.Data)
		c.track(l.TxHash.Hex(), l.BlockNumber, Transfer{
			Address:  recipient.Hex(),
			TxHash:   l.TxHash.Hex(),
			From:     sender.Hex(),
			Amount:   weiToFloat(amount, 18),
			Currency: byContract[l.Address],
		})
	}
	return nil
}

func (c *EVMClient) track(hash string, block uint64, t Transfer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[strings.ToLower(hash)] = pendingEVMTx{transfer: t, block: block}
}

func (c *EVMClient) setCursor(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = head
}

// collectPending recomputes confirmations for every tracked transfer
// and drops entries that are deep past the threshold or no longer
// watched.
func (c *EVMClient) collectPending(head uint64, watched map[common.Address]bool) []Transfer {
	threshold := models.RequiredConfirmations(models.NetworkBSC)

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Transfer
	for hash, p := range c.pending {
		if !watched[common.HexToAddress(p.transfer.Address)] {
			delete(c.pending, hash)
			continue
		}
		// A reorg can move head below the tx's block; the uint64
		// subtraction would wrap, so guard before subtracting.
		conf := 0
		if head >= p.block {
			conf = int(head - p.block + 1)
		}
		t := p.transfer
		t.Confirmations = conf
		out = append(out, t)
		if conf > threshold {
			delete(c.pending, hash)
		}
	}
	return out
}

func weiToFloat(v *big.Int, decimals int) float64 {
	f := new(big.Float).SetInt(v)
	div := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, div).Float64()
	return out
}
