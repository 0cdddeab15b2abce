package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/channelpass/backend/internal/models"
)

// TronClient speaks the TronGrid HTTP API: TRC-20 transfer history per
// account, plus block lookups to derive confirmation counts.
type TronClient struct {
	baseURL      string
	apiKey       string
	usdtContract string
	httpClient   *http.Client

	mu       sync.Mutex
	txBlocks map[string]int64 // tx id -> block number cache
}

func NewTronClient(baseURL, apiKey, usdtContract string) *TronClient {
	return &TronClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		usdtContract: usdtContract,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		txBlocks:     make(map[string]int64),
	}
}

func (c *TronClient) Network() string { return models.NetworkTron }

func (c *TronClient) Connect(ctx context.Context) error {
	// Stateless HTTP API; a connection is "up" when the node answers.
	_, err := c.nowBlock(ctx)
	return err
}

func (c *TronClient) Close() {}

func (c *TronClient) IncomingTransfers(ctx context.Context, addrs []string) ([]Transfer, error) {
	head, err := c.nowBlock(ctx)
	if err != nil {
		return nil, err
	}

	var transfers []Transfer
	for _, addr := range addrs {
		txs, err := c.trc20Transfers(ctx, addr)
		if err != nil {
			return nil, err
		}
		for _, tx := range txs {
			amount, err := trc20Value(tx.Value, tx.TokenInfo.Decimals)
			if err != nil {
				continue
			}
			block, err := c.txBlock(ctx, tx.TransactionID)
			if err != nil {
				return nil, err
			}
			conf := 0
			if block > 0 && head >= block {
				conf = int(head - block + 1)
			}
			transfers = append(transfers, Transfer{
				Address:       addr,
				TxHash:        tx.TransactionID,
				From:          tx.From,
				Amount:        amount,
				Currency:      models.CurrencyUSDTTRC20,
				Confirmations: conf,
			})
		}
	}
	return transfers, nil
}

type trc20Tx struct {
	TransactionID string `json:"transaction_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Value         string `json:"value"`
	TokenInfo     struct {
		Decimals int `json:"decimals"`
	} `json:"token_info"`
}

func (c *TronClient) trc20Transfers(ctx context.Context, address string) ([]trc20Tx, error) {
	url := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?only_to=true&limit=50&contract_address=%s",
		c.baseURL, address, c.usdtContract)

	var resp struct {
		Data []trc20Tx `json:"data"`
	}
	if err := c.get(ctx, url, &resp); err != nil {
		return nil, fmt.Errorf("trc20 transfers for %s: %w", address, err)
	}
	return resp.Data, nil
}

func (c *TronClient) nowBlock(ctx context.Context) (int64, error) {
	var resp struct {
		BlockHeader struct {
			RawData struct {
				Number int64 `json:"number"`
			} `json:"raw_data"`
		} `json:"block_header"`
	}
	if err := c.post(ctx, c.baseURL+"/wallet/getnowblock", nil, &resp); err != nil {
		return 0, fmt.Errorf("get now block: %w", err)
	}
	return resp.BlockHeader.RawData.Number, nil
}

func (c *TronClient) txBlock(ctx context.Context, txID string) (int64, error) {
	c.mu.Lock()
	if block, ok := c.txBlocks[txID]; ok {
		c.mu.Unlock()
		return block, nil
	}
	c.mu.Unlock()

	var resp struct {
		BlockNumber int64 `json:"blockNumber"`
	}
	body := map[string]string{"value": txID}
	if err := c.post(ctx, c.baseURL+"/wallet/gettransactioninfobyid", body, &resp); err != nil {
		return 0, fmt.Errorf("tx info %s: %w", txID, err)
	}

	if resp.BlockNumber > 0 {
		c.mu.Lock()
		c.txBlocks[txID] = resp.BlockNumber
		c.mu.Unlock()
	}
	return resp.BlockNumber, nil
}

func (c *TronClient) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *TronClient) post(ctx context.Context, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(data))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *TronClient) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tron node unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tron node returned %d: %s", resp.StatusCode, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// trc20Value converts an integer token value string into a float using
// the token's decimals (USDT on TRON carries 6).
func trc20Value(value string, decimals int) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	for i := 0; i < decimals; i++ {
		v /= 10
	}
	return v, nil
}
