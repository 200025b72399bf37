package backend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwc-swap/swapcore/internal/ports"
)

// EsploraClient implements ports.SecondaryClient against an Esplora-style
// REST API (blockstream.info, mempool.space, litecoinspace.org, or a
// self-hosted instance), the same surface for every Bitcoin-family chain.
type EsploraClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewEsploraClient creates a secondary-chain client for the API at
// baseURL.
func NewEsploraClient(baseURL string) *EsploraClient {
	return &EsploraClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *EsploraClient) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTxNotFound
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// GetTipHeight returns the current secondary-chain tip height.
func (c *EsploraClient) GetTipHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.get(ctx, "/blocks/tip/height", &height); err != nil {
		return 0, err
	}
	return height, nil
}

// esploraTxStatus is the confirmation-relevant slice of Esplora's
// transaction format.
type esploraTxStatus struct {
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint64 `json:"block_height"`
	} `json:"status"`
}

// GetConfirmations returns the confirmation depth of txid: 0 while it sits
// in the mempool, tip - block_height + 1 once confirmed.
func (c *EsploraClient) GetConfirmations(ctx context.Context, txid string) (uint32, error) {
	var tx esploraTxStatus
	if err := c.get(ctx, "/tx/"+txid, &tx); err != nil {
		return 0, err
	}
	if !tx.Status.Confirmed {
		return 0, nil
	}

	tip, err := c.GetTipHeight(ctx)
	if err != nil {
		return 0, err
	}
	if tip < tx.Status.BlockHeight {
		return 0, nil
	}
	return uint32(tip - tx.Status.BlockHeight + 1), nil
}

// BroadcastTx submits a raw transaction. Esplora expects the hex-encoded
// transaction as a plain-text body and answers with the txid.
func (c *EsploraClient) BroadcastTx(ctx context.Context, txBytes []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/tx", strings.NewReader(hex.EncodeToString(txBytes)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s", ErrBroadcastFailed, string(body))
	}
	return nil
}

var _ ports.SecondaryClient = (*EsploraClient)(nil)
