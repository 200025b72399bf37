// Package backend provides the concrete clients cmd/swapd wires into the
// engine's port interfaces: a JSON-RPC client for the primary chain's node
// (ports.NodeClient), an Esplora-style REST client for the Bitcoin-family
// secondary chain (ports.SecondaryClient), and an HD-wallet keychain
// (ports.Keychain). This package is read-only for private keys beyond the
// keychain's own derivation - all protocol signing happens in the swap
// packages.
package backend

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mwc-swap/swapcore/internal/ports"
)

// Common errors
var (
	ErrNotConnected    = errors.New("backend: node not reachable")
	ErrBroadcastFailed = errors.New("backend: broadcast failed")
	ErrRateLimited     = errors.New("backend: rate limited")
	ErrTxNotFound      = errors.New("backend: transaction not found")
)

// PrimaryNode implements ports.NodeClient against the primary node's
// JSON-RPC 2.0 foreign API. Every result arrives wrapped in an Ok/Err
// envelope; a kernel lookup miss is an Err("NotFound"), which GetKernel
// translates to the (nil, nil) not-found contract rather than an error.
type PrimaryNode struct {
	rpcURL     string
	rpcUser    string
	rpcPass    string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// NewPrimaryNode creates a node client for the foreign API at rpcURL.
// user/pass may be empty when the node runs without basic auth.
func NewPrimaryNode(rpcURL, user, pass string) *PrimaryNode {
	return &PrimaryNode{
		rpcURL:  rpcURL,
		rpcUser: user,
		rpcPass: pass,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// okEnvelope is the node's Ok/Err result wrapper.
type okEnvelope struct {
	Ok  json.RawMessage `json:"Ok"`
	Err json.RawMessage `json:"Err"`
}

func (n *PrimaryNode) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      n.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.rpcUser != "" {
		req.SetBasicAuth(n.rpcUser, n.rpcPass)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("backend: %s status %d: %s", method, resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("backend: %s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var env okEnvelope
	if err := json.Unmarshal(rpcResp.Result, &env); err != nil {
		return nil, err
	}
	if env.Err != nil {
		return nil, fmt.Errorf("backend: %s: %s", method, string(env.Err))
	}
	return env.Ok, nil
}

// wireKernel is the node's kernel lookup result shape.
type wireKernel struct {
	TxKernel struct {
		Features   string `json:"features"`
		Fee        uint64 `json:"fee"`
		LockHeight uint64 `json:"lock_height"`
		Excess     string `json:"excess"`
		ExcessSig  string `json:"excess_sig"`
	} `json:"tx_kernel"`
	Height   uint64 `json:"height"`
	MMRIndex uint64 `json:"mmr_index"`
}

// GetKernel looks up a kernel by excess commitment within [minHeight,
// maxHeight]. A not-found Err from the node is reported as (nil, 0, 0,
// nil) per the ports.NodeClient contract.
func (n *PrimaryNode) GetKernel(ctx context.Context, excess ports.Commitment, minHeight, maxHeight uint64) (*ports.Kernel, uint64, uint64, error) {
	result, err := n.call(ctx, "get_kernel", []any{hex.EncodeToString(excess[:]), minHeight, maxHeight})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, 0, nil
		}
		return nil, 0, 0, err
	}

	var w wireKernel
	if err := json.Unmarshal(result, &w); err != nil {
		return nil, 0, 0, err
	}

	kernel := &ports.Kernel{
		Fee:        w.TxKernel.Fee,
		LockHeight: w.TxKernel.LockHeight,
	}
	if w.TxKernel.Features == "HeightLocked" {
		kernel.Features = ports.KernelHeightLocked
	}

	excessBytes, err := hex.DecodeString(w.TxKernel.Excess)
	if err != nil || len(excessBytes) != 33 {
		return nil, 0, 0, fmt.Errorf("backend: malformed kernel excess %q", w.TxKernel.Excess)
	}
	copy(kernel.Excess[:], excessBytes)

	sigBytes, err := hex.DecodeString(w.TxKernel.ExcessSig)
	if err != nil || len(sigBytes) != 64 {
		return nil, 0, 0, fmt.Errorf("backend: malformed kernel signature %q", w.TxKernel.ExcessSig)
	}
	copy(kernel.ExcessSig[:], sigBytes)

	return kernel, w.Height, w.MMRIndex, nil
}

// isNotFound matches the node's Err("NotFound") payload, surfaced by call
// as a formatted error carrying the raw Err JSON.
func isNotFound(err error) bool {
	return err != nil && bytes.Contains([]byte(err.Error()), []byte("NotFound"))
}

// PostTx submits a transaction. fluff skips dandelion aggregation and
// broadcasts immediately.
func (n *PrimaryNode) PostTx(ctx context.Context, txBytes []byte, fluff bool) error {
	_, err := n.call(ctx, "push_transaction", []any{hex.EncodeToString(txBytes), fluff})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	return nil
}

// GetTip returns the node's current chain tip.
func (n *PrimaryNode) GetTip(ctx context.Context) (uint64, [32]byte, error) {
	var hash [32]byte

	result, err := n.call(ctx, "get_tip", []any{})
	if err != nil {
		return 0, hash, err
	}

	var tip struct {
		Height          uint64 `json:"height"`
		LastBlockPushed string `json:"last_block_pushed"`
	}
	if err := json.Unmarshal(result, &tip); err != nil {
		return 0, hash, err
	}

	hashBytes, err := hex.DecodeString(tip.LastBlockPushed)
	if err != nil || len(hashBytes) != 32 {
		return 0, hash, fmt.Errorf("backend: malformed tip hash %q", tip.LastBlockPushed)
	}
	copy(hash[:], hashBytes)

	return tip.Height, hash, nil
}

// GetHeader returns the timestamp of the header at height.
func (n *PrimaryNode) GetHeader(ctx context.Context, height uint64) (int64, error) {
	result, err := n.call(ctx, "get_header", []any{height, nil, nil})
	if err != nil {
		return 0, err
	}

	var header struct {
		Timestamp int64 `json:"timestamp_raw"`
	}
	if err := json.Unmarshal(result, &header); err != nil {
		return 0, err
	}
	return header.Timestamp, nil
}

var _ ports.NodeClient = (*PrimaryNode)(nil)
