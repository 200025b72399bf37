// Package ports declares the external collaborators the swap engine treats
// as boundaries: wallet-backed key derivation, the primary-chain node
// client, durable storage, and the peer transport. Nothing in this package
// implements these — internal/store and internal/transport/libp2pwire
// provide the reference implementations used by cmd/swapd; tests supply
// their own fakes.
package ports

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Commitment is the compressed serialization of a Pedersen commitment
// (v*H + r*G), 33 bytes.
type Commitment [33]byte

// SwitchType selects the blinding-factor derivation scheme a Keychain uses,
// mirroring the primary wallet's plain/regular switch commitment schemes.
type SwitchType uint8

const (
	SwitchNone SwitchType = iota
	SwitchRegular
)

// KeyID identifies a derivation path understood by the Keychain
// implementation; the swap engine never interprets its contents.
type KeyID []byte

// Keychain is consumed read-only for cryptographic operations: it is never
// mutated by the swap engine.
type Keychain interface {
	// DeriveKey returns the secret key at keyID for the given amount and
	// switch type.
	DeriveKey(ctx context.Context, amount uint64, keyID KeyID, switchType SwitchType) (*btcec.PrivateKey, error)

	// Commit returns the Pedersen commitment for amount under keyID.
	Commit(ctx context.Context, amount uint64, keyID KeyID, switchType SwitchType) (Commitment, error)
}

// KernelFeatures mirrors the primary chain's kernel feature byte: Plain
// kernels carry no lock height, HeightLocked kernels do.
type KernelFeatures uint8

const (
	KernelPlain        KernelFeatures = 0
	KernelHeightLocked KernelFeatures = 1
)

// Kernel is the signed-excess component of a primary-chain transaction,
// observable on-chain once a slate's transaction confirms.
type Kernel struct {
	Features   KernelFeatures
	Fee        uint64
	LockHeight uint64
	Excess     Commitment
	ExcessSig  [64]byte
}

// NodeClient is a concurrent-safe RPC client shared by all sessions.
type NodeClient interface {
	// GetKernel looks up a kernel by excess commitment within the given
	// height range. A nil kernel with a nil error means not found.
	GetKernel(ctx context.Context, excess Commitment, minHeight, maxHeight uint64) (*Kernel, uint64, uint64, error)

	// PostTx submits a transaction. fluff controls whether to skip
	// dandelion aggregation and broadcast immediately.
	PostTx(ctx context.Context, txBytes []byte, fluff bool) error

	GetTip(ctx context.Context) (height uint64, hash [32]byte, err error)

	GetHeader(ctx context.Context, height uint64) (timestamp int64, err error)
}

// Batch is a single persistence transaction: write-then-commit discipline,
// one batch per accepted FSM transition, committed before any outbound
// broadcast.
type Batch interface {
	WriteSession(sessionID string, serialized []byte) error
	DeletePrivateContext(sessionID string) error
	Commit() error
	Rollback() error
}

// Persistence opens batches and reads back previously committed sessions.
type Persistence interface {
	OpenBatch(ctx context.Context) (Batch, error)
	ReadSession(ctx context.Context, sessionID string) ([]byte, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// PeerTransport sends an authenticated, opaque message payload to the peer
// identified by peerID. At-least-once delivery is acceptable: the FSM's
// idempotent message handling absorbs duplicates.
type PeerTransport interface {
	Send(ctx context.Context, peerID string, payload []byte) error
}

// SecondaryClient is the Bitcoin-family RPC boundary the FSM consults for
// the secondary leg: broadcasting the lock/claim/refund transaction and
// checking a transaction's confirmation depth by txid.
type SecondaryClient interface {
	BroadcastTx(ctx context.Context, txBytes []byte) error
	GetConfirmations(ctx context.Context, txid string) (uint32, error)
	GetTipHeight(ctx context.Context) (uint64, error)
}
