package backend

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mwc-swap/swapcore/internal/multisig"
	"github.com/mwc-swap/swapcore/internal/ports"
)

var (
	ErrEmptyKeyID     = errors.New("backend: key id is empty")
	ErrMalformedKeyID = errors.New("backend: key id must be a sequence of 4-byte child indexes")
	ErrZeroBlind      = errors.New("backend: derived blinding factor is zero")
)

// HDKeychain implements ports.Keychain on top of a BIP32 master key. A
// KeyID is interpreted as a derivation path: consecutive 4-byte big-endian
// child indexes under the master key. Derivation is deterministic, so a
// restarted daemon re-derives the same blinding keys the multisig builder
// needs after a multisig.Restore.
type HDKeychain struct {
	master *hdkeychain.ExtendedKey
}

// NewHDKeychain builds a keychain from a wallet seed. params only selects
// the extended-key version bytes; no addresses are ever derived here.
func NewHDKeychain(seed []byte, params *chaincfg.Params) (*HDKeychain, error) {
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("backend: derive master key: %w", err)
	}
	return &HDKeychain{master: master}, nil
}

// childIndexes parses a KeyID into its 4-byte big-endian path segments.
func childIndexes(keyID ports.KeyID) ([]uint32, error) {
	if len(keyID) == 0 {
		return nil, ErrEmptyKeyID
	}
	if len(keyID)%4 != 0 {
		return nil, ErrMalformedKeyID
	}
	indexes := make([]uint32, 0, len(keyID)/4)
	for i := 0; i < len(keyID); i += 4 {
		indexes = append(indexes, binary.BigEndian.Uint32(keyID[i:i+4]))
	}
	return indexes, nil
}

// DeriveKey returns the blinding key at keyID. SwitchRegular adds a
// deterministic tweak bound to both the base key and the amount, so the
// same path yields unlinkable blinds for different amounts; SwitchNone
// returns the path key as-is.
func (k *HDKeychain) DeriveKey(_ context.Context, amount uint64, keyID ports.KeyID, switchType ports.SwitchType) (*btcec.PrivateKey, error) {
	indexes, err := childIndexes(keyID)
	if err != nil {
		return nil, err
	}

	key := k.master
	for _, index := range indexes {
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("backend: derive child %d: %w", index, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("backend: extract private key: %w", err)
	}

	if switchType == ports.SwitchNone {
		return priv, nil
	}
	return switchTweak(priv, amount)
}

// switchTweak returns base + H(base_pub || amount) mod n.
func switchTweak(base *btcec.PrivateKey, amount uint64) (*btcec.PrivateKey, error) {
	h := sha256.New()
	h.Write(base.PubKey().SerializeCompressed())
	var amountBytes [8]byte
	binary.BigEndian.PutUint64(amountBytes[:], amount)
	h.Write(amountBytes[:])

	var tweak secp256k1.ModNScalar
	tweak.SetByteSlice(h.Sum(nil))

	var sum secp256k1.ModNScalar
	sum.Set(&base.Key).Add(&tweak)
	if sum.IsZero() {
		return nil, ErrZeroBlind
	}

	sumBytes := sum.Bytes()
	priv, _ := btcec.PrivKeyFromBytes(sumBytes[:])
	return priv, nil
}

// Commit returns the Pedersen commitment for amount under keyID, using the
// same second generator as the multisig builder so both sides of the
// engine agree on every commitment byte-for-byte.
func (k *HDKeychain) Commit(ctx context.Context, amount uint64, keyID ports.KeyID, switchType ports.SwitchType) (ports.Commitment, error) {
	priv, err := k.DeriveKey(ctx, amount, keyID, switchType)
	if err != nil {
		return ports.Commitment{}, err
	}
	return multisig.Commit(amount, priv), nil
}

var _ ports.Keychain = (*HDKeychain)(nil)
