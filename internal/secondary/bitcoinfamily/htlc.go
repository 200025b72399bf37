// Package bitcoinfamily implements the secondary_data contract for
// Bitcoin-family UTXO chains (BTC, LTC, DOGE): an HTLC redeem script and
// the lock address derived from it, dispatched between native SegWit
// (P2WSH) and legacy (P2SH) encoding per chain.
package bitcoinfamily

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/mwc-swap/swapcore/internal/chain"
	"github.com/mwc-swap/swapcore/pkg/helpers"
)

var (
	ErrUnsupportedChain = errors.New("bitcoinfamily: chain not registered for HTLC lock addresses")
	ErrInvalidSecretLen = errors.New("bitcoinfamily: secret hash must be 32 bytes")
	ErrInvalidPubKeyLen = errors.New("bitcoinfamily: public key must be 33 bytes compressed")
	ErrTimeoutOutOfRange = errors.New("bitcoinfamily: timeout blocks must be in (0, 65535]")
)

// LockData is the secondary_data payload for a Bitcoin-family swap leg: the
// HTLC script locking the funds, the lock address derived from it, and the
// components needed to rebuild the witness/scriptSig at redeem or refund
// time.
type LockData struct {
	Script        []byte
	Address       string
	ScriptHash    []byte
	AddressType   chain.AddressType
	SecretHash    []byte
	RedeemPubKey  []byte // seller, claims with the secret
	RefundPubKey  []byte // buyer, reclaims after timeout
	TimeoutBlocks uint32
}

// BuildHTLCScript builds:
//
//	OP_IF
//	    OP_SHA256 <secretHash> OP_EQUALVERIFY
//	    <redeemPubKey> OP_CHECKSIG
//	OP_ELSE
//	    <timeoutBlocks> OP_CHECKSEQUENCEVERIFY OP_DROP
//	    <refundPubKey> OP_CHECKSIG
//	OP_ENDIF
//
// The claim path (OP_IF) needs the secret and the seller's signature; the
// refund path (OP_ELSE) needs the buyer's signature after timeoutBlocks
// have passed since the lock confirmed.
func BuildHTLCScript(secretHash, redeemPubKey, refundPubKey []byte, timeoutBlocks uint32) ([]byte, error) {
	if len(secretHash) != 32 {
		return nil, ErrInvalidSecretLen
	}
	if len(redeemPubKey) != 33 || len(refundPubKey) != 33 {
		return nil, ErrInvalidPubKeyLen
	}
	if timeoutBlocks == 0 || timeoutBlocks > 0xFFFF {
		return nil, ErrTimeoutOutOfRange
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(secretHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(redeemPubKey)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(timeoutBlocks))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(refundPubKey)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// BuildLockData builds the full secondary_data payload: the HTLC script and
// the lock address, encoded as P2WSH where the chain supports SegWit and
// P2SH otherwise (chain.Params.DefaultAddressType).
func BuildLockData(
	secretHash []byte,
	redeemPubKey, refundPubKey *btcec.PublicKey,
	timeoutBlocks uint32,
	symbol string,
	network chain.Network,
) (*LockData, error) {
	redeemBytes := redeemPubKey.SerializeCompressed()
	refundBytes := refundPubKey.SerializeCompressed()

	script, err := BuildHTLCScript(secretHash, redeemBytes, refundBytes, timeoutBlocks)
	if err != nil {
		return nil, fmt.Errorf("build htlc script: %w", err)
	}

	params, addrType, err := chainParams(symbol, network)
	if err != nil {
		return nil, err
	}

	address, scriptHash, err := lockAddress(script, addrType, params)
	if err != nil {
		return nil, err
	}

	return &LockData{
		Script:        script,
		Address:       address,
		ScriptHash:    scriptHash,
		AddressType:   addrType,
		SecretHash:    secretHash,
		RedeemPubKey:  redeemBytes,
		RefundPubKey:  refundBytes,
		TimeoutBlocks: timeoutBlocks,
	}, nil
}

func lockAddress(script []byte, addrType chain.AddressType, params *chaincfg.Params) (string, []byte, error) {
	switch addrType {
	case chain.AddressP2WSH:
		hash := sha256.Sum256(script)
		addr, err := btcutil.NewAddressWitnessScriptHash(hash[:], params)
		if err != nil {
			return "", nil, fmt.Errorf("p2wsh address: %w", err)
		}
		return addr.EncodeAddress(), hash[:], nil
	case chain.AddressP2SH:
		addr, err := btcutil.NewAddressScriptHash(script, params)
		if err != nil {
			return "", nil, fmt.Errorf("p2sh address: %w", err)
		}
		return addr.EncodeAddress(), btcutil.Hash160(script), nil
	default:
		return "", nil, fmt.Errorf("unsupported address type: %s", addrType)
	}
}

// ScriptPubKey returns the on-chain output script locking funds to this
// HTLC, matching AddressType.
func (d *LockData) ScriptPubKey() ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	switch d.AddressType {
	case chain.AddressP2WSH:
		builder.AddOp(txscript.OP_0)
		builder.AddData(d.ScriptHash)
	case chain.AddressP2SH:
		builder.AddOp(txscript.OP_HASH160)
		builder.AddData(d.ScriptHash)
		builder.AddOp(txscript.OP_EQUAL)
	default:
		return nil, fmt.Errorf("unsupported address type: %s", d.AddressType)
	}
	return builder.Script()
}

// ClaimWitness returns the witness stack (SegWit chains) needed to spend
// via the claim path: signature, secret, OP_TRUE selector, script.
func ClaimWitness(signature, secret, script []byte) [][]byte {
	return [][]byte{signature, secret, {0x01}, script}
}

// RefundWitness returns the witness stack needed to spend via the refund
// path: signature, OP_FALSE selector (empty), script.
func RefundWitness(signature, script []byte) [][]byte {
	return [][]byte{signature, {}, script}
}

// GenerateSecret returns a fresh 32-byte secret and its SHA-256 hash.
func GenerateSecret() (secret, hash []byte, err error) {
	secret, err = helpers.GenerateSecureRandom(32)
	if err != nil {
		return nil, nil, fmt.Errorf("generate secret: %w", err)
	}
	h := sha256.Sum256(secret)
	return secret, h[:], nil
}

// VerifySecret reports whether secret hashes to expectedHash.
func VerifySecret(secret, expectedHash []byte) bool {
	if len(secret) != 32 || len(expectedHash) != 32 {
		return false
	}
	actual := sha256.Sum256(secret)
	return helpers.ConstantTimeCompare(actual[:], expectedHash)
}

// ScriptHex returns the hex-encoded HTLC script.
func (d *LockData) ScriptHex() string { return hex.EncodeToString(d.Script) }

// chainParams resolves a btcd chaincfg.Params for symbol/network from this
// engine's own registry, and reports the address encoding to use.
func chainParams(symbol string, network chain.Network) (*chaincfg.Params, chain.AddressType, error) {
	params, ok := chain.Get(symbol, network)
	if !ok {
		return nil, "", ErrUnsupportedChain
	}

	switch symbol {
	case "BTC":
		if network == chain.Testnet {
			return &chaincfg.TestNet3Params, params.DefaultAddressType, nil
		}
		return &chaincfg.MainNetParams, params.DefaultAddressType, nil
	case "LTC":
		return cloneParams("litecoin", params), params.DefaultAddressType, nil
	case "DOGE":
		return cloneParams("dogecoin", params), params.DefaultAddressType, nil
	default:
		return nil, "", ErrUnsupportedChain
	}
}

// cloneParams starts from btcd's mainnet params (for its opcode/serialize
// behavior) and overrides the address-encoding fields with this chain's
// own registry values.
func cloneParams(name string, params *chain.Params) *chaincfg.Params {
	cfg := chaincfg.MainNetParams
	cfg.Name = name
	cfg.Bech32HRPSegwit = params.Bech32HRP
	cfg.ScriptHashAddrID = params.ScriptHashAddrID
	return &cfg
}
