package libp2pwire

import (
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/nacl/box"
)

var ErrDecryptFailed = errors.New("libp2pwire: decryption failed")

// boxCrypter seals/opens stream payloads with NaCl box (X25519 + XSalsa20-
// Poly1305), deriving X25519 keys from the host's Ed25519 libp2p identity
// rather than requiring a second keypair.
type boxCrypter struct {
	localPriv [32]byte
}

func newBoxCrypter(h host.Host) (*boxCrypter, error) {
	priv, err := ed25519PrivToX25519(h.Peerstore().PrivKey(h.ID()))
	if err != nil {
		return nil, fmt.Errorf("derive x25519 identity: %w", err)
	}
	return &boxCrypter{localPriv: priv}, nil
}

// sealed wire format: [24-byte nonce][32-byte ephemeral pubkey][ciphertext]
func (c *boxCrypter) seal(recipient peer.ID, plaintext []byte) ([]byte, error) {
	recipientPub, err := peerIDToX25519Pub(recipient)
	if err != nil {
		return nil, err
	}

	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := box.Seal(nil, plaintext, &nonce, &recipientPub, ephemeralPriv)

	out := make([]byte, 0, 24+32+len(ciphertext))
	out = append(out, nonce[:]...)
	out = append(out, ephemeralPub[:]...)
	out = append(out, ciphertext...)
	return out, nil
}

func (c *boxCrypter) open(sealed []byte) ([]byte, error) {
	if len(sealed) < 24+32 {
		return nil, ErrDecryptFailed
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	var ephemeralPub [32]byte
	copy(ephemeralPub[:], sealed[24:56])
	ciphertext := sealed[56:]

	plaintext, ok := box.Open(nil, ciphertext, &nonce, &ephemeralPub, &c.localPriv)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// ed25519PrivToX25519 converts a libp2p Ed25519 identity key to an X25519
// private scalar: hash the 32-byte seed with SHA-512 and clamp per the
// X25519 spec.
func ed25519PrivToX25519(privKey p2pcrypto.PrivKey) ([32]byte, error) {
	var out [32]byte

	raw, err := privKey.Raw()
	if err != nil {
		return out, fmt.Errorf("raw private key: %w", err)
	}
	if len(raw) < 32 {
		return out, fmt.Errorf("unexpected private key length: %d", len(raw))
	}

	h := sha512.Sum512(raw[:32])
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	copy(out[:], h[:32])
	return out, nil
}

// peerIDToX25519Pub extracts a peer's Ed25519 public key from its peer ID
// and converts the Edwards point to its Montgomery u-coordinate.
func peerIDToX25519Pub(id peer.ID) ([32]byte, error) {
	var out [32]byte

	pub, err := id.ExtractPublicKey()
	if err != nil {
		return out, fmt.Errorf("extract public key: %w", err)
	}
	raw, err := pub.Raw()
	if err != nil {
		return out, fmt.Errorf("raw public key: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("unexpected public key length: %d", len(raw))
	}

	point, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		return out, fmt.Errorf("invalid ed25519 point: %w", err)
	}
	copy(out[:], point.BytesMontgomery())
	return out, nil
}
