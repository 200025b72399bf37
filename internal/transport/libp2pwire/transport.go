// Package libp2pwire is the reference ports.PeerTransport implementation:
// a direct libp2p stream per message, length-prefixed and NaCl-box
// encrypted to the recipient's peer identity. It deliberately uses only
// the libp2p core host — no DHT or PubSub — since swap peers already know
// each other's multiaddrs from the offer exchange; delivery is
// at-least-once, which internal/fsm's idempotent message handling
// absorbs.
package libp2pwire

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/mwc-swap/swapcore/pkg/logging"
)

// peerAddrTTL is how long an address learned from the offer exchange stays
// in the peerstore before libp2p requires it to be re-supplied.
const peerAddrTTL = 24 * time.Hour

// SwapDirectProtocol is the stream protocol ID swap envelopes travel over.
const SwapDirectProtocol protocol.ID = "/mwc-swap/direct/1.0.0"

const maxMessageSize = 1 << 20 // 1MB

var (
	ErrMessageTooLarge = errors.New("libp2pwire: message exceeds maximum size")
	ErrNoHandler       = errors.New("libp2pwire: no inbound handler registered")
)

// Handler processes an inbound, already-decrypted payload from peerID.
type Handler func(ctx context.Context, peerID string, payload []byte)

// Transport sends and receives opaque payloads over direct libp2p streams,
// satisfying ports.PeerTransport.
type Transport struct {
	host          host.Host
	box           *boxCrypter
	handler       Handler
	log           *logging.Logger
	writeDeadline time.Duration
	readDeadline  time.Duration
}

// New registers the stream handler on h and returns a Transport ready to
// send once SetHandler has been called for inbound delivery.
func New(h host.Host) (*Transport, error) {
	crypter, err := newBoxCrypter(h)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		host:          h,
		box:           crypter,
		log:           logging.GetDefault().Component("libp2pwire"),
		writeDeadline: 30 * time.Second,
		readDeadline:  60 * time.Second,
	}
	h.SetStreamHandler(SwapDirectProtocol, t.handleStream)
	return t, nil
}

// SetHandler registers the callback invoked for each inbound message.
func (t *Transport) SetHandler(h Handler) { t.handler = h }

// AddPeerAddr records the multiaddrs a peer advertised during the offer
// exchange, so a later Send can dial it without a DHT lookup. Addrs that
// fail to parse are skipped individually rather than rejecting the whole
// batch, since a peer may advertise addresses in formats this process
// can't dial (e.g. a relay circuit it doesn't support) alongside ones it
// can.
func (t *Transport) AddPeerAddr(peerID string, addrs []string) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("libp2pwire: decode peer id: %w", err)
	}

	parsed := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, raw := range addrs {
		ma, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			t.log.Warn("skip unparseable peer multiaddr", "peer", peerID, "addr", raw, "err", err)
			continue
		}
		parsed = append(parsed, ma)
	}
	if len(parsed) == 0 {
		return nil
	}

	t.host.Peerstore().AddAddrs(pid, parsed, peerAddrTTL)
	return nil
}

// Send opens a direct stream to peerID, encrypts payload for that peer's
// identity key, and writes it length-prefixed. It does not wait for an
// application-level ACK: at-least-once delivery plus idempotent handling
// on the receiving end makes that unnecessary.
func (t *Transport) Send(ctx context.Context, peerID string, payload []byte) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("libp2pwire: decode peer id: %w", err)
	}

	sealed, err := t.box.seal(pid, payload)
	if err != nil {
		return fmt.Errorf("libp2pwire: encrypt: %w", err)
	}

	stream, err := t.host.NewStream(ctx, pid, SwapDirectProtocol)
	if err != nil {
		return fmt.Errorf("libp2pwire: open stream: %w", err)
	}
	defer stream.Close()

	stream.SetWriteDeadline(time.Now().Add(t.writeDeadline))
	return writeLengthPrefixed(stream, sealed)
}

func (t *Transport) handleStream(s network.Stream) {
	defer s.Close()

	remote := s.Conn().RemotePeer()
	s.SetReadDeadline(time.Now().Add(t.readDeadline))

	reader := bufio.NewReader(s)
	sealed, err := readLengthPrefixed(reader)
	if err != nil {
		t.log.Warn("read inbound stream", "peer", remote.String(), "err", err)
		return
	}

	payload, err := t.box.open(sealed)
	if err != nil {
		t.log.Warn("decrypt inbound message", "peer", remote.String(), "err", err)
		return
	}

	if t.handler == nil {
		t.log.Warn(ErrNoHandler, "peer", remote.String())
		return
	}
	t.handler(context.Background(), remote.String(), payload)
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	if length > maxMessageSize {
		return nil, ErrMessageTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

func writeLengthPrefixed(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return ErrMessageTooLarge
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	_, err := w.Write(data)
	return err
}
