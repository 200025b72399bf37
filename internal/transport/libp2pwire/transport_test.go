package libp2pwire

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/stretchr/testify/require"
)

func TestWriteLengthPrefixed(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"empty message", []byte{}, false},
		{"small message", []byte("hello world"), false},
		{"json message", []byte(`{"kind":"offer"}`), false},
		{"binary data", []byte{0x00, 0x01, 0xff, 0xfe}, false},
		{"too large", make([]byte, maxMessageSize+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := writeLengthPrefixed(&buf, tt.data)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			result := buf.Bytes()
			require.GreaterOrEqual(t, len(result), 4)
			length := binary.BigEndian.Uint32(result[:4])
			require.Equal(t, len(tt.data), int(length))
			require.True(t, bytes.Equal(result[4:], tt.data))
		})
	}
}

func TestReadLengthPrefixedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("round trip payload")
	require.NoError(t, writeLengthPrefixed(&buf, payload))

	got, err := readLengthPrefixed(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadLengthPrefixedRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(maxMessageSize+1)))

	_, err := readLengthPrefixed(&buf)
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func newTestHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestAddPeerAddrRegistersDialableAddrs(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	transportA, err := New(hostA)
	require.NoError(t, err)

	addrs := make([]string, len(hostB.Addrs()))
	for i, a := range hostB.Addrs() {
		addrs[i] = a.String()
	}

	err = transportA.AddPeerAddr(hostB.ID().String(), addrs)
	require.NoError(t, err)
	require.NotEmpty(t, hostA.Peerstore().Addrs(hostB.ID()))
}

func TestAddPeerAddrSkipsUnparseableEntriesWithoutError(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	transportA, err := New(hostA)
	require.NoError(t, err)

	err = transportA.AddPeerAddr(hostB.ID().String(), []string{"not-a-multiaddr"})
	require.NoError(t, err)
	require.Empty(t, hostA.Peerstore().Addrs(hostB.ID()))
}

func TestAddPeerAddrRejectsBadPeerID(t *testing.T) {
	hostA := newTestHost(t)
	transportA, err := New(hostA)
	require.NoError(t, err)

	err = transportA.AddPeerAddr("not-a-peer-id", []string{"/ip4/127.0.0.1/tcp/4001"})
	require.Error(t, err)
}

func TestSendDeliversDecryptedPayload(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	hostA.Peerstore().AddAddrs(hostB.ID(), hostB.Addrs(), time.Hour)
	hostB.Peerstore().AddAddrs(hostA.ID(), hostA.Addrs(), time.Hour)

	transportA, err := New(hostA)
	require.NoError(t, err)
	transportB, err := New(hostB)
	require.NoError(t, err)

	received := make(chan []byte, 1)
	transportB.SetHandler(func(ctx context.Context, peerID string, payload []byte) {
		received <- payload
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = transportA.Send(ctx, hostB.ID().String(), []byte("hello from A"))
	require.NoError(t, err)

	select {
	case payload := <-received:
		require.Equal(t, "hello from A", string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
