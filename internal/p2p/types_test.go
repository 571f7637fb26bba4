package p2p

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

func mustTestPeer(t *testing.T) peer.ID {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}
	return id
}

func TestPeerInfoFromMultiaddrIPv4TCP(t *testing.T) {
	id := mustTestPeer(t)
	addr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	if err != nil {
		t.Fatalf("multiaddr: %v", err)
	}
	pi, err := peerInfoFromMultiaddr(id, addr)
	if err != nil {
		t.Fatalf("peerInfoFromMultiaddr: %v", err)
	}
	if pi.Host != "127.0.0.1" || pi.LibP2PPort != 4001 || pi.PeerID != id.String() {
		t.Fatalf("unexpected PeerInfo: %+v", pi)
	}
}

func TestPeerInfoFromMultiaddrRejectsNonTCP(t *testing.T) {
	id := mustTestPeer(t)
	addr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/udp/4001")
	if err != nil {
		t.Fatalf("multiaddr: %v", err)
	}
	if _, err := peerInfoFromMultiaddr(id, addr); err == nil {
		t.Fatal("expected error for a non-TCP multiaddr")
	}
}
