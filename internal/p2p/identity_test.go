package p2p

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

func TestGenerateKeypairDerivesMatchingPeerID(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(kp.PrivateKey) == 0 || len(kp.PublicKey) == 0 || kp.PeerID == "" {
		t.Fatal("expected nonempty sk, pk, peer_id")
	}

	pub, err := crypto.UnmarshalPublicKey(kp.PublicKey)
	if err != nil {
		t.Fatalf("unmarshal public key: %v", err)
	}
	derived, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("derive peer id: %v", err)
	}
	if derived.String() != kp.PeerID {
		t.Fatalf("peer_id mismatch: got %s want %s", kp.PeerID, derived.String())
	}

	priv, err := DecodePrivateKey(kp.PrivateKey)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if !priv.GetPublic().Equals(pub) {
		t.Fatal("private/public key mismatch")
	}
}

func TestGenerateKeypairIsFreshEachCall(t *testing.T) {
	a, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	b, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}
	if a.PeerID == b.PeerID {
		t.Fatal("two generated keypairs must not collide")
	}
}
