package p2p

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Keypair is the generateKeypair response shape (spec §9 S1): private key,
// public key, and derived peer ID, each in libp2p protobuf-marshalled form
// (base64 on the wire, handled automatically by encoding/json's []byte
// marshaling).
type Keypair struct {
	PrivateKey []byte `json:"sk"`
	PublicKey  []byte `json:"pk"`
	PeerID     string `json:"peer_id"`
}

// GenerateKeypair creates a fresh Ed25519 identity, grounded on the
// teacher's loadOrCreateIdentity which generates via
// libp2pcrypto.GenerateEd25519Key(rand.Reader) when no key is on disk.
func GenerateKeypair() (Keypair, error) {
	priv, pub, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return Keypair{}, fmt.Errorf("p2p: generate keypair: %w", err)
	}
	return marshalKeypair(priv, pub)
}

// DecodePrivateKey unmarshals a protobuf-marshalled private key as handed
// to configure's privk field.
func DecodePrivateKey(b []byte) (crypto.PrivKey, error) {
	priv, err := crypto.UnmarshalPrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("p2p: unmarshal private key: %w", err)
	}
	return priv, nil
}

func marshalKeypair(priv crypto.PrivKey, pub crypto.PubKey) (Keypair, error) {
	skBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return Keypair{}, fmt.Errorf("p2p: marshal private key: %w", err)
	}
	pkBytes, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return Keypair{}, fmt.Errorf("p2p: marshal public key: %w", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return Keypair{}, fmt.Errorf("p2p: derive peer id: %w", err)
	}
	return Keypair{
		PrivateKey: skBytes,
		PublicKey:  pkBytes,
		PeerID:     id.String(),
	}, nil
}
