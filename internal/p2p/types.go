// Package p2p implements the helper's libp2p-backed networking: identity
// and host construction (C5), the connection manager (C4), the stream
// registry (C6), the pubsub validator bridge (C7), and discovery (C8).
package p2p

import (
	"fmt"
	"strconv"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// PeerInfo is the wire-level peer address tuple (spec §3).
type PeerInfo struct {
	Host       string `json:"host"`
	LibP2PPort int    `json:"libp2p_port"`
	PeerID     string `json:"peer_id"`
}

// peerInfoFromMultiaddr derives a PeerInfo from a remote multiaddr plus the
// peer ID of the connection it belongs to. It rejects any multiaddr whose
// first component is not IPv4 or IPv6 followed immediately by TCP, per
// spec §3.
func peerInfoFromMultiaddr(id peer.ID, a multiaddr.Multiaddr) (PeerInfo, error) {
	ip, err := manet.ToIP(a)
	if err != nil {
		return PeerInfo{}, fmt.Errorf("p2p: address %s is not IP-based: %w", a, err)
	}

	var port int
	pos := 0
	multiaddr.ForEach(a, func(c multiaddr.Component) bool {
		if pos == 1 && c.Protocol().Code == multiaddr.P_TCP {
			port, _ = strconv.Atoi(c.Value())
		}
		pos++
		return pos < 2
	})
	if port == 0 {
		return PeerInfo{}, fmt.Errorf("p2p: address %s has no TCP component right after its IP component", a)
	}

	return PeerInfo{
		Host:       ip.String(),
		LibP2PPort: port,
		PeerID:     id.String(),
	}, nil
}
