// Package gating implements the helper's mutable peer/IP gating policy and
// its libp2p connmgr.ConnectionGater binding (spec §3 "Gating state", §4.3).
package gating

import (
	"net"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// Policy is an immutable snapshot of the gating state. A new Policy
// replaces the old one atomically; existing connections are not affected,
// only future checkpoints (spec §4.3).
type Policy struct {
	denyNets     []*net.IPNet
	allowNets    []*net.IPNet
	allowedPeers map[peer.ID]struct{}
	deniedPeers  map[peer.ID]struct{}
	isolate      bool
}

// Config is the host-supplied shape for setGatingConfig. DeniedCIDRs and
// AllowedCIDRs together model spec §3's addr_filters map (CIDR -> allow |
// deny); AllowedCIDRs entries override both DeniedCIDRs and Isolate (spec
// §3's isolate rule: "deny-all 0.0.0.0/0 plus whatever explicit allow
// entries exist").
type Config struct {
	DeniedCIDRs  []string
	AllowedCIDRs []string
	AllowedPeers []peer.ID
	DeniedPeers  []peer.ID
	Isolate      bool
}

// NewPolicy parses cfg into a Policy. A malformed CIDR is skipped rather
// than failing the whole config, since one bad entry shouldn't strand the
// node ungated.
func NewPolicy(cfg Config) *Policy {
	p := &Policy{
		allowedPeers: make(map[peer.ID]struct{}, len(cfg.AllowedPeers)),
		deniedPeers:  make(map[peer.ID]struct{}, len(cfg.DeniedPeers)),
		isolate:      cfg.Isolate,
	}
	for _, cidr := range cfg.DeniedCIDRs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		p.denyNets = append(p.denyNets, ipnet)
	}
	for _, cidr := range cfg.AllowedCIDRs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		p.allowNets = append(p.allowNets, ipnet)
	}
	for _, id := range cfg.AllowedPeers {
		p.allowedPeers[id] = struct{}{}
	}
	for _, id := range cfg.DeniedPeers {
		p.deniedPeers[id] = struct{}{}
	}
	if cfg.Isolate {
		_, all4, _ := net.ParseCIDR("0.0.0.0/0")
		_, all6, _ := net.ParseCIDR("::/0")
		p.denyNets = append(p.denyNets, all4, all6)
	}
	return p
}

// peerAllowed implements "allow iff peer ∈ allowed_peers ∨ peer ∉
// denied_peers" — allowed_peers strictly overrides denied_peers (spec
// invariant 4).
func (p *Policy) peerAllowed(id peer.ID) bool {
	if _, ok := p.allowedPeers[id]; ok {
		return true
	}
	_, denied := p.deniedPeers[id]
	return !denied
}

// addrAllowed implements spec §3's addr_filters: an allow-CIDR match
// overrides any deny-CIDR match, including the deny-all pair Isolate adds,
// so a trusted range stays reachable even while isolated.
func (p *Policy) addrAllowed(a multiaddr.Multiaddr) bool {
	ip, err := manet.ToIP(a)
	if err != nil {
		// Non-IP transports (e.g. relay/circuit) aren't subject to CIDR
		// filtering; only the peer-ID rule applies to them.
		return true
	}
	for _, n := range p.allowNets {
		if n.Contains(ip) {
			return true
		}
	}
	for _, n := range p.denyNets {
		if n.Contains(ip) {
			return false
		}
	}
	return true
}

// Gater adapts an atomically-replaceable Policy to libp2p's
// connmgr.ConnectionGater.
type Gater struct {
	policy atomic.Pointer[Policy]
}

var _ connmgr.ConnectionGater = (*Gater)(nil)

// NewGater returns a Gater with an empty (allow-all) starting policy.
func NewGater() *Gater {
	g := &Gater{}
	g.Set(NewPolicy(Config{}))
	return g
}

// Set atomically replaces the active policy.
func (g *Gater) Set(p *Policy) {
	g.policy.Store(p)
}

func (g *Gater) current() *Policy {
	return g.policy.Load()
}

// InterceptPeerDial — "Peer dial" row.
func (g *Gater) InterceptPeerDial(id peer.ID) bool {
	return g.current().peerAllowed(id)
}

// InterceptAddrDial — "Address dial" row: peer rule AND address rule.
func (g *Gater) InterceptAddrDial(id peer.ID, a multiaddr.Multiaddr) bool {
	p := g.current()
	return p.peerAllowed(id) && p.addrAllowed(a)
}

// InterceptAccept — "Inbound accept" row: address rule only (peer id not
// yet known at this checkpoint).
func (g *Gater) InterceptAccept(addrs network.ConnMultiaddrs) bool {
	return g.current().addrAllowed(addrs.RemoteMultiaddr())
}

// InterceptSecured — "Secured" row: peer rule AND address rule combined.
func (g *Gater) InterceptSecured(_ network.Direction, id peer.ID, addrs network.ConnMultiaddrs) bool {
	p := g.current()
	return p.peerAllowed(id) && p.addrAllowed(addrs.RemoteMultiaddr())
}

// InterceptUpgraded — "Upgraded" row: always allow (reserved).
func (g *Gater) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
