package gating

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

func mustPeer(t *testing.T) peer.ID {
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

func TestAllowedPeersOverridesDenied(t *testing.T) {
	p := mustPeer(t)
	policy := NewPolicy(Config{
		AllowedPeers: []peer.ID{p},
		DeniedPeers:  []peer.ID{p},
	})
	if !policy.peerAllowed(p) {
		t.Fatal("allowed_peers must strictly override denied_peers")
	}
}

func TestDeniedPeerRejected(t *testing.T) {
	p := mustPeer(t)
	policy := NewPolicy(Config{DeniedPeers: []peer.ID{p}})
	if policy.peerAllowed(p) {
		t.Fatal("denied peer must be rejected")
	}
}

func TestUnlistedPeerAllowedByDefault(t *testing.T) {
	policy := NewPolicy(Config{})
	if !policy.peerAllowed(mustPeer(t)) {
		t.Fatal("default policy must allow unlisted peers")
	}
}

func TestDeniedCIDR(t *testing.T) {
	policy := NewPolicy(Config{DeniedCIDRs: []string{"10.0.0.0/8"}})
	addr, err := multiaddr.NewMultiaddr("/ip4/10.1.2.3/tcp/4001")
	if err != nil {
		t.Fatalf("multiaddr: %v", err)
	}
	if policy.addrAllowed(addr) {
		t.Fatal("address in denied CIDR must be rejected")
	}

	other, _ := multiaddr.NewMultiaddr("/ip4/8.8.8.8/tcp/4001")
	if !policy.addrAllowed(other) {
		t.Fatal("address outside denied CIDR must be allowed")
	}
}

func TestIsolate(t *testing.T) {
	policy := NewPolicy(Config{Isolate: true})
	addr, _ := multiaddr.NewMultiaddr("/ip4/8.8.8.8/tcp/4001")
	if policy.addrAllowed(addr) {
		t.Fatal("isolate must deny all addresses")
	}
}

func TestIsolateWithAllowedCIDRSurvives(t *testing.T) {
	policy := NewPolicy(Config{Isolate: true, AllowedCIDRs: []string{"10.0.0.0/8"}})
	trusted, _ := multiaddr.NewMultiaddr("/ip4/10.1.2.3/tcp/4001")
	if !policy.addrAllowed(trusted) {
		t.Fatal("an explicit allow entry must survive isolate")
	}
	other, _ := multiaddr.NewMultiaddr("/ip4/8.8.8.8/tcp/4001")
	if policy.addrAllowed(other) {
		t.Fatal("isolate must still deny addresses outside the allow set")
	}
}

func TestAllowedCIDROverridesDeniedCIDR(t *testing.T) {
	policy := NewPolicy(Config{
		DeniedCIDRs:  []string{"10.0.0.0/8"},
		AllowedCIDRs: []string{"10.1.0.0/16"},
	})
	allowed, _ := multiaddr.NewMultiaddr("/ip4/10.1.2.3/tcp/4001")
	if !policy.addrAllowed(allowed) {
		t.Fatal("allowed_cidrs must override denied_cidrs for overlapping ranges")
	}
	denied, _ := multiaddr.NewMultiaddr("/ip4/10.2.2.3/tcp/4001")
	if policy.addrAllowed(denied) {
		t.Fatal("addresses outside the allow override must still be denied")
	}
}

func TestGaterSetReplacesAtomically(t *testing.T) {
	g := NewGater()
	p := mustPeer(t)
	if !g.InterceptPeerDial(p) {
		t.Fatal("default gater must allow")
	}
	g.Set(NewPolicy(Config{DeniedPeers: []peer.ID{p}}))
	if g.InterceptPeerDial(p) {
		t.Fatal("after Set, denied peer must be rejected")
	}
}

func TestInterceptUpgradedAlwaysAllows(t *testing.T) {
	g := NewGater()
	allow, reason := g.InterceptUpgraded(nil)
	if !allow || reason != 0 {
		t.Fatalf("expected (true, 0), got (%v, %v)", allow, reason)
	}
}
