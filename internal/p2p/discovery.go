package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/discovery"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"

	klog "github.com/Klingon-tech/p2p-helper/internal/log"
)

// Discovery intervals (spec §6).
const (
	mdnsServiceTag    = "_coda-discovery._udp"
	mdnsInterval      = 60 * time.Second
	dhtFindInterval   = 2 * time.Minute
	dhtFindLimit      = 20
	peerConnectWindow = 5 * time.Second
)

// discoverer owns the three concurrent discovery tasks (spec §4.8):
// mDNS, DHT rendezvous advertise + periodic FindPeers, and the
// connection-event fan-out already wired via connectNotifee in host.go.
// Grounded on the teacher's discovery.go (mDNS notifee) and node.go's
// runDHTDiscovery/findDHTPeers (routing-discovery advertise + FindPeers
// loop), generalized from a fixed 30s blockchain interval to a 2-minute
// FindPeers cadence and the rendezvous string. mdnsInterval is not passed
// to the mDNS service, which queries on the go-libp2p mdns package's own
// schedule.
type discoverer struct {
	n      *Node
	cancel context.CancelFunc
	mdns   mdns.Service
}

func newDiscoverer(n *Node) *discoverer {
	return &discoverer{n: n}
}

// Begin starts mDNS and the DHT rendezvous advertise/find loop.
func (d *discoverer) Begin(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	notifee := &mdnsNotifee{n: d.n}
	d.mdns = mdns.NewMdnsService(d.n.host, mdnsServiceTag, notifee)
	if err := d.mdns.Start(); err != nil {
		cancel()
		return fmt.Errorf("libp2p error: start mdns: %w", err)
	}

	rd := drouting.NewRoutingDiscovery(d.n.dht)
	dutil.Advertise(ctx, rd, d.n.rendezvous)

	go d.findLoop(ctx, rd)

	return nil
}

func (d *discoverer) stop() {
	if d.mdns != nil {
		d.mdns.Close()
	}
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *discoverer) findLoop(ctx context.Context, rd *drouting.RoutingDiscovery) {
	ticker := time.NewTicker(dhtFindInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.findPeers(ctx, rd)
		}
	}
}

func (d *discoverer) findPeers(ctx context.Context, rd *drouting.RoutingDiscovery) {
	peers, err := dutil.FindPeers(ctx, rd, d.n.rendezvous, discovery.Limit(dhtFindLimit))
	if err != nil {
		klog.Discovery.Debug().Err(err).Msg("dht find peers failed")
		return
	}
	for _, pi := range peers {
		if pi.ID == d.n.host.ID() || len(pi.ID) == 0 {
			continue
		}
		connectCtx, cancel := context.WithTimeout(ctx, peerConnectWindow)
		err := d.n.host.Connect(connectCtx, pi)
		cancel()
		if err == nil {
			d.onConnect(pi.ID)
		}
	}
}

// onConnect is called for every freshly established connection (from
// host.go's connectNotifee) and emits discoveredPeer (spec §4.8 item 3).
func (d *discoverer) onConnect(id peer.ID) {
	addrs := d.n.host.Peerstore().Addrs(id)
	strs := make([]string, 0, len(addrs))
	for _, a := range addrs {
		strs = append(strs, a.String())
	}
	d.n.upcalls.Emit(discoveredPeerUpcall{
		Upcall:     "discoveredPeer",
		PeerID:     id.String(),
		Multiaddrs: strs,
	})
}

type mdnsNotifee struct {
	n *Node
}

// HandlePeerFound implements mdns.Notifee: each found peer with a valid id
// distinct from self is added to the peerstore and triggers a
// discoveredPeer upcall (spec §4.8 item 1).
func (m *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == "" || pi.ID == m.n.host.ID() {
		return
	}
	m.n.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.ConnectedAddrTTL)

	ctx, cancel := context.WithTimeout(context.Background(), peerConnectWindow)
	defer cancel()
	if err := m.n.host.Connect(ctx, pi); err != nil {
		klog.Discovery.Debug().Str("peer", pi.ID.String()).Err(err).Msg("mdns connect failed")
		return
	}
	m.n.disc.onConnect(pi.ID)
}

// resolvePeerInfo derives a PeerInfo from the first open connection to id
// (used by the validator bridge and by FindPeer).
func (n *Node) resolvePeerInfo(id peer.ID) (PeerInfo, error) {
	conns := n.host.Network().ConnsToPeer(id)
	if len(conns) == 0 {
		return PeerInfo{}, fmt.Errorf("p2p: no open connection to peer %s", id)
	}
	return peerInfoFromMultiaddr(id, conns[0].RemoteMultiaddr())
}

// FindPeer returns PeerInfo derived from the first open connection to
// peerID; if unsafeIP is set and none exists, it returns a loopback
// placeholder instead of erroring (spec §4.8).
func (n *Node) FindPeer(id peer.ID) (PeerInfo, error) {
	pi, err := n.resolvePeerInfo(id)
	if err == nil {
		return pi, nil
	}
	if n.unsafeIP {
		return PeerInfo{Host: "127.0.0.1", LibP2PPort: 0, PeerID: id.String()}, nil
	}
	return PeerInfo{}, fmt.Errorf("internal RPC error: %w", err)
}

// ListPeers returns PeerInfo for all current connections, skipping any
// whose remote multiaddr cannot be parsed as IP+TCP (spec §4.8).
func (n *Node) ListPeers() []PeerInfo {
	conns := n.host.Network().Conns()
	out := make([]PeerInfo, 0, len(conns))
	for _, c := range conns {
		pi, err := peerInfoFromMultiaddr(c.RemotePeer(), c.RemoteMultiaddr())
		if err != nil {
			continue
		}
		out = append(out, pi)
	}
	return out
}

// BeginAdvertising starts the discovery tasks.
func (n *Node) BeginAdvertising(ctx context.Context) error {
	return n.disc.Begin(ctx)
}

type discoveredPeerUpcall struct {
	Upcall     string   `json:"upcall"`
	PeerID     string   `json:"peer_id"`
	Multiaddrs []string `json:"multiaddrs"`
}
