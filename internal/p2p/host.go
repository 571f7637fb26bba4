package p2p

import (
	"context"
	"fmt"

	badger "github.com/ipfs/go-ds-badger2"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p-kad-dht/dual"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	record "github.com/libp2p/go-libp2p-record"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/pnet"
	"github.com/libp2p/go-libp2p/p2p/host/peerstore/pstoreds"
	"github.com/libp2p/go-libp2p/p2p/muxer/mplex"
	"github.com/multiformats/go-multiaddr"
	"golang.org/x/crypto/blake2b"

	"github.com/Klingon-tech/p2p-helper/internal/gating"
	klog "github.com/Klingon-tech/p2p-helper/internal/log"
	"github.com/Klingon-tech/p2p-helper/internal/seq"
)

// Network constants (spec §6).
const (
	mplexProtocolID  = "/coda/mplex/1.0.0"
	dhtProtocolPfx   = "/coda"
	rendezvousFormat = "/coda/0.0.1/%s"
	gossipMaxMsgSize = 32 << 20
)

// Config is the configure RPC's payload (spec §4.5).
type Config struct {
	StateDir        string
	PrivateKey      []byte
	NetworkID       string
	ListenAddrs     []string
	ExternalMaddr   string
	UnsafeNoTrustIP bool
	Flood           bool
	PeerExchange    bool
	DirectPeers     []string
	SeedPeers       []string
}

// UpcallSink is how the rest of p2p emits unsolicited upcalls to the host
// (implemented by internal/ipc.Outbox).
type UpcallSink interface {
	Emit(v any)
}

// Node is the configured helper state: the libp2p host plus every
// component built on top of it (C4-C8).
type Node struct {
	host     host.Host
	dht      *dual.DHT
	pubsub   *pubsub.PubSub
	gater    *gating.Gater
	seq      *seq.Source
	upcalls  UpcallSink
	unsafeIP bool

	peerstoreDS *badger.Datastore
	dhtDS       *badger.Datastore

	streams *streamRegistry
	vtable  *validatorTable
	subs    *subscriptions
	disc    *discoverer

	rendezvous string
}

// Configure builds the libp2p host and every dependent subsystem,
// implementing spec §4.5's six steps. It must be called exactly once per
// process lifetime (spec invariant 5).
func Configure(ctx context.Context, cfg Config, sequence *seq.Source, upcalls UpcallSink) (*Node, error) {
	priv, err := DecodePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("initializing helper: decode private key: %w", err)
	}

	peerstoreDS, dhtDS, err := openDatastores(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("initializing helper: %w", err)
	}

	ps, err := pstoreds.NewPeerstore(ctx, peerstoreDS, pstoreds.DefaultOpts())
	if err != nil {
		peerstoreDS.Close()
		dhtDS.Close()
		return nil, fmt.Errorf("initializing helper: peerstore: %w", err)
	}

	rendezvous := fmt.Sprintf(rendezvousFormat, cfg.NetworkID)
	pskSum := blake2b.Sum256([]byte(rendezvous))
	psk := pnet.PSK(pskSum[:])

	gater := gating.NewGater()

	cm, err := newConnManager()
	if err != nil {
		return nil, fmt.Errorf("initializing helper: %w", err)
	}

	var externalAddr multiaddr.Multiaddr
	if cfg.ExternalMaddr != "" {
		externalAddr, err = multiaddr.NewMultiaddr(cfg.ExternalMaddr)
		if err != nil {
			return nil, fmt.Errorf("initializing external addr: %w", err)
		}
	}
	addrsFactory := func(addrs []multiaddr.Multiaddr) []multiaddr.Multiaddr {
		if externalAddr == nil {
			return addrs
		}
		return append(addrs, externalAddr)
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.Peerstore(ps),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.ConnectionGater(gater),
		libp2p.ConnectionManager(cm),
		libp2p.AddrsFactory(addrsFactory),
		libp2p.NATPortMap(),
		libp2p.DisableRelay(),
		libp2p.PrivateNetwork(psk),
		libp2p.Muxer(mplexProtocolID, mplex.DefaultTransport),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		peerstoreDS.Close()
		dhtDS.Close()
		return nil, fmt.Errorf("libp2p error: new host: %w", err)
	}

	validator := record.NamespacedValidator{
		"pk": record.PublicKeyValidator{},
	}

	seedInfos := parseSeedPeers(cfg.SeedPeers)

	d, err := dual.New(ctx, h,
		dual.DHTOption(
			dht.ProtocolPrefix(dhtProtocolPfx),
			dht.Validator(validator),
		),
		dual.WanDHTOption(
			dht.Datastore(dhtDS),
			dht.BootstrapPeers(seedInfos...),
		),
	)
	if err != nil {
		h.Close()
		peerstoreDS.Close()
		dhtDS.Close()
		return nil, fmt.Errorf("libp2p error: new dht: %w", err)
	}

	directInfos := parseSeedPeers(cfg.DirectPeers)
	ps2, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithMaxMessageSize(gossipMaxMsgSize),
		pubsub.WithFloodPublish(cfg.Flood),
		pubsub.WithPeerExchange(cfg.PeerExchange),
		pubsub.WithDirectPeers(directInfos),
	)
	if err != nil {
		d.Close()
		h.Close()
		peerstoreDS.Close()
		dhtDS.Close()
		return nil, fmt.Errorf("libp2p error: new gossipsub: %w", err)
	}

	if err := d.Bootstrap(ctx); err != nil {
		klog.P2P.Warn().Err(err).Msg("dht bootstrap returned an error; continuing")
	}

	n := &Node{
		host:        h,
		dht:         d,
		pubsub:      ps2,
		gater:       gater,
		seq:         sequence,
		upcalls:     upcalls,
		unsafeIP:    cfg.UnsafeNoTrustIP,
		peerstoreDS: peerstoreDS,
		dhtDS:       dhtDS,
		rendezvous:  rendezvous,
	}
	n.streams = newStreamRegistry(n)
	n.vtable = newValidatorTable()
	n.subs = newSubscriptions()
	n.disc = newDiscoverer(n)

	h.Network().Notify(connectNotifee(n.handleConnect, n.handleDisconnect))

	return n, nil
}

// Close tears the node down in reverse construction order.
func (n *Node) Close() error {
	if n.disc != nil {
		n.disc.stop()
	}
	if n.dht != nil {
		n.dht.Close()
	}
	if n.host != nil {
		n.host.Close()
	}
	if n.dhtDS != nil {
		n.dhtDS.Close()
	}
	if n.peerstoreDS != nil {
		n.peerstoreDS.Close()
	}
	return nil
}

// Host exposes the underlying libp2p host for tests and other components.
func (n *Node) Host() host.Host { return n.host }

// SetGatingConfig replaces the gating policy atomically (spec §4.3).
func (n *Node) SetGatingConfig(cfg gating.Config) {
	n.gater.Set(gating.NewPolicy(cfg))
}

// ListeningAddrs returns the host's full listen multiaddr list, each with
// the peer ID suffix, per the listeningAddrs RPC.
func (n *Node) ListeningAddrs() []string {
	id := n.host.ID()
	addrs := n.host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		full := a.Encapsulate(multiaddr.StringCast("/p2p/" + id.String()))
		out = append(out, full.String())
	}
	return out
}

// Listen adds additional listen multiaddrs to the already-configured host
// and returns the updated full listening address list. Mirrors the
// original helper's "listen" RPC, which extends rather than replaces the
// configure-time listen set.
func (n *Node) Listen(addrs []string) ([]string, error) {
	mas := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, s := range addrs {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("%s: malformed listen addr %q: %w", "internal RPC error", s, err)
		}
		mas = append(mas, ma)
	}
	if err := n.host.Network().Listen(mas...); err != nil {
		return nil, fmt.Errorf("libp2p error: listen: %w", err)
	}
	return n.ListeningAddrs(), nil
}

// AddPeer is permanently disabled — host compatibility per spec §7/§9: the
// original implementation never supported re-adding a peer into an
// already-bootstrapped routing table, so the same RPC is exposed but
// always errors.
func (n *Node) AddPeer(context.Context, string) error {
	return fmt.Errorf("internal RPC error: addPeer disabled — rebootstrap needs reimplementation")
}

func parseSeedPeers(addrs []string) []peer.AddrInfo {
	var infos []peer.AddrInfo
	for _, s := range addrs {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			continue
		}
		infos = append(infos, *info)
	}
	return infos
}

func (n *Node) handleConnect(net network.Network, c network.Conn) {
	if c.RemotePeer() == n.host.ID() {
		return
	}
	n.disc.onConnect(c.RemotePeer())
}

func (n *Node) handleDisconnect(net network.Network, c network.Conn) {
	// Observed but currently only logged, per spec §4.8 item 3.
	klog.P2P.Debug().Str("peer", c.RemotePeer().String()).Msg("peer disconnected")
}
