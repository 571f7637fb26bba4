package ipc

import "github.com/Klingon-tech/p2p-helper/internal/p2p"

// Request/response body shapes for each method (spec §4.5-§4.8, §6).

type configureRequest struct {
	StateDir        string           `json:"statedir"`
	PrivateKey      []byte           `json:"privk"`
	NetworkID       string           `json:"network_id"`
	Ifaces          []string         `json:"ifaces"`
	ExternalMaddr   string           `json:"external_maddr"`
	UnsafeNoTrustIP bool             `json:"unsafe_no_trust_ip"`
	Flood           bool             `json:"flood"`
	PeerExchange    bool             `json:"peer_exchange"`
	DirectPeers     []string         `json:"direct_peers"`
	SeedPeers       []string         `json:"seed_peers"`
	GatingConfig    gatingConfigWire `json:"gating_config"`
}

type gatingConfigWire struct {
	BannedPeers  []string `json:"banned_peers"`
	TrustedPeers []string `json:"trusted_peers"`
	BannedIPs    []string `json:"banned_ips"`
	TrustedIPs   []string `json:"trusted_ips"`
	Isolate      bool     `json:"isolate"`
}

type listenRequest struct {
	Ifaces []string `json:"ifaces"`
}

type publishRequest struct {
	Topic string `json:"topic"`
	Data  []byte `json:"data"`
}

type subscribeRequest struct {
	Topic           string `json:"topic"`
	SubscriptionIdx int64  `json:"subscription_idx"`
}

type unsubscribeRequest struct {
	SubscriptionIdx int64 `json:"subscription_idx"`
}

type validationCompleteRequest struct {
	Seqno   int64  `json:"seqno"`
	IsValid string `json:"is_valid"`
}

type openStreamRequest struct {
	Peer     p2p.PeerInfo `json:"peer"`
	Protocol string       `json:"protocol"`
}

type openStreamResponse struct {
	StreamIdx int64        `json:"stream_idx"`
	Peer      p2p.PeerInfo `json:"peer"`
}

type closeStreamRequest struct {
	StreamIdx int64 `json:"stream_idx"`
}

type resetStreamRequest struct {
	StreamIdx int64 `json:"stream_idx"`
}

type sendStreamMsgRequest struct {
	StreamIdx int64  `json:"stream_idx"`
	Data      []byte `json:"data"`
}

type streamHandlerRequest struct {
	Protocol string `json:"protocol"`
}

type addPeerRequest struct {
	Peer p2p.PeerInfo `json:"peer"`
}

type findPeerRequest struct {
	PeerID string `json:"peer_id"`
}

type setGatingConfigRequest struct {
	GatingConfig gatingConfigWire `json:"gating_config"`
}
