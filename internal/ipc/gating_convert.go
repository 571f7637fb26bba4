package ipc

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/p2p-helper/internal/gating"
	klog "github.com/Klingon-tech/p2p-helper/internal/log"
)

// toGatingConfig converts the wire shape to gating.Config, decoding peer ID
// strings and skipping (with a log line) any that don't parse rather than
// failing the whole request.
func toGatingConfig(w gatingConfigWire) gating.Config {
	cfg := gating.Config{
		DeniedCIDRs:  w.BannedIPs,
		AllowedCIDRs: w.TrustedIPs,
		Isolate:      w.Isolate,
	}
	for _, s := range w.TrustedPeers {
		id, err := peer.Decode(s)
		if err != nil {
			klog.Gating.Warn().Str("peer", s).Err(err).Msg("skipping malformed trusted peer id")
			continue
		}
		cfg.AllowedPeers = append(cfg.AllowedPeers, id)
	}
	for _, s := range w.BannedPeers {
		id, err := peer.Decode(s)
		if err != nil {
			klog.Gating.Warn().Str("peer", s).Err(err).Msg("skipping malformed banned peer id")
			continue
		}
		cfg.DeniedPeers = append(cfg.DeniedPeers, id)
	}
	return cfg
}
