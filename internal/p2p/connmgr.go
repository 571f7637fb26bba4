package p2p

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
)

// Connection watermarks and grace period (spec §4.4).
const (
	connMgrLowWater  = 25
	connMgrHighWater = 250
	connMgrGrace     = 30 * time.Second
)

func newConnManager() (*connmgr.BasicConnMgr, error) {
	cm, err := connmgr.NewConnManager(
		connMgrLowWater,
		connMgrHighWater,
		connmgr.WithGracePeriod(connMgrGrace),
	)
	if err != nil {
		return nil, fmt.Errorf("p2p: connection manager: %w", err)
	}
	return cm, nil
}

// connectNotifee builds a network.NotifyBundle that fans every connect and
// disconnect event out to onConnect/onDisconnect, generalizing the
// teacher's connNotifier (internal/p2p/notifier.go) from a single
// blockchain-specific callback to the spec's discoveredPeer upcall trigger
// (§4.8 item 3). Host.go wires connect events to discoveredPeer upcalls and
// only logs disconnect events; no stream or peer bookkeeping hangs off it.
func connectNotifee(onConnect, onDisconnect func(network.Network, network.Conn)) *network.NotifyBundle {
	return &network.NotifyBundle{
		ConnectedF: func(n network.Network, c network.Conn) {
			if onConnect != nil {
				onConnect(n, c)
			}
		},
		DisconnectedF: func(n network.Network, c network.Conn) {
			if onDisconnect != nil {
				onDisconnect(n, c)
			}
		},
	}
}
