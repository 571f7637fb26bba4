package p2p

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/network"
)

func TestNewConnManagerAppliesWatermarks(t *testing.T) {
	cm, err := newConnManager()
	if err != nil {
		t.Fatalf("newConnManager: %v", err)
	}
	defer cm.Close()
	info := cm.GetInfo()
	if info.LowWater != connMgrLowWater || info.HighWater != connMgrHighWater {
		t.Fatalf("unexpected watermarks: %+v", info)
	}
}

func TestConnectNotifeeFansOutToBothCallbacks(t *testing.T) {
	var connected, disconnected bool
	bundle := connectNotifee(
		func(network.Network, network.Conn) { connected = true },
		func(network.Network, network.Conn) { disconnected = true },
	)
	bundle.ConnectedF(nil, nil)
	bundle.DisconnectedF(nil, nil)
	if !connected || !disconnected {
		t.Fatalf("expected both callbacks invoked, got connected=%v disconnected=%v", connected, disconnected)
	}
}

func TestConnectNotifeeToleratesNilCallbacks(t *testing.T) {
	bundle := connectNotifee(nil, nil)
	bundle.ConnectedF(nil, nil)
	bundle.DisconnectedF(nil, nil)
}
