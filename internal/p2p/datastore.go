package p2p

import (
	"fmt"
	"path/filepath"

	badger "github.com/ipfs/go-ds-badger2"
)

// openDatastores opens the two badger-backed datastores that back the
// peerstore and the DHT (spec §4.5 step 1 / §6 persisted state layout).
// They satisfy github.com/ipfs/go-datastore's ds.Batching interface, which
// is what pstoreds.NewPeerstore and dht.Datastore require — the teacher's
// own storage.DB interface (Get/Put/Delete/Has/ForEach) does not, so this
// bridges the badger family the teacher already depends on to that
// interface via go-ds-badger2 rather than inventing a new KV layer.
func openDatastores(statedir string) (peerstoreDS, dhtDS *badger.Datastore, err error) {
	opts := badger.DefaultOptions

	peerstoreDS, err = badger.NewDatastore(filepath.Join(statedir, "libp2p-peerstore-v0"), &opts)
	if err != nil {
		return nil, nil, fmt.Errorf("p2p: open peerstore datastore: %w (is another helper instance running?)", err)
	}

	dhtDS, err = badger.NewDatastore(filepath.Join(statedir, "libp2p-dht-v0"), &opts)
	if err != nil {
		peerstoreDS.Close()
		return nil, nil, fmt.Errorf("p2p: open dht datastore: %w (is another helper instance running?)", err)
	}

	return peerstoreDS, dhtDS, nil
}
