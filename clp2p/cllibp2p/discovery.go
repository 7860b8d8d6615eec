package cllibp2p

import (
	"context"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	kbucket "github.com/libp2p/go-libp2p-kbucket"
	"github.com/libp2p/go-libp2p/core/host"

	"github.com/stakewithus/CasperLabs/clp2p"
)

// DefaultDiscoveryLimit bounds how many peers a routing-table
// snapshot returns.
const DefaultDiscoveryLimit = 64

// KadDiscovery implements [clp2p.Discovery] over a Kademlia DHT:
// the peers nearest to the local node by XOR distance, in ascending
// order, straight from the routing table. The routing table only
// retains peers that recently responded, which is exactly the
// "recently alive" set relay rounds want.
type KadDiscovery struct {
	h   host.Host
	dht *dht.IpfsDHT

	limit int
}

// NewKadDiscovery returns a discovery over the given DHT.
// A non-positive limit means DefaultDiscoveryLimit.
func NewKadDiscovery(h host.Host, d *dht.IpfsDHT, limit int) *KadDiscovery {
	if limit <= 0 {
		limit = DefaultDiscoveryLimit
	}
	return &KadDiscovery{h: h, dht: d, limit: limit}
}

func (d *KadDiscovery) RecentlyAlivePeersAscendingDistance(context.Context) ([]clp2p.Node, error) {
	self := kbucket.ConvertPeerID(d.h.ID())

	ids := d.dht.RoutingTable().NearestPeers(self, d.limit)

	nodes := make([]clp2p.Node, 0, len(ids))
	for _, id := range ids {
		if id == d.h.ID() {
			continue
		}
		nodes = append(nodes, clp2p.Node{ID: id.String()})
	}
	return nodes, nil
}
