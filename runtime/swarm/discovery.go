package swarm

import (
	"context"
	"math/rand"
)

// GossipPeer is the lightweight peer digest exchanged during a gossip
// round: just enough to decide whether a full join is worth fetching.
type GossipPeer struct {
	NodeID string
	APIURL string
	Status PeerStatus
}

// Transport is the wire boundary a Manager uses to reach other nodes. A
// production node backs this with HTTP; tests back it with an in-memory
// fake.
type Transport interface {
	Heartbeat(ctx context.Context, peer PeerEntry) (latencyOK bool, err error)
	Gossip(ctx context.Context, peer PeerEntry, local []GossipPeer) ([]GossipPeer, error)
	Join(ctx context.Context, apiURL string, self PeerIdentity) (PeerIdentity, error)
}

// DiscoveryConfig configures how a node finds the rest of the mesh.
type DiscoveryConfig struct {
	SeedURLs []string
}

// SeedJoin attempts to join the mesh through every configured seed URL,
// admitting each one that responds into the peer table. Seed failures are
// not fatal: a node with zero reachable seeds simply starts alone and waits
// for inbound gossip or joins.
func (m *Manager) SeedJoin(ctx context.Context) {
	for _, url := range m.discoveryCfg.SeedURLs {
		identity, err := m.transport.Join(ctx, url, m.self)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn(ctx, "seed join failed", "url", url, "error", err)
			}
			continue
		}
		if err := m.peers.Join(identity); err != nil && m.logger != nil {
			m.logger.Warn(ctx, "seed peer rejected", "node_id", identity.NodeID, "error", err)
		}
	}
}

// GossipRound exchanges the local peer digest with one random active peer.
// Gossip carries only the digest; for each node_id it had not seen before,
// the round resolves the full identity via Join and admits it, skipping any
// digest whose Join fails. Rounds are dropped outright when fewer than three peers are active,
// per the mesh's backpressure rule.
//
// The exchange itself is treated as one attempt against the node's
// long-running gossip stream: a failed round grows the stream's reconnect
// counter (backing off per GossipReconnect before the round is retried) and
// a successful one resets it and records which peer the stream last synced
// against.
func (m *Manager) GossipRound(ctx context.Context) error {
	active := m.peers.Active()
	if len(active) < 3 {
		return nil
	}
	target := active[rand.Intn(len(active))]

	local := make([]GossipPeer, 0, len(active))
	for _, p := range active {
		local = append(local, GossipPeer{NodeID: p.NodeID, APIURL: p.APIURL, Status: p.Status})
	}

	var remote []GossipPeer
	err := Do(ctx, m.cfg.GossipReconnect.RetryConfig, func(ctx context.Context) error {
		r, err := m.transport.Gossip(ctx, target, local)
		remote = r
		return err
	})
	if err != nil {
		m.gossipStream.ReconnectAttempts++
		return err
	}
	m.gossipStream.Reset()
	if m.cfg.GossipReconnect.TrackLastEventID {
		m.gossipStream.UpdateLastEventID(target.NodeID)
	}

	for _, g := range remote {
		if _, known := m.peers.Get(g.NodeID); known {
			continue
		}
		identity, err := m.transport.Join(ctx, g.APIURL, m.self)
		if err != nil {
			continue
		}
		_ = m.peers.Join(identity)
	}
	return nil
}
