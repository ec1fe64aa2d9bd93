package swarm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/agentmesh/core/runtime/journal"
	"github.com/agentmesh/core/runtime/telemetry"
)

// Config bounds a node's participation in the mesh: delegation depth, RPC
// retry policy, and the scheduler intervals that drive heartbeats, sweeps,
// and reputation decay.
type Config struct {
	MaxDelegationDepth int
	RPCRetry           RetryConfig
	NonceWindow        time.Duration
	HeartbeatInterval  time.Duration
	SweepInterval      time.Duration
	ReputationHalfLife time.Duration
	PeerTable          PeerTableConfig
	Discovery          DiscoveryConfig
	AuctionGuard       AuctionGuardConfig
	ParetoWeights      ParetoWeights
	GossipReconnect    StreamReconnectConfig
}

// DefaultConfig returns the mesh defaults a freshly booted node uses absent
// explicit configuration.
func DefaultConfig() Config {
	return Config{
		MaxDelegationDepth: 5,
		RPCRetry:           DefaultRetryConfig(),
		NonceWindow:        5 * time.Minute,
		HeartbeatInterval:  5 * time.Second,
		SweepInterval:      10 * time.Second,
		ReputationHalfLife: 24 * time.Hour,
		PeerTable:          DefaultPeerTableConfig(),
		AuctionGuard:       DefaultAuctionGuardConfig(),
		ParetoWeights:      DefaultParetoWeights(),
		GossipReconnect:    DefaultStreamReconnectConfig(),
	}
}

// Manager is the Mesh Manager: it owns the peer table and the scheduler
// timers that run discovery, heartbeats, sweeps, and reputation decay, and
// exposes delegation, auction, and diagnosis operations to the rest of the
// runtime.
type Manager struct {
	self         PeerIdentity
	cfg          Config
	discoveryCfg DiscoveryConfig
	swarmToken   []byte

	transport Transport
	journal   journal.Journal
	logger    telemetry.Logger

	peers        *PeerTable
	nonces       *NonceStore
	reputations  *ReputationLedger
	auctionGuard *AuctionGuard
	vetoes       []VetoEngine
	gossipStream StreamState

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Options configures a new Manager.
type Options struct {
	Self       PeerIdentity
	Config     Config
	SwarmToken []byte
	Transport  Transport
	Journal    journal.Journal
	Logger     telemetry.Logger
	Vetoes     []VetoEngine
}

// New constructs a Manager. When Vetoes is nil, the default Liability
// Firebreak and Cognitive Friction engines are installed.
func New(opts Options) *Manager {
	vetoes := opts.Vetoes
	if vetoes == nil {
		vetoes = []VetoEngine{DefaultLiabilityFirebreak(), DefaultCognitiveFriction()}
	}
	return &Manager{
		self:         opts.Self,
		cfg:          opts.Config,
		discoveryCfg: opts.Config.Discovery,
		swarmToken:   opts.SwarmToken,
		transport:    opts.Transport,
		journal:      opts.Journal,
		logger:       opts.Logger,
		peers:        NewPeerTable(opts.Self.NodeID, opts.Config.PeerTable, opts.Journal, opts.Logger),
		nonces:       NewNonceStore(opts.Config.NonceWindow),
		reputations:  NewReputationLedger(opts.Config.ReputationHalfLife),
		auctionGuard: NewAuctionGuard(opts.Config.AuctionGuard),
		vetoes:       vetoes,
		stopCh:       make(chan struct{}),
	}
}

// Peers exposes the peer table for read access (status dashboards, tests).
func (m *Manager) Peers() *PeerTable { return m.peers }

// Reputations exposes the reputation ledger for read access.
func (m *Manager) Reputations() *ReputationLedger { return m.reputations }

// Journal exposes the configured journal, chiefly so callers and tests can
// inspect what the mesh has recorded without threading a second reference
// through construction.
func (m *Manager) Journal() journal.Journal { return m.journal }

// GossipStream exposes the reconnect state of the gossip round's underlying
// stream: how many consecutive rounds have failed, and which peer it last
// synced against.
func (m *Manager) GossipStream() StreamState { return m.gossipStream }

// Start launches the heartbeat and sweep schedulers as background
// goroutines. Timers are unreferenced by the caller so process shutdown is
// never held open by them; call Stop to drain in-flight work with a
// bounded wait.
func (m *Manager) Start(ctx context.Context) {
	m.SeedJoin(ctx)

	m.wg.Add(2)
	go m.runLoop(ctx, m.cfg.HeartbeatInterval, m.heartbeatPass)
	go m.runLoop(ctx, m.cfg.SweepInterval, m.sweepPass)
}

// Stop signals both schedulers to exit and waits, bounded by ctx, for any
// in-flight pass to finish.
func (m *Manager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stopCh) })
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (m *Manager) runLoop(ctx context.Context, interval time.Duration, pass func(context.Context)) {
	defer m.wg.Done()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

func (m *Manager) heartbeatPass(ctx context.Context) {
	for _, p := range m.peers.Active() {
		start := time.Now()
		ok, err := m.transport.Heartbeat(ctx, p)
		latency := time.Since(start)
		if err != nil || !ok {
			m.peers.RecordHeartbeatFailure(p.NodeID)
			continue
		}
		m.peers.RecordHeartbeat(p.NodeID, latency, time.Now())
	}
	_ = m.GossipRound(ctx)
}

func (m *Manager) sweepPass(ctx context.Context) {
	degraded := m.peers.Sweep(ctx, time.Now())
	if len(degraded) > 0 && m.logger != nil {
		m.logger.Info(ctx, "peers degraded this sweep, tasks need re-delegation", "node_ids", degraded)
	}
	m.reputations.Decay(time.Now())
}

func (m *Manager) emit(ctx context.Context, typ journal.EventType, payload map[string]any) {
	if m.journal == nil {
		return
	}
	if _, err := m.journal.Emit(ctx, "", typ, payload); err != nil && m.logger != nil {
		m.logger.Warn(ctx, "swarm journal emit failed", "error", err, "type", string(typ))
	}
}

// newNonce generates a random hex token used for task_id, correlation_id,
// and request nonces.
func newNonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// CreateAuction publishes a new sealed-bid RFQ for task, journaling the
// creation event so the round can be audited even though bids themselves
// arrive out of band through the transport.
func (m *Manager) CreateAuction(ctx context.Context, task string, deadline time.Time) RFQ {
	rfq := RFQ{RFQID: newNonce(), Task: task, Deadline: deadline}
	m.emit(ctx, journal.EventSwarmAuctionCreated, map[string]any{
		"rfq_id": rfq.RFQID, "deadline": rfq.Deadline,
	})
	return rfq
}

// SettleAuction verifies every reveal against its sealed commitment, drops
// bids from bidders flagged by the Auction Guard for front-running or by the
// reputation ledger for gaming the complexity mix of tasks they accept,
// scores the remainder against trust and complexity-diversity, and selects
// the winner by Pareto selection. It journals the settlement regardless of
// outcome.
func (m *Manager) SettleAuction(ctx context.Context, rfq RFQ, commitments []SealedBid, reveals []RevealedBid, capability map[string]float64) (BidCandidate, error) {
	commitByBidder := make(map[string]SealedBid, len(commitments))
	for _, c := range commitments {
		commitByBidder[c.BidderNodeID] = c
	}

	var candidates []BidCandidate
	for _, reveal := range reveals {
		if m.auctionGuard.IsFlagged(reveal.BidderNodeID) {
			continue
		}
		if m.reputations.IsGaming(reveal.BidderNodeID) {
			continue
		}
		commitment, ok := commitByBidder[reveal.BidderNodeID]
		if !ok {
			continue
		}
		if err := VerifyReveal(commitment, reveal); err != nil {
			continue
		}
		rep := m.reputations.Get(reveal.BidderNodeID)
		peer, _ := m.peers.Get(reveal.BidderNodeID)
		candidates = append(candidates, BidCandidate{
			Bid:        reveal,
			Trust:      rep.TrustScore,
			Latency:    peer.LastLatency,
			Capability: capability[reveal.BidderNodeID],
			Diversity:  m.reputations.DiversityEntropy(reveal.BidderNodeID),
		})
	}

	winner, err := SelectWinner(candidates, m.cfg.ParetoWeights)
	if err != nil {
		m.emit(ctx, journal.EventSwarmAuctionSettled, map[string]any{
			"rfq_id": rfq.RFQID, "winner": "", "bid_count": len(candidates),
		})
		return BidCandidate{}, err
	}

	m.emit(ctx, journal.EventSwarmAuctionSettled, map[string]any{
		"rfq_id": rfq.RFQID, "winner": winner.Bid.BidderNodeID, "bid_count": len(candidates),
	})
	return winner, nil
}
