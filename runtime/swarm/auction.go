package swarm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentmesh/core/runtime/corerr"
)

// RFQ is a request-for-quote published to the mesh for a task that will be
// awarded by sealed-bid auction.
type RFQ struct {
	RFQID    string
	Task     string
	Deadline time.Time
}

// SealedBid is the commitment phase payload: only the hash is published
// until reveal.
type SealedBid struct {
	RFQID        string
	BidderNodeID string
	Commitment   string
	CommittedAt  time.Time
}

// RevealedBid is a bidder's reveal; it must hash to the matching commitment.
type RevealedBid struct {
	RFQID             string
	BidderNodeID      string
	EstimatedCostUSD  float64
	EstimatedDuration time.Duration
	Nonce             string
}

// commitmentHash reproduces the SHA-256 the bidder committed to.
func commitmentHash(rfqID, bidderNodeID string, costUSD float64, duration time.Duration, nonce string) string {
	type payload struct {
		RFQID        string
		BidderNodeID string
		CostUSD      float64
		DurationMS   int64
		Nonce        string
	}
	b, _ := json.Marshal(payload{rfqID, bidderNodeID, costUSD, duration.Milliseconds(), nonce})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CommitBid computes a bidder's sealed commitment for a later reveal.
func CommitBid(rfqID, bidderNodeID string, costUSD float64, duration time.Duration, nonce string) SealedBid {
	return SealedBid{
		RFQID:        rfqID,
		BidderNodeID: bidderNodeID,
		Commitment:   commitmentHash(rfqID, bidderNodeID, costUSD, duration, nonce),
	}
}

// AuctionGuardConfig bounds bid behavior the guard enforces during reveal.
type AuctionGuardConfig struct {
	MaxBidsPerNodePerMinute int
	FrontRunWindow          time.Duration
}

// DefaultAuctionGuardConfig matches the mesh's published defaults.
func DefaultAuctionGuardConfig() AuctionGuardConfig {
	return AuctionGuardConfig{MaxBidsPerNodePerMinute: 10, FrontRunWindow: 500 * time.Millisecond}
}

// AuctionGuard rate-limits bids per node and flags a bidder the first time
// it commits within FrontRunWindow after another bidder's commit, a
// front-running signal; a single such commit is enough, no repeat count is
// kept.
type AuctionGuard struct {
	mu       sync.Mutex
	cfg      AuctionGuardConfig
	limiters map[string]*rate.Limiter
	commits  []SealedBid
	flagged  map[string]bool
}

// NewAuctionGuard constructs a guard with the given configuration.
func NewAuctionGuard(cfg AuctionGuardConfig) *AuctionGuard {
	return &AuctionGuard{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		flagged:  make(map[string]bool),
	}
}

func (g *AuctionGuard) limiterFor(nodeID string) *rate.Limiter {
	l, ok := g.limiters[nodeID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(g.cfg.MaxBidsPerNodePerMinute)/60.0), g.cfg.MaxBidsPerNodePerMinute)
		g.limiters[nodeID] = l
	}
	return l
}

// AllowCommit reports whether bidderNodeID may submit another commitment
// right now, and records the commit (for front-running detection) if so.
func (g *AuctionGuard) AllowCommit(bid SealedBid) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.limiterFor(bid.BidderNodeID).AllowN(bid.CommittedAt, 1) {
		return false
	}

	for _, prior := range g.commits {
		if prior.BidderNodeID == bid.BidderNodeID {
			continue
		}
		if bid.CommittedAt.Sub(prior.CommittedAt) >= 0 && bid.CommittedAt.Sub(prior.CommittedAt) < g.cfg.FrontRunWindow {
			g.flagged[bid.BidderNodeID] = true
		}
	}
	g.commits = append(g.commits, bid)
	return true
}

// IsFlagged reports whether a bidder has been flagged for front-running.
func (g *AuctionGuard) IsFlagged(nodeID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flagged[nodeID]
}

// VerifyReveal checks that a revealed bid's recomputed hash matches its
// earlier commitment.
func VerifyReveal(commitment SealedBid, reveal RevealedBid) error {
	expected := commitmentHash(reveal.RFQID, reveal.BidderNodeID, reveal.EstimatedCostUSD, reveal.EstimatedDuration, reveal.Nonce)
	if expected != commitment.Commitment {
		return corerr.New(corerr.AttestationInvalid, "revealed bid does not match its commitment")
	}
	return nil
}

// BidCandidate is a revealed bid enriched with the scoring dimensions
// Pareto selection ranks on.
type BidCandidate struct {
	Bid        RevealedBid
	Trust      float64
	Latency    time.Duration
	Capability float64 // normalized [0,1] fit for the task
	Diversity  float64 // normalized Shannon entropy over the bidder's task-complexity mix, [0,1]
}

// ParetoWeights combine the four scoring dimensions for the tie-break sum
// when more than one bid survives on the non-dominated front.
type ParetoWeights struct {
	Trust, Latency, Cost, Capability float64
}

// DefaultParetoWeights weighs trust and capability most heavily, since those
// are the dimensions hardest for a bidder to fake cheaply.
func DefaultParetoWeights() ParetoWeights {
	return ParetoWeights{Trust: 0.35, Latency: 0.2, Cost: 0.2, Capability: 0.25}
}

// dominates reports whether a is at least as good as b on every dimension
// and strictly better on at least one (higher trust/capability is better;
// lower latency/cost is better).
func (a BidCandidate) dominates(b BidCandidate) bool {
	betterOrEqual := a.Trust >= b.Trust &&
		a.Latency <= b.Latency &&
		a.Bid.EstimatedCostUSD <= b.Bid.EstimatedCostUSD &&
		a.Capability >= b.Capability
	strictlyBetter := a.Trust > b.Trust ||
		a.Latency < b.Latency ||
		a.Bid.EstimatedCostUSD < b.Bid.EstimatedCostUSD ||
		a.Capability > b.Capability
	return betterOrEqual && strictlyBetter
}

// ParetoFront returns the non-dominated subset of candidates.
func ParetoFront(candidates []BidCandidate) []BidCandidate {
	var front []BidCandidate
	for i, c := range candidates {
		dominated := false
		for j, other := range candidates {
			if i == j {
				continue
			}
			if other.dominates(c) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, c)
		}
	}
	return front
}

// SelectWinner applies Pareto selection to the revealed, valid bids: if the
// non-dominated front has a single member it wins outright; otherwise ties
// are broken by a crowding-distance-biased weighted sum so boundary
// solutions (the cheapest, the fastest, the most trusted) are preferred
// over the bidder that is merely average across every dimension.
func SelectWinner(candidates []BidCandidate, w ParetoWeights) (BidCandidate, error) {
	if len(candidates) == 0 {
		return BidCandidate{}, corerr.New(corerr.BadInput, "no valid bids to select from")
	}
	front := ParetoFront(candidates)
	if len(front) == 1 {
		return front[0], nil
	}
	if len(front) == 0 {
		front = candidates
	}

	crowding := crowdingDistance(front)
	bestIdx := 0
	bestScore := math.Inf(-1)
	for i, c := range front {
		maxCost := maxCostOf(front)
		maxLatencyMS := maxLatencyOf(front)
		normCost := 1.0
		if maxCost > 0 {
			normCost = 1 - c.Bid.EstimatedCostUSD/maxCost
		}
		normLatency := 1.0
		if maxLatencyMS > 0 {
			normLatency = 1 - float64(c.Latency.Milliseconds())/maxLatencyMS
		}
		score := w.Trust*c.Trust + w.Latency*normLatency + w.Cost*normCost + w.Capability*c.Capability
		score *= diversityMultiplier(c.Diversity)
		score += crowding[i] * 0.01
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return front[bestIdx], nil
}

// diversityMultiplier turns a bidder's complexity-mix entropy into the
// factor the weighted tie-break score is scaled by: a peer that has only
// ever done one complexity tier contributes nothing to the sum, while one
// spread evenly across low/medium/high passes its weighted score through
// unchanged.
func diversityMultiplier(entropy float64) float64 {
	return clampUnit(entropy)
}

func maxCostOf(cs []BidCandidate) float64 {
	m := 0.0
	for _, c := range cs {
		if c.Bid.EstimatedCostUSD > m {
			m = c.Bid.EstimatedCostUSD
		}
	}
	return m
}

func maxLatencyOf(cs []BidCandidate) float64 {
	m := 0.0
	for _, c := range cs {
		ms := float64(c.Latency.Milliseconds())
		if ms > m {
			m = ms
		}
	}
	return m
}

// crowdingDistance scores each candidate by how isolated it is from its
// neighbors across dimensions, so boundary solutions on the front (the
// cheapest, the fastest) get a tie-break bonus over bidders clustered in
// the middle.
func crowdingDistance(front []BidCandidate) []float64 {
	n := len(front)
	dist := make([]float64, n)
	if n <= 2 {
		for i := range dist {
			dist[i] = math.Inf(1)
		}
		return dist
	}

	dims := []func(BidCandidate) float64{
		func(c BidCandidate) float64 { return c.Trust },
		func(c BidCandidate) float64 { return -float64(c.Latency) },
		func(c BidCandidate) float64 { return -c.Bid.EstimatedCostUSD },
		func(c BidCandidate) float64 { return c.Capability },
	}

	for _, dim := range dims {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(i, j int) bool { return dim(front[order[i]]) < dim(front[order[j]]) })

		lo := dim(front[order[0]])
		hi := dim(front[order[n-1]])
		dist[order[0]] = math.Inf(1)
		dist[order[n-1]] = math.Inf(1)
		if hi == lo {
			continue
		}
		for k := 1; k < n-1; k++ {
			dist[order[k]] += (dim(front[order[k+1]]) - dim(front[order[k-1]])) / (hi - lo)
		}
	}
	return dist
}
