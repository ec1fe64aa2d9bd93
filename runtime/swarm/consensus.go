package swarm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/agentmesh/core/runtime/corerr"
	"github.com/agentmesh/core/runtime/journal"
)

// VerifierResult is one peer's finding for a consensus-verified task,
// reduced to whatever canonical payload the originator compares by hash.
type VerifierResult struct {
	NodeID   string
	Findings any
}

// ConsensusOutcome is the result of a multi-verifier round: whether quorum
// was reached on a single canonical hash, which peers agreed, and which
// dissented.
type ConsensusOutcome struct {
	Agreed        bool
	CanonicalHash string
	Agreeing      []string
	Dissenting    []string
}

// findingsHash canonicalizes a verifier's findings to the hash consensus
// compares by.
func findingsHash(findings any) (string, error) {
	b, err := json.Marshal(findings)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// CheckConsensus groups verifier results by canonical findings hash and
// accepts the largest group if it meets quorum (a count, not a fraction, per
// this mesh's best-effort consensus model). Dissenting results are returned
// for the anomaly/diagnosis pipeline regardless of outcome.
func CheckConsensus(results []VerifierResult, quorum int) (ConsensusOutcome, error) {
	if len(results) == 0 {
		return ConsensusOutcome{}, corerr.New(corerr.BadInput, "no verifier results to check consensus over")
	}

	byHash := make(map[string][]string)
	for _, r := range results {
		h, err := findingsHash(r.Findings)
		if err != nil {
			return ConsensusOutcome{}, corerr.Wrap(corerr.IOError, "hash verifier findings", err)
		}
		byHash[h] = append(byHash[h], r.NodeID)
	}

	var bestHash string
	var bestGroup []string
	for h, nodes := range byHash {
		if len(nodes) > len(bestGroup) {
			bestHash = h
			bestGroup = nodes
		}
	}

	agreedSet := make(map[string]bool, len(bestGroup))
	for _, n := range bestGroup {
		agreedSet[n] = true
	}
	var dissenting []string
	for _, r := range results {
		if !agreedSet[r.NodeID] {
			dissenting = append(dissenting, r.NodeID)
		}
	}

	return ConsensusOutcome{
		Agreed:        len(bestGroup) >= quorum,
		CanonicalHash: bestHash,
		Agreeing:      bestGroup,
		Dissenting:    dissenting,
	}, nil
}

// RunConsensusCheck runs CheckConsensus and journals the outcome: a
// consensus_checked event always, plus a consensus_dissent event carrying
// the dissenting node_ids when any peer disagreed, feeding the anomaly
// pipeline that root-cause diagnosis draws on.
func (m *Manager) RunConsensusCheck(ctx context.Context, taskID string, results []VerifierResult, quorum int) (ConsensusOutcome, error) {
	outcome, err := CheckConsensus(results, quorum)
	if err != nil {
		return outcome, err
	}

	m.emit(ctx, journal.EventSwarmConsensusChecked, map[string]any{
		"task_id": taskID, "agreed": outcome.Agreed, "agreeing_count": len(outcome.Agreeing),
	})
	if len(outcome.Dissenting) > 0 {
		m.emit(ctx, journal.EventSwarmConsensusDissent, map[string]any{
			"task_id": taskID, "dissenting": outcome.Dissenting,
		})
		for _, nodeID := range outcome.Dissenting {
			// A verifier whose findings don't match the accepted hash is itself
			// the anomaly signal root-cause diagnosis runs on.
			m.DiagnoseDelegationFailure(ctx, nodeID, TaskAttributes{}, true, false, false)
		}
	}
	return outcome, nil
}
