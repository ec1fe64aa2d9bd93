package swarm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/core/runtime/swarm"
)

func TestCheckConsensusAcceptsMajorityAgreement(t *testing.T) {
	results := []swarm.VerifierResult{
		{NodeID: "a", Findings: map[string]int{"score": 1}},
		{NodeID: "b", Findings: map[string]int{"score": 1}},
		{NodeID: "c", Findings: map[string]int{"score": 9}},
	}

	outcome, err := swarm.CheckConsensus(results, 2)
	require.NoError(t, err)
	assert.True(t, outcome.Agreed)
	assert.ElementsMatch(t, []string{"a", "b"}, outcome.Agreeing)
	assert.ElementsMatch(t, []string{"c"}, outcome.Dissenting)
}

func TestCheckConsensusRejectsBelowQuorum(t *testing.T) {
	results := []swarm.VerifierResult{
		{NodeID: "a", Findings: "x"},
		{NodeID: "b", Findings: "y"},
		{NodeID: "c", Findings: "z"},
	}

	outcome, err := swarm.CheckConsensus(results, 2)
	require.NoError(t, err)
	assert.False(t, outcome.Agreed)
}

func TestCheckConsensusRejectsEmptyResults(t *testing.T) {
	_, err := swarm.CheckConsensus(nil, 2)
	assert.Error(t, err)
}

func TestRunConsensusCheckJournalsDissentWhenAnyoneDisagrees(t *testing.T) {
	mgr := newTestManager(t, newFakeTransport())
	results := []swarm.VerifierResult{
		{NodeID: "a", Findings: 1},
		{NodeID: "b", Findings: 1},
		{NodeID: "c", Findings: 2},
	}

	outcome, err := mgr.RunConsensusCheck(context.Background(), "task-1", results, 2)
	require.NoError(t, err)
	assert.True(t, outcome.Agreed)
	assert.Equal(t, []string{"c"}, outcome.Dissenting)

	events, err := mgr.Journal().ReadAll(context.Background())
	require.NoError(t, err)
	var sawDissent, sawDiagnosis bool
	for _, e := range events {
		switch string(e.Type) {
		case "swarm.consensus_dissent":
			sawDissent = true
		case "swarm.root_cause_diagnosed":
			sawDiagnosis = true
			assert.Equal(t, "c", e.Payload["node_id"])
		}
	}
	assert.True(t, sawDissent, "dissent event should be journaled")
	assert.True(t, sawDiagnosis, "dissenting verifier should trigger root-cause diagnosis")
}
