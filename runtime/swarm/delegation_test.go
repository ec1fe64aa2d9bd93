package swarm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/core/runtime/corerr"
	"github.com/agentmesh/core/runtime/swarm"
)

func TestSignHopThenVerifyChainSucceeds(t *testing.T) {
	token := []byte("shared-swarm-token")
	req := swarm.SwarmTaskRequest{TaskID: "t1", TaskText: "summarize logs"}

	req, err := swarm.SignHop(req, "node-a", token)
	require.NoError(t, err)
	assert.Equal(t, 1, req.DelegationDepth)

	req, err = swarm.SignHop(req, "node-b", token)
	require.NoError(t, err)
	assert.Equal(t, 2, req.DelegationDepth)
	assert.Equal(t, "node-b", req.ParentChain[0].NodeID, "newest hop is prepended")

	assert.NoError(t, swarm.VerifyChain(req, token))
}

func TestVerifyChainRejectsTamperedHop(t *testing.T) {
	token := []byte("shared-swarm-token")
	req := swarm.SwarmTaskRequest{TaskID: "t1", TaskText: "summarize logs"}
	req, err := swarm.SignHop(req, "node-a", token)
	require.NoError(t, err)

	req.ParentChain[0].HMAC = "deadbeef"
	err = swarm.VerifyChain(req, token)
	require.Error(t, err)
	assert.Equal(t, corerr.AttestationInvalid, corerr.CodeOf(err))
}

func TestDefaultLiabilityFirebreakVetoesHighCriticalityLowReversibility(t *testing.T) {
	fb := swarm.DefaultLiabilityFirebreak()

	veto, _ := fb.Review(swarm.TaskAttributes{Criticality: "high", Reversibility: "low"})
	assert.True(t, veto)

	veto, _ = fb.Review(swarm.TaskAttributes{Criticality: "high", Reversibility: "high"})
	assert.False(t, veto)

	veto, _ = fb.Review(swarm.TaskAttributes{Criticality: "low", Reversibility: "low"})
	assert.False(t, veto)
}

func TestAttenuateConstraintsIntersectsAndMinimizes(t *testing.T) {
	parent := swarm.Constraints{ToolAllowlist: []string{"http-get", "file-read", "shell"}, MaxTokens: 1000, MaxCostUSD: 5.0, MaxDurationMS: 60000}
	boundary := swarm.Constraints{ToolAllowlist: []string{"http-get", "file-read"}, MaxTokens: 500, MaxCostUSD: 10.0, MaxDurationMS: 30000}

	out := swarm.AttenuateConstraints(parent, boundary)

	assert.ElementsMatch(t, []string{"http-get", "file-read"}, out.ToolAllowlist)
	assert.Equal(t, 500, out.MaxTokens)
	assert.Equal(t, 5.0, out.MaxCostUSD)
	assert.Equal(t, 30000, out.MaxDurationMS)
}

func TestValidateCapabilitiesReportsMissingTools(t *testing.T) {
	err := swarm.ValidateCapabilities([]string{"http-get", "shell"}, []string{"http-get"})
	require.Error(t, err)
	var missing *swarm.MissingCapabilityError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"shell"}, missing.Missing)
}

func TestNonceStoreRejectsReplay(t *testing.T) {
	store := swarm.NewNonceStore(time.Minute)
	now := time.Now()

	assert.True(t, store.CheckAndRecord("n1", now))
	assert.False(t, store.CheckAndRecord("n1", now.Add(time.Second)))
}

func TestNonceStoreForgetsAfterWindow(t *testing.T) {
	store := swarm.NewNonceStore(10 * time.Millisecond)
	now := time.Now()

	assert.True(t, store.CheckAndRecord("n1", now))
	assert.True(t, store.CheckAndRecord("n1", now.Add(50*time.Millisecond)), "nonce should be forgotten once the window elapses")
}
