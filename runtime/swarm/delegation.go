package swarm

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/agentmesh/core/runtime/corerr"
	"github.com/agentmesh/core/runtime/journal"
)

// Attestation is one hop's signature over a delegated task request.
type Attestation struct {
	NodeID      string
	PayloadHash string
	HMAC        string
}

// AttestationChain is the ordered list of hop attestations carried with a
// delegated task; its length is the delegation depth.
type AttestationChain []Attestation

// Constraints bound what a delegated task may do and spend, attenuated at
// every hop to the intersection/minimum of parent and local policy.
type Constraints struct {
	ToolAllowlist []string
	MaxTokens     int
	MaxCostUSD    float64
	MaxDurationMS int
}

// TaskAttributes are the originator's self-reported characteristics used by
// veto engines and, on failure, by root-cause diagnosis.
type TaskAttributes struct {
	Complexity   string // low, medium, high
	Reversibility string // low, medium, high
	Criticality  string // low, medium, high
}

// SwarmTaskRequest is the canonical, HMAC-signed unit delegated between
// peers.
type SwarmTaskRequest struct {
	TaskID              string
	OriginatorNodeID    string
	OriginatorSessionID string
	TaskText            string
	Constraints         Constraints
	CorrelationID       string
	Nonce               string
	ParentChain         AttestationChain
	DelegationDepth     int
	Attributes          TaskAttributes
}

// canonicalPayload returns the deterministic byte form an attestation signs
// over: the request with its own chain/depth excluded, since those are what
// each hop appends to.
func canonicalPayload(req SwarmTaskRequest) ([]byte, error) {
	type canonical struct {
		TaskID              string
		OriginatorNodeID    string
		OriginatorSessionID string
		TaskText            string
		Constraints         Constraints
		CorrelationID       string
		Nonce               string
		Attributes          TaskAttributes
	}
	return json.Marshal(canonical{
		TaskID:              req.TaskID,
		OriginatorNodeID:    req.OriginatorNodeID,
		OriginatorSessionID: req.OriginatorSessionID,
		TaskText:            req.TaskText,
		Constraints:         req.Constraints,
		CorrelationID:       req.CorrelationID,
		Nonce:               req.Nonce,
		Attributes:          req.Attributes,
	})
}

// SignHop computes this node's attestation over req using the shared swarm
// token and prepends it to the chain.
func SignHop(req SwarmTaskRequest, nodeID string, swarmToken []byte) (SwarmTaskRequest, error) {
	payload, err := canonicalPayload(req)
	if err != nil {
		return req, corerr.Wrap(corerr.IOError, "canonicalize delegation payload", err)
	}

	sum := sha256.Sum256(payload)
	payloadHash := hex.EncodeToString(sum[:])

	mac := hmac.New(sha256.New, swarmToken)
	mac.Write([]byte(payloadHash))
	sig := hex.EncodeToString(mac.Sum(nil))

	hop := Attestation{NodeID: nodeID, PayloadHash: payloadHash, HMAC: sig}
	req.ParentChain = append(AttestationChain{hop}, req.ParentChain...)
	req.DelegationDepth = len(req.ParentChain)
	return req, nil
}

// VerifyChain recomputes every hop's HMAC against the canonical payload and
// rejects on the first mismatch.
func VerifyChain(req SwarmTaskRequest, swarmToken []byte) error {
	payload, err := canonicalPayload(req)
	if err != nil {
		return corerr.Wrap(corerr.IOError, "canonicalize delegation payload", err)
	}
	sum := sha256.Sum256(payload)
	payloadHash := hex.EncodeToString(sum[:])

	for _, hop := range req.ParentChain {
		if hop.PayloadHash != payloadHash {
			return corerr.New(corerr.AttestationInvalid, "attestation payload hash mismatch for hop "+hop.NodeID)
		}
		mac := hmac.New(sha256.New, swarmToken)
		mac.Write([]byte(hop.PayloadHash))
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(hop.HMAC)) {
			return corerr.New(corerr.AttestationInvalid, "attestation hmac mismatch for hop "+hop.NodeID)
		}
	}
	return nil
}

// VetoEngine may reject a delegated task based on its self-reported
// attributes. The Liability Firebreak and Cognitive Friction engines both
// implement this; the default policy vetoes only tasks that are both
// high-criticality and low-reversibility.
type VetoEngine interface {
	Review(attrs TaskAttributes) (veto bool, reason string)
}

// VetoFunc adapts a plain function to VetoEngine.
type VetoFunc func(attrs TaskAttributes) (bool, string)

func (f VetoFunc) Review(attrs TaskAttributes) (bool, string) { return f(attrs) }

// DefaultLiabilityFirebreak vetoes only when a task is both high-criticality
// and low-reversibility: the one combination where an autonomous delegatee
// could cause damage nobody can undo.
func DefaultLiabilityFirebreak() VetoEngine {
	return VetoFunc(func(attrs TaskAttributes) (bool, string) {
		if attrs.Criticality == "high" && attrs.Reversibility == "low" {
			return true, "high criticality with low reversibility requires human sign-off"
		}
		return false, ""
	})
}

// DefaultCognitiveFriction is a no-op veto: it never blocks on its own,
// leaving complexity-based friction to be layered in by a deployment that
// needs it.
func DefaultCognitiveFriction() VetoEngine {
	return VetoFunc(func(TaskAttributes) (bool, string) { return false, "" })
}

// AttenuateConstraints computes the child constraints a delegating node may
// hand to a delegatee: the intersection of tool allowlists, and the minimum
// of every bounded budget.
func AttenuateConstraints(parent, boundary Constraints) Constraints {
	return Constraints{
		ToolAllowlist: intersect(parent.ToolAllowlist, boundary.ToolAllowlist),
		MaxTokens:     minPositive(parent.MaxTokens, boundary.MaxTokens),
		MaxCostUSD:    minPositiveFloat(parent.MaxCostUSD, boundary.MaxCostUSD),
		MaxDurationMS: minPositive(parent.MaxDurationMS, boundary.MaxDurationMS),
	}
}

func intersect(a, b []string) []string {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []string
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func minPositive(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

func minPositiveFloat(a, b float64) float64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// MissingCapabilityError reports which tools a delegatee lacks against an
// attenuated allow-list.
type MissingCapabilityError struct {
	Missing []string
}

func (e *MissingCapabilityError) Error() string {
	return "delegatee missing required capabilities"
}

// ValidateCapabilities rejects a delegation whose attenuated allow-list
// requires a tool the delegatee does not have.
func ValidateCapabilities(allowlist, have []string) error {
	haveSet := make(map[string]bool, len(have))
	for _, h := range have {
		haveSet[h] = true
	}
	var missing []string
	for _, tool := range allowlist {
		if !haveSet[tool] {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return &MissingCapabilityError{Missing: missing}
	}
	return nil
}

// DelegateTask builds and signs a task for peer after checking accumulated
// delegation depth and the veto engines, journals swarm.task_delegated, and
// confirms the peer answers a heartbeat (retried per RPCRetry) before
// returning the signed request. Constraints are signed exactly as given:
// DelegateTask does not attenuate them (AttenuateConstraints does), and it
// does not send the request itself through the transport.
func (m *Manager) DelegateTask(ctx context.Context, peerID, taskText, sessionID string, constraints Constraints, parentChain AttestationChain, attrs TaskAttributes) (SwarmTaskRequest, error) {
	peer, ok := m.peers.Get(peerID)
	if !ok {
		return SwarmTaskRequest{}, corerr.Newf(corerr.PeerUnreachable, "unknown peer %s", peerID)
	}

	req := SwarmTaskRequest{
		TaskID:              newNonce(),
		OriginatorNodeID:    m.self.NodeID,
		OriginatorSessionID: sessionID,
		TaskText:            taskText,
		Constraints:         constraints,
		CorrelationID:       newNonce(),
		Nonce:               newNonce(),
		ParentChain:         parentChain,
		Attributes:          attrs,
	}

	if len(parentChain)+1 > m.cfg.MaxDelegationDepth {
		return req, corerr.Newf(corerr.DelegationDepth, "delegation depth %d exceeds max %d", len(parentChain)+1, m.cfg.MaxDelegationDepth)
	}

	for _, veto := range m.vetoes {
		if blocked, reason := veto.Review(attrs); blocked {
			return req, corerr.New(corerr.PolicyViolation, reason)
		}
	}

	signed, err := SignHop(req, m.self.NodeID, m.swarmToken)
	if err != nil {
		return req, err
	}

	m.emit(ctx, journal.EventSwarmTaskDelegated, map[string]any{
		"task_id": signed.TaskID, "peer": peer.NodeID, "depth": signed.DelegationDepth,
	})

	if err := Do(ctx, m.cfg.RPCRetry, func(ctx context.Context) error {
		_, err := m.transport.Heartbeat(ctx, peer)
		return err
	}); err != nil {
		m.peers.RecordHeartbeatFailure(peer.NodeID)
		return signed, corerr.Wrap(corerr.PeerUnreachable, "peer unreachable before delegation", err)
	}

	return signed, nil
}

// AcceptDelegation runs the receive-side pipeline a delegatee applies to an
// inbound SwarmTaskRequest: nonce replay check, depth check, chain
// verification, veto review, and capability validation. It emits
// swarm.task_accepted on success, swarm.task_rejected on any failure, and
// additionally swarm.attestation_chain_invalid when VerifyChain fails.
func (m *Manager) AcceptDelegation(ctx context.Context, req SwarmTaskRequest, now time.Time, localTools []string) error {
	if !m.nonces.CheckAndRecord(req.Nonce, now) {
		err := corerr.New(corerr.NonceReplay, "nonce already seen within replay window")
		m.emitTaskRejected(ctx, req, err)
		return err
	}
	if req.DelegationDepth > m.cfg.MaxDelegationDepth {
		err := corerr.Newf(corerr.DelegationDepth, "delegation depth %d exceeds max %d", req.DelegationDepth, m.cfg.MaxDelegationDepth)
		m.emitTaskRejected(ctx, req, err)
		return err
	}
	if err := VerifyChain(req, m.swarmToken); err != nil {
		m.emit(ctx, journal.EventSwarmAttestationChainInvalid, map[string]any{
			"task_id": req.TaskID, "reason": err.Error(),
		})
		m.emitTaskRejected(ctx, req, err)
		return err
	}
	for _, veto := range m.vetoes {
		if blocked, reason := veto.Review(req.Attributes); blocked {
			err := corerr.New(corerr.PolicyViolation, reason)
			m.emitTaskRejected(ctx, req, err)
			return err
		}
	}
	if err := ValidateCapabilities(req.Constraints.ToolAllowlist, localTools); err != nil {
		wrapped := corerr.Wrap(corerr.PolicyViolation, "missing required capability", err)
		m.emitTaskRejected(ctx, req, wrapped)
		return wrapped
	}

	m.emit(ctx, journal.EventSwarmTaskAccepted, map[string]any{"task_id": req.TaskID})
	return nil
}

func (m *Manager) emitTaskRejected(ctx context.Context, req SwarmTaskRequest, err error) {
	m.emit(ctx, journal.EventSwarmTaskRejected, map[string]any{"task_id": req.TaskID, "reason": err.Error()})
}
