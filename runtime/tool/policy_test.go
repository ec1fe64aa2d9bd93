package tool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentmesh/core/runtime/tool"
)

func TestPolicyAllowsMatchingPathPrefix(t *testing.T) {
	p := tool.Policy{AllowedPaths: []string{"/workspace"}}
	assert.Equal(t, "", p.Check(tool.Invocation{Paths: []string{"/workspace/out.txt"}}))
}

func TestPolicyRejectsPathOutsideAllowlist(t *testing.T) {
	p := tool.Policy{AllowedPaths: []string{"/workspace"}}
	assert.NotEqual(t, "", p.Check(tool.Invocation{Paths: []string{"/etc/passwd"}}))
}

func TestPolicyRequiresApprovalForWrites(t *testing.T) {
	p := tool.Policy{RequireApprovalWrites: true}
	assert.NotEqual(t, "", p.Check(tool.Invocation{IsWrite: true}))
}

func TestPolicyAllowsNonWriteWithoutAllowlists(t *testing.T) {
	p := tool.Policy{}
	assert.Equal(t, "", p.Check(tool.Invocation{}))
}
