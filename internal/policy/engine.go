// Package policy evaluates stage admission rules with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document handed to the policy for one stage invocation.
type Input struct {
	SessionID     string `json:"session_id"`
	SessionStatus string `json:"session_status"`
	Stage         string `json:"stage"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.stage_policy.result"),
		rego.Module("stage_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the stage policy.
// Returns: decision (allow, block), reason (optional), error
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	doc := map[string]interface{}{
		"session_id":     input.SessionID,
		"session_status": input.SessionStatus,
		"stage":          input.Stage,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "default", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]interface{}:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			decision = DecisionAllow
		}
		return decision, reason, nil
	}

	return DecisionAllow, "unexpected return type", nil
}

// DefaultPolicy blocks stage invocations on closed sessions.
const DefaultPolicy = `
package stage_policy

default decision = "allow"
default reason = ""

closed_statuses = {"completed", "failed", "killed"}

decision = "block" {
	closed_statuses[input.session_status]
}

reason = msg {
	closed_statuses[input.session_status]
	msg := sprintf("session is %s", [input.session_status])
}

result = {"decision": decision, "reason": reason}
`
