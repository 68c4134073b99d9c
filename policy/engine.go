package policy

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the callback policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.callback_policy.decision"),
		rego.Module("callback_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate runs the policy against input and returns the decision.
// A policy that produces no value allows.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("policy returned %T, expected string", results[0].Expressions[0].Value)
}

// CheckCallbackURL evaluates a callback destination. It returns a
// non-empty reason when the destination is blocked.
func (e *Engine) CheckCallbackURL(ctx context.Context, ownerID, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "callback url must be absolute", nil
	}

	decision, err := e.Evaluate(ctx, map[string]interface{}{
		"owner_id": ownerID,
		"url":      u.String(),
		"scheme":   strings.ToLower(u.Scheme),
		"host":     strings.ToLower(u.Hostname()),
		"port":     u.Port(),
	})
	if err != nil {
		return "", err
	}
	if decision == DecisionBlock {
		return fmt.Sprintf("callback destination %s is not allowed", u.Host), nil
	}
	return "", nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package callback_policy

default decision = "allow"

allowed_scheme {
	input.scheme == "https"
}

allowed_scheme {
	input.scheme == "http"
}

decision = "block" {
	not allowed_scheme
}

# Cloud metadata endpoints
decision = "block" {
	input.host == "169.254.169.254"
}

decision = "block" {
	input.host == "metadata.google.internal"
}
`
