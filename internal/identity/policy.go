package identity

import (
	"context"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// defaultFallbackPolicy gates substituting the system identity for a
// failed on-behalf-of exchange. The
// system identity carries no user attribution, so it may only stand in
// during configuration bootstrap, never for user-data access.
const defaultFallbackPolicy = `package sentra.credential

default allow_fallback = false

allow_fallback {
	input.purpose == "bootstrap"
}
`

// FallbackGate evaluates whether a failed delegated exchange may fall back
// to the system identity for a given request. Operators can replace the
// default rule with their own rego module via FALLBACK_POLICY_FILE.
type FallbackGate struct {
	query rego.PreparedEvalQuery
}

func NewFallbackGate(ctx context.Context, policyFile string) (*FallbackGate, error) {
	mod := defaultFallbackPolicy
	if policyFile != "" {
		raw, err := os.ReadFile(policyFile)
		if err != nil {
			return nil, err
		}
		mod = string(raw)
	}
	q, err := rego.New(
		rego.Query("data.sentra.credential.allow_fallback"),
		rego.Module("fallback.rego", mod),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &FallbackGate{query: q}, nil
}

// Allow reports whether the system identity may substitute for the failed
// exchange. Policy errors fail closed.
func (g *FallbackGate) Allow(ctx context.Context, purpose Purpose, tenantID, resource string) bool {
	rs, err := g.query.Eval(ctx, rego.EvalInput(map[string]any{
		"purpose":  string(purpose),
		"tenant":   tenantID,
		"resource": resource,
	}))
	if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed
}
