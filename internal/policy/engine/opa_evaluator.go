package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const degradedQuery = "data.orphan_recovery.degraded.allow"

// Default Rego policy: block logins, let registration probes through.
const defaultRegoPolicy = `package orphan_recovery.degraded

default allow := false

allow if {
	input.call_site == "registration_probe"
}
`

// OPAEvaluator evaluates the degraded-classification policy using OPA Rego.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
	log   *slog.Logger
}

// NewOPAEvaluator compiles the policy. When policyFile is non-empty its Rego replaces the built-in
// policy; it must define data.orphan_recovery.degraded.allow.
func NewOPAEvaluator(ctx context.Context, policyFile string, log *slog.Logger) (*OPAEvaluator, error) {
	if log == nil {
		log = slog.Default()
	}
	src := defaultRegoPolicy
	if policyFile != "" {
		b, err := os.ReadFile(policyFile)
		if err != nil {
			return nil, fmt.Errorf("policy: read %s: %w", policyFile, err)
		}
		src = string(b)
	}
	q, err := prepare(ctx, src)
	if err != nil {
		return nil, err
	}
	return &OPAEvaluator{query: q, log: log}, nil
}

func prepare(ctx context.Context, src string) (rego.PreparedEvalQuery, error) {
	compiler, err := ast.CompileModules(map[string]string{"degraded.rego": src})
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("policy: compile: %w", err)
	}
	q, err := rego.New(
		rego.Query(degradedQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("policy: prepare: %w", err)
	}
	return q, nil
}

// HealthCheck verifies that the prepared policy evaluates for the login call site.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, DegradedInput{CallSite: CallSiteLogin, TimedOut: true})
	return err
}

// AllowDegraded evaluates the policy. On evaluation failure it logs and falls back to the
// built-in decision for the call site.
func (e *OPAEvaluator) AllowDegraded(ctx context.Context, in DegradedInput) bool {
	allow, err := e.eval(ctx, in)
	if err != nil {
		fallback := builtinAllow(in.CallSite)
		e.log.ErrorContext(ctx, "policy: degraded evaluation failed, using built-in decision",
			"call_site", string(in.CallSite), "allow", fallback, "error", err)
		return fallback
	}
	return allow
}

func (e *OPAEvaluator) eval(ctx context.Context, in DegradedInput) (bool, error) {
	input := map[string]interface{}{
		"call_site": string(in.CallSite),
		"timed_out": in.TimedOut,
		"had_error": in.HadError,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("policy query returned no result")
	}
	allow, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return allow, nil
}

// builtinAllow mirrors defaultRegoPolicy.
func builtinAllow(site CallSite) bool {
	return site == CallSiteRegistrationProbe
}

// StaticDecider applies the built-in decision without OPA.
type StaticDecider struct{}

// AllowDegraded allows registration probes and blocks everything else.
func (StaticDecider) AllowDegraded(_ context.Context, in DegradedInput) bool {
	return builtinAllow(in.CallSite)
}
