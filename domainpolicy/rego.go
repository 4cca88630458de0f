package domainpolicy

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// DefaultQuery is evaluated against {"host": "<normalized host>"} and must
// yield a boolean.
const DefaultQuery = "data.fedsig.domain.deny"

// Rego evaluates a rego policy for each host.
type Rego struct {
	query rego.PreparedEvalQuery
}

// NewRego compiles the given rego module source.
func NewRego(ctx context.Context, name, module string) (*Rego, error) {
	r := rego.New(
		rego.Query(DefaultQuery),
		rego.Module(name, module),
		rego.StrictBuiltinErrors(true),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("domainpolicy: compile %s: %w", name, err)
	}

	return &Rego{query: prepared}, nil
}

// LoadRego compiles the rego module at path.
func LoadRego(ctx context.Context, path string) (*Rego, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return NewRego(ctx, path, string(src))
}

func (r *Rego) IsDomainBlocked(ctx context.Context, host string) (bool, error) {
	if r == nil {
		return false, errors.New("domainpolicy: rego policy is nil")
	}

	results, err := r.query.Eval(ctx, rego.EvalInput(map[string]any{"host": Normalize(host)}))
	if err != nil {
		return false, err
	}

	// An undefined rule means nothing denied the host.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	deny, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("domainpolicy: %s must be boolean, got %T", DefaultQuery, results[0].Expressions[0].Value)
	}

	return deny, nil
}

var _ Policy = (*Rego)(nil)
