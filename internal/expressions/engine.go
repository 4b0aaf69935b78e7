package expressions

import "context"

// Engine evaluates expressions against a data environment.
// Three implementations: Arith (pricing math), CEL and Expr (conditions).
// The GoJQ engine has a different input shape and lives outside this
// interface; it projects values out of raw answer payloads.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
