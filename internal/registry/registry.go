// Package registry holds the fixed set of trading engines, one per
// configured account, and fans broadcast intents out across them. The set is
// immutable after construction; handlers index into it or iterate it without
// locking.
package registry

import (
	"context"

	"github.com/quantbridge/quantbridge/internal/engine"
	"github.com/quantbridge/quantbridge/pkg/errors"
)

// Registry is the ordered set of trading engines. Index 0 is the first
// configured account; the HTTP surface addresses accounts by this index.
type Registry struct {
	engines []*engine.Engine
}

// New builds a registry over the given engines. The slice is copied; callers
// cannot mutate the registry afterwards.
func New(engines []*engine.Engine) *Registry {
	out := make([]*engine.Engine, len(engines))
	copy(out, engines)

	return &Registry{engines: out}
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int { return len(r.engines) }

// ByIndex returns the engine at the given trader index.
func (r *Registry) ByIndex(index int) (*engine.Engine, error) {
	if index < 0 || index >= len(r.engines) {
		return nil, errors.Newf(errors.ErrCodeInvalidTraderIndex,
			"trader index %d out of range [0, %d)", index, len(r.engines))
	}

	return r.engines[index], nil
}

// All returns the engines in configuration order. The returned slice is a
// copy.
func (r *Registry) All() []*engine.Engine {
	out := make([]*engine.Engine, len(r.engines))
	copy(out, r.engines)

	return out
}

// Outcome is one account's result of a broadcast intent. Exactly one of
// Result and Error is meaningful, selected by Status.
type Outcome struct {
	TraderIndex int                `json:"trader_index"`
	AccountID   string             `json:"account_id"`
	Status      string             `json:"status"` // "ok" or "error"
	Result      engine.OrderResult `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Broadcast runs the intent against every engine in order and collects one
// outcome per account. A failure on one account never short-circuits the
// rest; sequential execution keeps per-account ordering deterministic.
func (r *Registry) Broadcast(ctx context.Context, intent func(ctx context.Context, e *engine.Engine) (engine.OrderResult, error)) []Outcome {
	outcomes := make([]Outcome, 0, len(r.engines))

	for i, e := range r.engines {
		outcome := Outcome{
			TraderIndex: i,
			AccountID:   e.Session().AccountID(),
		}

		result, err := intent(ctx, e)
		if err != nil {
			outcome.Status = "error"
			outcome.Error = err.Error()
		} else {
			outcome.Status = "ok"
			outcome.Result = result
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes
}
