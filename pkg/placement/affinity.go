package placement

import (
	"sort"

	"github.com/evreng/treadmill/pkg/cell"
)

// Strategy is the capability spec.md section 9 calls out as replacing the
// original's decorator-driven ordering: {next_child, reset}. Here it is
// simply an ordering function over a bucket's children for one app, since
// Treadmill's strategies are stateless per search (no cross-call cursor
// is needed once ordering is a pure sort).
type Strategy interface {
	// Order returns children sorted by this strategy's preference, most
	// preferred first.
	Order(children []cell.Node) []cell.Node
}

// LeastLoadedStrategy orders children by ascending utilization (the
// least-loaded child is tried first), the spec's default affinity
// ordering (spec.md section 4.2).
type LeastLoadedStrategy struct{}

func (LeastLoadedStrategy) Order(children []cell.Node) []cell.Node {
	out := append([]cell.Node(nil), children...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, fi := out[i].CapacityAggregate()
		tj, fj := out[j].CapacityAggregate()
		return ti.Utilization(ti.Sub(fi)) < tj.Utilization(tj.Sub(fj))
	})
	return out
}

// StrategyFor resolves the affinity-ordering strategy for an app's
// affinity key. Only "least-loaded" is defined today; unknown keys fall
// back to it rather than erroring, since affinity only ever influences
// ordering, never correctness of the fit test.
func StrategyFor(affinityKey string) Strategy {
	return LeastLoadedStrategy{}
}
