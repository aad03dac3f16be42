package placement

import "github.com/evreng/treadmill/pkg/cell"

// Fits reports whether server can accept app without violating capacity,
// traits, partition, or affinity-limit constraints (spec.md section
// 4.2). A frozen or down server never fits new placements (spec.md
// section 9, open question (a): frozen blocks placement).
func Fits(server *cell.Server, app *cell.Application) bool {
	if server.State != cell.StateUp {
		return false
	}
	return FitsIgnoringState(server, app)
}

// FitsIgnoringState checks the spec.md section 4.2 "fits" predicate
// (capacity, traits, partition, affinity) without gating on server state.
// The loader uses this when restoring a previously recorded placement:
// restore must not evict an app from a frozen or down server just because
// of its current state (spec.md section 9, open question (a): frozen
// blocks eviction too, and down servers keep their placements for data
// retention per spec.md section 4.4).
func FitsIgnoringState(server *cell.Server, app *cell.Application) bool {
	if !server.Free().GreaterOrEqual(app.Demand) {
		return false
	}
	if server.EffectiveTraits()&app.RequiredTraits != app.RequiredTraits {
		return false
	}
	if app.Allocation == nil || app.Allocation.Partition == nil || server.Label != app.Allocation.Partition.Label {
		return false
	}
	return affinityLimitsOK(server, app)
}

// affinityLimitsOK checks every configured affinity limit (keyed by
// bucket level, or the literal "server" for per-host limits) against the
// candidate server and its ancestor chain.
func affinityLimitsOK(server *cell.Server, app *cell.Application) bool {
	if app.Affinity == "" || len(app.AffinityLimits) == 0 {
		return true
	}
	for level, limit := range app.AffinityLimits {
		var node cell.Node
		if level == "server" {
			node = server
		} else {
			node = ancestorBucketByLevel(server.Bucket, level)
		}
		if node == nil {
			continue
		}
		if countAffinity(node, app.Affinity, app.Name) >= limit {
			return false
		}
	}
	return true
}

func ancestorBucketByLevel(b *cell.Bucket, level string) cell.Node {
	for cur := b; cur != nil; {
		if cur.Level == level {
			return cur
		}
		parent, ok := cur.Parent.(*cell.Bucket)
		if !ok {
			return nil
		}
		cur = parent
	}
	return nil
}

// countAffinity counts placed instances sharing affinityKey under node,
// excluding excludeApp itself (so re-checking an already-placed app's own
// server does not double-count it).
func countAffinity(node cell.Node, affinityKey, excludeApp string) int {
	count := 0
	cell.Traverse(node, func(n cell.Node) bool {
		if srv, ok := n.(*cell.Server); ok {
			for _, a := range srv.Apps {
				if a.Affinity == affinityKey && a.Name != excludeApp {
					count++
				}
			}
		}
		return true
	})
	return count
}
