// Package placement is the placement engine (component P in spec.md
// section 2): given the resource model, it picks a server for an
// application under capacity, trait, partition, and affinity
// constraints. It never performs I/O — it reads only from the in-memory
// model (spec.md section 5).
package placement

import (
	"errors"
	"sort"

	"github.com/evreng/treadmill/pkg/cell"
)

// ErrNoFit is returned when no server in the cell fits an app.
var ErrNoFit = errors.New("placement: no server fits")

// Search walks root depth-first, ordering each bucket's children by the
// app's affinity strategy, and returns the first server that Fits
// (spec.md section 4.2).
func Search(root cell.Node, app *cell.Application) (*cell.Server, error) {
	srv := searchNode(root, app)
	if srv == nil {
		return nil, ErrNoFit
	}
	return srv, nil
}

func searchNode(n cell.Node, app *cell.Application) *cell.Server {
	if srv, ok := n.(*cell.Server); ok {
		if Fits(srv, app) {
			return srv
		}
		return nil
	}
	strategy := StrategyFor(app.Affinity)
	for _, child := range strategy.Order(n.Children()) {
		if srv := searchNode(child, app); srv != nil {
			return srv
		}
	}
	return nil
}

// Place searches for a fitting server and, on success, records the
// placement on both the server and the app's allocation. When app
// belongs to an identity group and does not already hold a slot, Place
// assigns it the lowest free slot in that group (spec.md section 4.5:
// "when an app with identity_group=g is placed, the loader assigns the
// lowest free slot and records it in the placement node").
func Place(c *cell.Cell, app *cell.Application) (*cell.Server, error) {
	srv, err := Search(cell.Node(c), app)
	if err != nil {
		return nil, err
	}
	srv.PlaceApp(app)
	if app.Allocation != nil {
		app.Allocation.RecordPlacement(srv.Name, app.Demand)
	}
	if app.IdentityGroup != "" && app.Identity == nil {
		if group, ok := c.IdentityGroups[app.IdentityGroup]; ok {
			if slot, ok := group.AllocateSlot(srv.Name, app.Name); ok {
				app.Identity = &slot
			}
		}
	}
	return srv, nil
}

// Evict removes app from its current server, if any, releasing the
// capacity it held on both the server and its allocation.
func Evict(app *cell.Application) {
	if app.Server == nil {
		return
	}
	srv := app.Server
	srv.RemoveApp(app.Name)
	if app.Allocation != nil {
		app.Allocation.ReleasePlacement(srv.Name, app.Demand)
	}
	app.Server = nil
}

// OrderApps sorts apps by effective placement priority (spec.md section
// 4.2): allocation rank (bumped by rank_adjustment when the allocation is
// overutilized), then app priority, then FIFO by creation time — all
// descending except the FIFO tie-break, which favors the earlier-created
// app.
func OrderApps(apps []*cell.Application) []*cell.Application {
	out := append([]*cell.Application(nil), apps...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		rankA, prioA := a.EffectivePriority(a.Allocation != nil && a.Allocation.Overutilized())
		rankB, prioB := b.EffectivePriority(b.Allocation != nil && b.Allocation.Overutilized())
		if rankA != rankB {
			return rankA > rankB
		}
		if prioA != prioB {
			return prioA > prioB
		}
		return a.CreatedAt < b.CreatedAt
	})
	return out
}
