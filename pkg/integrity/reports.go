// Package integrity builds the read-only servers/allocations/apps
// reports spec.md section 4.3 describes alongside check_placement_integrity,
// collecting the loader's in-memory model into the same
// collect-all-state-then-encode-as-JSON shape the teacher's
// pkg/manager/fsm.go uses for raft snapshots, here applied to a
// point-in-time report instead of a replicated snapshot.
package integrity

import (
	"context"
	"encoding/json"

	"github.com/evreng/treadmill/pkg/cell"
	"github.com/evreng/treadmill/pkg/zknamespace"
	"github.com/evreng/treadmill/pkg/zkstore"
)

// ServerReport is one row of the servers report.
type ServerReport struct {
	Name     string        `json:"name"`
	Label    string        `json:"label"`
	State    string        `json:"state"`
	AppCount int           `json:"app_count"`
	Total    cell.Capacity `json:"total"`
	Free     cell.Capacity `json:"free"`
}

// AllocationReport is one row of the allocations report.
type AllocationReport struct {
	Name     string `json:"name"`
	Rank     int    `json:"rank"`
	Reserved cell.Capacity `json:"reserved"`
	Capacity cell.Capacity `json:"capacity"`
}

// AppReport is one row of the apps report.
type AppReport struct {
	Name       string `json:"name"`
	Server     string `json:"server,omitempty"`
	Allocation string `json:"allocation,omitempty"`
	Priority   int    `json:"priority"`
}

// Reporter builds the three reports from a cell snapshot and writes them
// to the store's /reports tree (spec.md section 6).
type Reporter struct {
	store zkstore.Backend
}

// NewReporter wires a Reporter to the coordination store.
func NewReporter(store zkstore.Backend) *Reporter {
	return &Reporter{store: store}
}

// WriteReports collects and persists all three reports for c.
func (r *Reporter) WriteReports(ctx context.Context, c *cell.Cell) error {
	if err := r.writeServers(ctx, c); err != nil {
		return err
	}
	if err := r.writeAllocations(ctx, c); err != nil {
		return err
	}
	return r.writeApps(ctx, c)
}

func (r *Reporter) writeServers(ctx context.Context, c *cell.Cell) error {
	var rows []ServerReport
	for _, srv := range c.Servers() {
		total, free := srv.CapacityAggregate()
		rows = append(rows, ServerReport{
			Name:     srv.Name,
			Label:    srv.Label,
			State:    string(srv.State),
			AppCount: len(srv.Apps),
			Total:    total,
			Free:     free,
		})
	}
	return r.putJSON(ctx, zknamespace.ReportServers(), rows)
}

func (r *Reporter) writeAllocations(ctx context.Context, c *cell.Cell) error {
	var rows []AllocationReport
	var walk func(a *cell.Allocation)
	walk = func(a *cell.Allocation) {
		rows = append(rows, AllocationReport{
			Name:     a.Name,
			Rank:     a.Rank,
			Reserved: a.Reserved(),
			Capacity: a.Capacity,
		})
		for _, sub := range a.SubAlloc {
			walk(sub)
		}
	}
	for _, p := range c.Partitions {
		if p.Allocation != nil {
			walk(p.Allocation)
		}
	}
	return r.putJSON(ctx, zknamespace.ReportAllocations(), rows)
}

func (r *Reporter) writeApps(ctx context.Context, c *cell.Cell) error {
	var rows []AppReport
	for name, app := range c.Apps {
		row := AppReport{Name: name, Priority: app.Priority}
		if app.Server != nil {
			row.Server = app.Server.Name
		}
		if app.Allocation != nil {
			row.Allocation = app.Allocation.Name
		}
		rows = append(rows, row)
	}
	return r.putJSON(ctx, zknamespace.ReportApps(), rows)
}

func (r *Reporter) putJSON(ctx context.Context, path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.store.Put(ctx, path, data)
	return err
}
