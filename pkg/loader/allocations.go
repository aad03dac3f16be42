package loader

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/evreng/treadmill/pkg/cell"
	"github.com/evreng/treadmill/pkg/zknamespace"
)

// loadAllocations implements spec.md section 4.3's "allocations &
// assignments" step: it decodes the single /allocations document into the
// allocation tree (rooted at each partition) and compiles every
// assignment pattern into l.assignments for find_assignment to search.
func (l *Loader) loadAllocations(ctx context.Context) error {
	data, ok, err := l.store.GetDefault(ctx, zknamespace.Allocations())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var docs []allocationDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		l.logger.Warn().Err(err).Msg("skipping malformed allocations document")
		return nil
	}

	l.assignments = nil
	for _, doc := range docs {
		label := doc.Partition
		if label == "" {
			label = cell.DefaultPartitionLabel
		}
		p := l.cell.EnsurePartition(label)
		alloc := p.Allocation.SubAllocation(doc.Name)
		alloc.Capacity = cell.NewCapacity(doc.Memory, doc.CPU, doc.Disk)
		alloc.Rank = doc.Rank
		alloc.RankAdjustment = doc.RankAdjustment
		alloc.MaxUtilization = doc.MaxUtilization

		for _, a := range doc.Assignments {
			re, err := regexp.Compile(a.Pattern)
			if err != nil {
				l.logger.Warn().Err(err).Str("pattern", a.Pattern).Msg("skipping unparseable assignment pattern")
				continue
			}
			assignment := &cell.Assignment{
				PatternSrc: a.Pattern,
				Pattern:    re,
				Priority:   a.Priority,
				Allocation: alloc,
			}
			alloc.Assignments = append(alloc.Assignments, assignment)
			l.assignments = append(l.assignments, assignment)
		}
	}

	sortAssignmentsByPriority(l.assignments)
	return nil
}

func sortAssignmentsByPriority(assignments []*cell.Assignment) {
	for i := 1; i < len(assignments); i++ {
		j := i
		for j > 0 && assignments[j-1].Priority > assignments[j].Priority {
			assignments[j-1], assignments[j] = assignments[j], assignments[j-1]
			j--
		}
	}
}
