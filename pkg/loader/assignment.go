package loader

import (
	"strings"

	"github.com/evreng/treadmill/pkg/cell"
)

// FindAssignment implements spec.md section 4.3's `find_assignment`: it
// derives an assignment key from name and returns the first allocation
// whose pattern matches it, falling back to the default partition's
// `_default` tenant sub-allocation by proid at priority 1 when nothing
// matches.
func (l *Loader) FindAssignment(name string) *cell.Allocation {
	key := assignmentKey(name)
	for _, assignment := range l.assignments {
		if assignment.Pattern.MatchString(key) {
			return assignment.Allocation
		}
	}
	return l.defaultAllocation(proidOf(name))
}

// assignmentKey extracts the substring between '@' and the following '.'
// if '@' is present in name, else the substring before the first '.'.
func assignmentKey(name string) string {
	if at := strings.IndexByte(name, '@'); at >= 0 {
		rest := name[at+1:]
		if dot := strings.IndexByte(rest, '.'); dot >= 0 {
			return rest[:dot]
		}
		return rest
	}
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		return name[:dot]
	}
	return name
}

// proidOf returns the substring of name before the first '.'.
func proidOf(name string) string {
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		return name[:dot]
	}
	return name
}

func (l *Loader) defaultAllocation(proid string) *cell.Allocation {
	root := l.cell.DefaultPartition().Allocation
	tenant := root.SubAllocation(cell.DefaultPartitionLabel)
	return tenant.SubAllocation(proid)
}
