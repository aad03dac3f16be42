package cell

// DefaultPartitionLabel is the one partition label every cell must carry
// (spec.md section 3 invariant: "Exactly one partition with label
// `_default`").
const DefaultPartitionLabel = "_default"

// RebootSchedule is an optional 7-day bitmap (one bit per day).
type RebootSchedule [7]uint8

// Partition is a named subset of a cell's servers bound to an allocation
// tree (spec.md section 3).
type Partition struct {
	Label          string
	Allocation     *Allocation
	RebootSchedule *RebootSchedule
	Servers        map[string]*Server // membership set, flat
}

// NewPartition creates an empty partition with a fresh root allocation.
func NewPartition(label string) *Partition {
	p := &Partition{
		Label:   label,
		Servers: make(map[string]*Server),
	}
	root := NewAllocation(label, nil)
	root.Partition = p
	p.Allocation = root
	return p
}

// AddServer adds srv to the partition's flat membership set.
func (p *Partition) AddServer(srv *Server) {
	p.Servers[srv.Name] = srv
}

// RemoveServer removes a server from membership without touching the
// bucket tree (spec.md section 4.4: "remains in the bucket tree").
func (p *Partition) RemoveServer(name string) {
	delete(p.Servers, name)
}
