package cell

import (
	"fmt"
	"sort"
)

// Cell is the scheduling domain root: one per leader process (spec.md
// section 3). It exclusively owns partitions, apps, and identity groups;
// buckets are owned by their parent (the cell or another bucket).
type Cell struct {
	Name           string
	topBuckets     []Node
	Partitions     map[string]*Partition
	Apps           map[string]*Application
	IdentityGroups map[string]*IdentityGroup
	servers        map[string]*Server // flat index for O(1) lookup by name
	buckets        map[string]*Bucket // flat index for O(1) lookup by name
}

// New creates an empty cell model.
func New(name string) *Cell {
	return &Cell{
		Name:           name,
		Partitions:     make(map[string]*Partition),
		Apps:           make(map[string]*Application),
		IdentityGroups: make(map[string]*IdentityGroup),
		servers:        make(map[string]*Server),
		buckets:        make(map[string]*Bucket),
	}
}

func (c *Cell) NodeName() string { return c.Name }

func (c *Cell) AddChild(child Node) {
	for _, b := range c.topBuckets {
		if b.NodeName() == child.NodeName() {
			return
		}
	}
	c.topBuckets = append(c.topBuckets, child)
}

func (c *Cell) RemoveChild(name string) {
	for i, b := range c.topBuckets {
		if b.NodeName() == name {
			c.topBuckets = append(c.topBuckets[:i], c.topBuckets[i+1:]...)
			return
		}
	}
}

func (c *Cell) Children() []Node { return c.topBuckets }

func (c *Cell) CapacityAggregate() (total, free Capacity) {
	for _, b := range c.topBuckets {
		t, f := b.CapacityAggregate()
		total = total.Add(t)
		free = free.Add(f)
	}
	return total, free
}

// DefaultPartition returns the mandatory `_default` partition, creating
// it if this is the first reference (spec.md section 3 invariant).
func (c *Cell) DefaultPartition() *Partition {
	p, ok := c.Partitions[DefaultPartitionLabel]
	if !ok {
		p = NewPartition(DefaultPartitionLabel)
		c.Partitions[DefaultPartitionLabel] = p
	}
	return p
}

// Partition returns an existing partition by label, or nil.
func (c *Cell) Partition(label string) *Partition {
	return c.Partitions[label]
}

// EnsurePartition returns (creating if necessary) the partition at label.
func (c *Cell) EnsurePartition(label string) *Partition {
	p, ok := c.Partitions[label]
	if !ok {
		p = NewPartition(label)
		c.Partitions[label] = p
	}
	return p
}

// Bucket returns a bucket by name, or nil.
func (c *Cell) Bucket(name string) *Bucket {
	return c.buckets[name]
}

// AddBucket registers b in the flat index and, if it has no parent bucket
// (i.e. its parent is the cell itself), attaches it at the top level.
func (c *Cell) AddBucket(b *Bucket) {
	c.buckets[b.Name] = b
	if b.Parent == Node(c) {
		c.AddChild(b)
	}
}

// Server returns a server by name, or nil.
func (c *Cell) Server(name string) *Server {
	return c.servers[name]
}

// AddServer registers srv in the flat index, attaches it under its
// bucket, and adds it to its partition's membership set.
func (c *Cell) AddServer(srv *Server) error {
	if srv.Bucket == nil {
		return fmt.Errorf("server %s: no parent bucket", srv.Name)
	}
	c.servers[srv.Name] = srv
	srv.Bucket.AddChild(srv)
	label := srv.Label
	if label == "" {
		label = DefaultPartitionLabel
	}
	c.EnsurePartition(label).AddServer(srv)
	return nil
}

// RemoveServer detaches srv from its bucket, partition membership, and
// the flat index entirely (used when a server's config node disappears).
func (c *Cell) RemoveServer(name string) {
	srv, ok := c.servers[name]
	if !ok {
		return
	}
	if srv.Bucket != nil {
		srv.Bucket.RemoveChild(name)
	}
	if p := c.Partitions[srv.Label]; p != nil {
		p.RemoveServer(name)
	}
	delete(c.servers, name)
}

// Servers returns every server known to the model, sorted by name for
// deterministic iteration (spec.md invariant 6: idempotence of load_model
// depends on comparisons not being sensitive to map iteration order).
func (c *Cell) Servers() []*Server {
	out := make([]*Server, 0, len(c.servers))
	for _, s := range c.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
