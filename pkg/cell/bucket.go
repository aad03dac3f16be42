package cell

// Bucket is a topology node grouping servers (rack, row, building, ...).
// Every bucket has exactly one parent (another bucket or the cell root);
// traits are inherited additively by descendants (spec.md section 3).
//
// Go's garbage collector is cycle-aware, so the parent<->child pointer
// cycle the original's dynamic-language implementation needed a weak
// reference or name-lookup workaround for (spec.md section 9) is simply a
// direct pointer here.
type Bucket struct {
	Name     string
	Level    string
	Traits   uint64
	Parent   Node
	children []Node
}

// NewBucket creates a bucket attached to parent. Default level handling
// (prefix before first ':') and trait parsing live in the loader, which
// owns manifest decoding; this constructor just wires the tree pointer.
func NewBucket(name, level string, traits uint64, parent Node) *Bucket {
	return &Bucket{Name: name, Level: level, Traits: traits, Parent: parent}
}

func (b *Bucket) NodeName() string { return b.Name }

func (b *Bucket) AddChild(child Node) {
	for _, c := range b.children {
		if c.NodeName() == child.NodeName() {
			return
		}
	}
	b.children = append(b.children, child)
}

func (b *Bucket) RemoveChild(name string) {
	for i, c := range b.children {
		if c.NodeName() == name {
			b.children = append(b.children[:i], b.children[i+1:]...)
			return
		}
	}
}

func (b *Bucket) Children() []Node { return b.children }

func (b *Bucket) CapacityAggregate() (total, free Capacity) {
	for _, c := range b.children {
		ct, cf := c.CapacityAggregate()
		total = total.Add(ct)
		free = free.Add(cf)
	}
	return total, free
}

// EffectiveTraits returns this bucket's traits OR'd with every ancestor's
// traits, implementing the additive-inheritance invariant.
func (b *Bucket) EffectiveTraits() uint64 {
	traits := b.Traits
	if parentBucket, ok := b.Parent.(*Bucket); ok {
		traits |= parentBucket.EffectiveTraits()
	}
	return traits
}
