package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityArithmetic(t *testing.T) {
	total := NewCapacity(16000, 8000, 100000)
	used := NewCapacity(1000, 100, 1000)
	free := total.Sub(used)
	assert.Equal(t, NewCapacity(15000, 7900, 99000), free)
	assert.True(t, total.GreaterOrEqual(used))
	assert.False(t, used.GreaterOrEqual(total))
}

func TestBucketTraitInheritance(t *testing.T) {
	c := New("cell1")
	row := NewBucket("row1", "row", 0b01, Node(c))
	c.AddBucket(row)
	rack := NewBucket("rack1", "rack", 0b10, Node(row))
	c.AddBucket(rack)
	row.AddChild(rack)

	assert.Equal(t, uint64(0b10), rack.Traits)
	assert.Equal(t, uint64(0b11), rack.EffectiveTraits(), "descendant traits are additive with ancestors")
}

func TestServerStateMachine(t *testing.T) {
	c := New("cell1")
	rack := NewBucket("rack1", "rack", 0, Node(c))
	c.AddBucket(rack)
	srv := NewServer("s1", rack, NewCapacity(16000, 8000, 100000), 0, "_default", 100)
	require.Equal(t, StateDown, srv.State)

	assert.Equal(t, StateUp, srv.NextState(true))
	srv.Transition(StateUp, 200)
	assert.Equal(t, StateUp, srv.State)
	assert.Equal(t, int64(200), srv.Since)

	// presence disappears
	assert.Equal(t, StateDown, srv.NextState(false))

	// frozen wins over presence blips
	srv.Transition(StateFrozen, 300)
	assert.Equal(t, StateFrozen, srv.NextState(false))
	assert.Equal(t, StateFrozen, srv.NextState(true))
}

func TestServerFreeCapacityAfterPlacement(t *testing.T) {
	c := New("cell1")
	rack := NewBucket("rack1", "rack", 0, Node(c))
	c.AddBucket(rack)
	srv := NewServer("s1", rack, NewCapacity(16000, 8000, 100000), 0, "_default", 100)
	require.NoError(t, c.AddServer(srv))

	app := &Application{Name: "proid1.web#0000000001", Demand: NewCapacity(1000, 100, 1000)}
	srv.PlaceApp(app)

	assert.Equal(t, NewCapacity(15000, 7900, 99000), srv.Free())
}

func TestApplicationParsing(t *testing.T) {
	app := &Application{Name: "proid1.web#0000000001"}
	assert.Equal(t, 1, app.InstanceID())
	assert.Equal(t, "proid1", app.Proid())
	assert.Equal(t, "proid1.web", app.AppName())
}

func TestIdentityGroupAllocateAndResize(t *testing.T) {
	g := NewIdentityGroup("g1", 3)
	slot0, ok := g.AllocateSlot("s1", "a1")
	require.True(t, ok)
	assert.Equal(t, 0, slot0)

	slot1, ok := g.AllocateSlot("s1", "a2")
	require.True(t, ok)
	assert.Equal(t, 1, slot1)

	evicted := g.Resize(1)
	assert.ElementsMatch(t, []string{"a2"}, evicted)
	assert.Equal(t, 1, g.Count)
	_, stillTaken := g.Slots[0]
	assert.True(t, stillTaken)
}

func TestAllocationOverutilizedRequiresMaxUtilization(t *testing.T) {
	a := NewAllocation("tenant", nil)
	a.Capacity = NewCapacity(1000, 1000, 1000)
	a.RecordPlacement("s1", NewCapacity(900, 900, 900))

	// No max_utilization set: never overutilized, rank_adjustment never
	// applies (spec.md open question (c)).
	assert.False(t, a.Overutilized())

	mu := 0.5
	a.MaxUtilization = &mu
	assert.True(t, a.Overutilized())
}

func TestAllocationSubAllocationLazyCreate(t *testing.T) {
	root := NewAllocation("tenant", nil)
	leaf := root.SubAllocation("sub:leaf")
	assert.Equal(t, "sub:leaf", leaf.Name)
	assert.Same(t, leaf, root.SubAlloc["sub:leaf"])
}
