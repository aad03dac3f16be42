package loader

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evreng/treadmill/pkg/cell"
	"github.com/evreng/treadmill/pkg/zknamespace"
	"github.com/evreng/treadmill/pkg/zkstore"
)

func seedBaseCluster(t *testing.T, store zkstore.Backend, ctx context.Context) {
	t.Helper()

	bucketData, err := json.Marshal(bucketDoc{Parent: "", Level: "rack", Traits: 0})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Bucket("rack1"), bucketData)
	require.NoError(t, err)

	serverData, err := json.Marshal(serverDoc{
		Parent:    "rack1",
		Partition: "_default",
		Memory:    16000,
		CPU:       8000,
		Disk:      100000,
		UpSince:   100,
	})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Server("s1"), serverData)
	require.NoError(t, err)

	require.NoError(t, store.EnsureExists(ctx, zknamespace.ServerPresence("s1"), nil))

	schedData, err := json.Marshal(scheduledDoc{Priority: 5, Memory: "1G", CPU: "100", Disk: "1G"})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Scheduled("proid1.web#0000000001"), schedData)
	require.NoError(t, err)

	placementData, err := json.Marshal(placementDoc{State: "up", Since: 200})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.PlacementApp("s1", "proid1.web#0000000001"), placementData)
	require.NoError(t, err)
}

func fixedClock(t int64) func() int64 { return func() int64 { return t } }

// TestLoadModelRestoresAfterLeaderRestart covers spec.md section 8
// scenario A: a fresh loader reading an already-populated store must
// rebuild the exact same placement without re-placing or evicting
// anything.
func TestLoadModelRestoresAfterLeaderRestart(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	ctx := context.Background()
	seedBaseCluster(t, store, ctx)

	l := New(store, "cell1", fixedClock(300))
	require.NoError(t, l.LoadModel(ctx))

	app := l.Cell().Apps["proid1.web#0000000001"]
	require.NotNil(t, app)
	require.NotNil(t, app.Server)
	assert.Equal(t, "s1", app.Server.Name)

	srv := l.Cell().Server("s1")
	require.NotNil(t, srv)
	assert.Equal(t, cell.StateUp, srv.State)
	assert.Equal(t, cell.NewCapacity(15000, 7900, 99000), srv.Free())
}

// TestAdjustPresenceMarksServerDownAndPreservesPlacement covers spec.md
// section 8 scenario B: a server's presence node disappears. The server
// goes down and leaves its partition's membership set, but its placement
// record is untouched (data retention).
func TestAdjustPresenceMarksServerDownAndPreservesPlacement(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	ctx := context.Background()
	seedBaseCluster(t, store, ctx)

	l := New(store, "cell1", fixedClock(300))
	require.NoError(t, l.LoadModel(ctx))

	require.NoError(t, store.Delete(ctx, zknamespace.ServerPresence("s1")))
	require.NoError(t, l.AdjustPresence(ctx, map[string]bool{}))

	srv := l.Cell().Server("s1")
	require.NotNil(t, srv)
	assert.Equal(t, cell.StateDown, srv.State)
	assert.NotContains(t, l.Cell().Partition("_default").Servers, "s1")

	app := l.Cell().Apps["proid1.web#0000000001"]
	require.NotNil(t, app)
	assert.NotNil(t, app.Server, "placement must persist through a down transition")

	ok, err := store.Exists(ctx, zknamespace.PlacementApp("s1", "proid1.web#0000000001"))
	require.NoError(t, err)
	assert.True(t, ok, "placement record must survive data retention")
}

// TestReloadServerEvictsScheduleOnceAppWhenItNoLongerFits covers spec.md
// section 8 scenario C: a server reports back with shrunk capacity. The
// schedule_once app that no longer fits is evicted entirely, not just
// unplaced.
func TestReloadServerEvictsScheduleOnceAppWhenItNoLongerFits(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	ctx := context.Background()
	seedBaseCluster(t, store, ctx)

	schedData, err := json.Marshal(scheduledDoc{Priority: 5, Memory: "1G", CPU: "100", Disk: "1G", ScheduleOnce: true})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Scheduled("proid1.web#0000000001"), schedData)
	require.NoError(t, err)

	l := New(store, "cell1", fixedClock(300))
	require.NoError(t, l.LoadModel(ctx))
	require.NotNil(t, l.Cell().Apps["proid1.web#0000000001"].Server)

	shrunk, err := json.Marshal(serverDoc{
		Parent:    "rack1",
		Partition: "_default",
		Memory:    500,
		CPU:       8000,
		Disk:      100000,
		UpSince:   400,
	})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Server("s1"), shrunk)
	require.NoError(t, err)

	require.NoError(t, l.reloadServer(ctx, "s1"))

	assert.NotContains(t, l.Cell().Apps, "proid1.web#0000000001")

	placed, err := store.Exists(ctx, zknamespace.PlacementApp("s1", "proid1.web#0000000001"))
	require.NoError(t, err)
	assert.False(t, placed)

	scheduled, err := store.Exists(ctx, zknamespace.Scheduled("proid1.web#0000000001"))
	require.NoError(t, err)
	assert.False(t, scheduled)
}

// TestCheckPlacementIntegrityRemovesNonAuthoritativeDuplicate covers
// spec.md section 8 scenario F: the same app ends up recorded as placed
// on two servers. The authoritative record (matching M's app.server) is
// kept; the other is deleted, with no error raised.
func TestCheckPlacementIntegrityRemovesNonAuthoritativeDuplicate(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	ctx := context.Background()
	seedBaseCluster(t, store, ctx)

	bucketData, err := json.Marshal(bucketDoc{Parent: "", Level: "rack", Traits: 0})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Bucket("rack2"), bucketData)
	require.NoError(t, err)
	server2, err := json.Marshal(serverDoc{
		Parent:    "rack2",
		Partition: "_default",
		Memory:    16000,
		CPU:       8000,
		Disk:      100000,
		UpSince:   100,
	})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Server("s2"), server2)
	require.NoError(t, err)
	require.NoError(t, store.EnsureExists(ctx, zknamespace.ServerPresence("s2"), nil))

	l := New(store, "cell1", fixedClock(300))
	require.NoError(t, l.LoadModel(ctx))
	require.Equal(t, "s1", l.Cell().Apps["proid1.web#0000000001"].Server.Name)

	dupData, err := json.Marshal(placementDoc{State: "up", Since: 200})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.PlacementApp("s2", "proid1.web#0000000001"), dupData)
	require.NoError(t, err)

	require.NoError(t, l.CheckPlacementIntegrity(ctx))

	s1Has, err := store.Exists(ctx, zknamespace.PlacementApp("s1", "proid1.web#0000000001"))
	require.NoError(t, err)
	assert.True(t, s1Has, "authoritative record must remain")

	s2Has, err := store.Exists(ctx, zknamespace.PlacementApp("s2", "proid1.web#0000000001"))
	require.NoError(t, err)
	assert.False(t, s2Has, "non-authoritative duplicate must be removed")
}

// TestRestorePlacementsDropsAppsDoublyRestoredAcrossServers covers the
// other half of scenario F: two independent, individually-fitting
// placement records for the same app surface during restore_placements
// itself (not just the later integrity check). Both must be dropped so
// an external sweep can re-place the app cleanly.
func TestRestorePlacementsDropsAppsDoublyRestoredAcrossServers(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	ctx := context.Background()
	seedBaseCluster(t, store, ctx)

	bucketData, err := json.Marshal(bucketDoc{Parent: "", Level: "rack", Traits: 0})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Bucket("rack2"), bucketData)
	require.NoError(t, err)
	server2, err := json.Marshal(serverDoc{
		Parent:    "rack2",
		Partition: "_default",
		Memory:    16000,
		CPU:       8000,
		Disk:      100000,
		UpSince:   100,
	})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Server("s2"), server2)
	require.NoError(t, err)
	require.NoError(t, store.EnsureExists(ctx, zknamespace.ServerPresence("s2"), nil))

	dupData, err := json.Marshal(placementDoc{State: "up", Since: 200})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.PlacementApp("s2", "proid1.web#0000000001"), dupData)
	require.NoError(t, err)

	l := New(store, "cell1", fixedClock(300))
	require.NoError(t, l.loadPartitions(ctx))
	require.NoError(t, l.loadAllBuckets(ctx))
	require.NoError(t, l.loadAllServers(ctx))
	require.NoError(t, l.loadAllocations(ctx))
	require.NoError(t, l.loadApps(ctx))

	_, restored, err := l.RestorePlacements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, restored)

	app := l.Cell().Apps["proid1.web#0000000001"]
	require.NotNil(t, app)
	assert.Nil(t, app.Server)

	s1Has, err := store.Exists(ctx, zknamespace.PlacementApp("s1", "proid1.web#0000000001"))
	require.NoError(t, err)
	assert.False(t, s1Has)
	s2Has, err := store.Exists(ctx, zknamespace.PlacementApp("s2", "proid1.web#0000000001"))
	require.NoError(t, err)
	assert.False(t, s2Has)
}

func TestLoadBucketIsIdempotentAndRecursesParents(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	ctx := context.Background()

	rackData, err := json.Marshal(bucketDoc{Parent: "", Level: "rack", Traits: 1})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Bucket("rack1"), rackData)
	require.NoError(t, err)
	rowData, err := json.Marshal(bucketDoc{Parent: "rack1", Level: "row", Traits: 2})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Bucket("row1"), rowData)
	require.NoError(t, err)

	l := New(store, "cell1", fixedClock(0))
	b1, err := l.loadBucket(ctx, "row1")
	require.NoError(t, err)
	require.NotNil(t, b1)
	assert.Equal(t, uint64(3), b1.EffectiveTraits())

	rack := l.Cell().Bucket("rack1")
	require.NotNil(t, rack)
	found := false
	for _, child := range rack.Children() {
		if child.NodeName() == "row1" {
			found = true
		}
	}
	assert.True(t, found, "row1 must be attached under rack1")

	b2, err := l.loadBucket(ctx, "row1")
	require.NoError(t, err)
	assert.Same(t, b1, b2, "loadBucket must be idempotent")
}

func TestFindAssignmentMatchesPatternThenFallsBackToDefault(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	ctx := context.Background()

	allocations := []allocationDoc{
		{
			Name:      "web-tier",
			Partition: "_default",
			Memory:    100000,
			CPU:       10000,
			Disk:      500000,
			Rank:      5,
			Assignments: []assignmentDoc{
				{Pattern: `^proid1$`, Priority: 10},
			},
		},
	}
	data, err := json.Marshal(allocations)
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.Allocations(), data)
	require.NoError(t, err)

	l := New(store, "cell1", fixedClock(0))
	require.NoError(t, l.loadPartitions(ctx))
	require.NoError(t, l.loadAllocations(ctx))

	matched := l.FindAssignment("proid1.web#0000000001")
	require.NotNil(t, matched)
	assert.Equal(t, "web-tier", matched.Name)

	fallback := l.FindAssignment("proid2.other#0000000002")
	require.NotNil(t, fallback)
	assert.Equal(t, "proid2", fallback.Name)
}

func TestLoadIdentityGroupsResizeEvictsOutOfRangeSlot(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	ctx := context.Background()
	seedBaseCluster(t, store, ctx)

	l := New(store, "cell1", fixedClock(300))
	require.NoError(t, l.LoadModel(ctx))

	app := l.Cell().Apps["proid1.web#0000000001"]
	require.NotNil(t, app)
	app.IdentityGroup = "group1"
	identity := 0
	app.Identity = &identity

	group := cell.NewIdentityGroup("group1", 1)
	group.Slots[0] = &cell.IdentitySlot{Host: "s1", App: app.Name}
	l.Cell().IdentityGroups["group1"] = group

	shrink, err := json.Marshal(identityGroupDoc{Count: 0})
	require.NoError(t, err)
	_, err = store.Put(ctx, zknamespace.IdentityGroup("group1"), shrink)
	require.NoError(t, err)

	require.NoError(t, l.loadIdentityGroups(ctx))

	assert.Nil(t, app.Server, "app occupying the dropped slot must be evicted")
	ok, err := store.Exists(ctx, zknamespace.PlacementApp("s1", "proid1.web#0000000001"))
	require.NoError(t, err)
	assert.False(t, ok)
}
