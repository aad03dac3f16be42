package cellsync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evreng/treadmill/pkg/zknamespace"
	"github.com/evreng/treadmill/pkg/zkstore"
)

type fakeAdmin struct {
	partitions []PartitionDef
	allocs     []AllocationDef
	servers    []string
	appgroups  map[string][]AppGroup
}

func (f *fakeAdmin) ListPartitions(ctx context.Context) ([]PartitionDef, error) {
	return f.partitions, nil
}
func (f *fakeAdmin) ListAllocations(ctx context.Context) ([]AllocationDef, error) {
	return f.allocs, nil
}
func (f *fakeAdmin) ListServers(ctx context.Context) ([]string, error) {
	return f.servers, nil
}
func (f *fakeAdmin) AppGroupsByProid(ctx context.Context) (map[string][]AppGroup, error) {
	return f.appgroups, nil
}

func TestSyncOnceWritesPartitionsAllocationsAndServers(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	ctx := context.Background()

	admin := &fakeAdmin{
		partitions: []PartitionDef{{Label: "tier1", Memory: 100000, CPU: 10000, Disk: 500000}},
		allocs:     []AllocationDef{{Name: "web", Partition: "tier1", Memory: 10000, CPU: 1000, Disk: 50000, Rank: 1}},
		servers:    []string{"s1", "s2"},
		appgroups:  map[string][]AppGroup{},
	}

	s := NewSyncer(store, admin, 0)
	s.syncOnce(ctx)

	data, ok, err := store.GetDefault(ctx, zknamespace.Partition("tier1"))
	require.NoError(t, err)
	require.True(t, ok)
	var pd struct {
		Memory int64 `json:"memory"`
	}
	require.NoError(t, json.Unmarshal(data, &pd))
	assert.Equal(t, int64(100000), pd.Memory)

	allocData, ok, err := store.GetDefault(ctx, zknamespace.Allocations())
	require.NoError(t, err)
	require.True(t, ok)
	var decoded []AllocationDef
	require.NoError(t, json.Unmarshal(allocData, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "web", decoded[0].Name)

	for _, name := range []string{"s1", "s2"} {
		exists, err := store.Exists(ctx, zknamespace.Server(name))
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestSyncAppGroupLookupsWritesContentAddressedNodeAndRemovesStaleSiblings(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	ctx := context.Background()

	groups := []AppGroup{{Pattern: "web.*", GroupType: "tier", Endpoints: "http", Data: "v1"}}
	admin := &fakeAdmin{appgroups: map[string][]AppGroup{"proid1": groups}}

	staleDigest := "0000000000000000000000000000000000000stale"
	require.NoError(t, store.EnsureExists(ctx, zknamespace.AppGroupLookup("proid1", staleDigest), []byte("{}")))

	s := NewSyncer(store, admin, 0)
	require.NoError(t, s.syncAppGroupLookups(ctx))

	freshDigest := appGroupDigest(groups)
	exists, err := store.Exists(ctx, zknamespace.AppGroupLookup("proid1", freshDigest))
	require.NoError(t, err)
	assert.True(t, exists)

	staleExists, err := store.Exists(ctx, zknamespace.AppGroupLookup("proid1", staleDigest))
	require.NoError(t, err)
	assert.False(t, staleExists, "stale sibling must be removed")
}

func TestAppGroupDigestIsDeterministicAndOrderSensitive(t *testing.T) {
	a := []AppGroup{{Pattern: "p1", GroupType: "t", Endpoints: "e", Data: "d"}}
	b := []AppGroup{{Pattern: "p1", GroupType: "t", Endpoints: "e", Data: "d"}}
	assert.Equal(t, appGroupDigest(a), appGroupDigest(b))

	c := []AppGroup{{Pattern: "p2", GroupType: "t", Endpoints: "e", Data: "d"}}
	assert.NotEqual(t, appGroupDigest(a), appGroupDigest(c))
}
