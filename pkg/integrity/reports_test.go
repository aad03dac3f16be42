package integrity

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

func TestWriteReportsPersistsServersAllocationsAndApps(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	ctx := context.Background()

	c := cell.New("cell1")
	rack := cell.NewBucket("rack1", "rack", 0, cell.Node(c))
	c.AddBucket(rack)

	srv := cell.NewServer("srv1", rack, cell.NewCapacity(16000, 8000, 100000), 0, cell.DefaultPartitionLabel, 100)
	srv.Transition(cell.StateUp, 100)
	require.NoError(t, c.AddServer(srv))

	alloc := c.DefaultPartition().Allocation
	alloc.Rank = 5

	app := &cell.Application{Name: "proid1.web#0000000001", Demand: cell.NewCapacity(1000, 100, 1000), Allocation: alloc, Priority: 3}
	c.Apps[app.Name] = app
	srv.PlaceApp(app)
	alloc.RecordPlacement(srv.Name, app.Demand)

	r := NewReporter(store)
	require.NoError(t, r.WriteReports(ctx, c))

	serverData, ok, err := store.GetDefault(ctx, zknamespace.ReportServers())
	require.NoError(t, err)
	require.True(t, ok)
	var servers []ServerReport
	require.NoError(t, json.Unmarshal(serverData, &servers))
	require.Len(t, servers, 1)
	assert.Equal(t, "srv1", servers[0].Name)
	assert.Equal(t, 1, servers[0].AppCount)

	allocData, ok, err := store.GetDefault(ctx, zknamespace.ReportAllocations())
	require.NoError(t, err)
	require.True(t, ok)
	var allocs []AllocationReport
	require.NoError(t, json.Unmarshal(allocData, &allocs))
	require.Len(t, allocs, 1)
	assert.Equal(t, 5, allocs[0].Rank)

	appData, ok, err := store.GetDefault(ctx, zknamespace.ReportApps())
	require.NoError(t, err)
	require.True(t, ok)
	var apps []AppReport
	require.NoError(t, json.Unmarshal(appData, &apps))
	require.Len(t, apps, 1)
	assert.Equal(t, "srv1", apps[0].Server)
	assert.Equal(t, alloc.Name, apps[0].Allocation)
}
