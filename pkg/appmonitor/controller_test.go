package appmonitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evreng/treadmill/pkg/instance"
	"github.com/evreng/treadmill/pkg/zknamespace"
	"github.com/evreng/treadmill/pkg/zkstore"
)

type fakeInstanceAPI struct {
	created   []instance.Spec
	deleted   []string
	deletedBy string
}

func (f *fakeInstanceAPI) List(ctx context.Context, proid, app string) ([]instance.Instance, error) {
	return nil, nil
}
func (f *fakeInstanceAPI) Get(ctx context.Context, id string) (instance.Instance, error) {
	return instance.Instance{}, instance.ErrNotFound
}
func (f *fakeInstanceAPI) Create(ctx context.Context, spec instance.Spec) ([]instance.Instance, error) {
	f.created = append(f.created, spec)
	return nil, nil
}
func (f *fakeInstanceAPI) Update(ctx context.Context, id string, spec instance.Spec) (instance.Instance, error) {
	return instance.Instance{}, nil
}
func (f *fakeInstanceAPI) BulkUpdate(ctx context.Context, ids []string, spec instance.Spec) ([]instance.Instance, error) {
	return nil, nil
}
func (f *fakeInstanceAPI) Delete(ctx context.Context, id string, deletedBy string) error {
	f.deleted = append(f.deleted, id)
	f.deletedBy = deletedBy
	return nil
}
func (f *fakeInstanceAPI) BulkDelete(ctx context.Context, ids []string, deletedBy string) error {
	f.deleted = append(f.deleted, ids...)
	f.deletedBy = deletedBy
	return nil
}

func TestControllerTickIssuesCreateWhenUnderCount(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	api := &fakeInstanceAPI{}
	ctx := context.Background()

	require.NoError(t, store.EnsureExists(ctx, zknamespace.AppMonitor("proid1.web"), []byte("count: 3\n")))
	_, err := store.Put(ctx, zknamespace.Scheduled("proid1.web#0000000001"), []byte{})
	require.NoError(t, err)

	c := NewController(store, api)
	mon := NewMonitor("proid1.web", 3, 0)
	mon.Available = 6.0
	c.monitors["proid1.web"] = mon

	require.NoError(t, c.Tick(ctx, 0))

	require.Len(t, api.created, 1)
	assert.Equal(t, 2, api.created[0].Count)
	assert.Equal(t, "proid1", api.created[0].Proid)
	assert.Equal(t, "web", api.created[0].App)
	assert.Equal(t, "monitor", api.created[0].CreatedBy)
}

func TestControllerTickIssuesDeleteWhenOverCount(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	api := &fakeInstanceAPI{}
	ctx := context.Background()

	require.NoError(t, store.EnsureExists(ctx, zknamespace.AppMonitor("proid1.web"), []byte("count: 1\n")))
	for _, inst := range []string{"proid1.web#0000000001", "proid1.web#0000000002"} {
		_, err := store.Put(ctx, zknamespace.Scheduled(inst), []byte{})
		require.NoError(t, err)
	}

	c := NewController(store, api)
	require.NoError(t, c.Tick(ctx, 0))

	assert.Len(t, api.deleted, 1)
	assert.Empty(t, api.created)
	assert.Equal(t, "monitor", api.deletedBy)
}

type flakyDeleteAPI struct {
	fakeInstanceAPI
	failOn map[string]bool
}

func (f *flakyDeleteAPI) Delete(ctx context.Context, id string, deletedBy string) error {
	if f.failOn[id] {
		return assert.AnError
	}
	return f.fakeInstanceAPI.Delete(ctx, id, deletedBy)
}

func TestControllerTickDeletesContinuePastIndividualFailures(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	api := &flakyDeleteAPI{failOn: map[string]bool{"proid1.web#0000000001": true}}
	ctx := context.Background()

	require.NoError(t, store.EnsureExists(ctx, zknamespace.AppMonitor("proid1.web"), []byte("count: 0\n")))
	for _, inst := range []string{"proid1.web#0000000001", "proid1.web#0000000002"} {
		_, err := store.Put(ctx, zknamespace.Scheduled(inst), []byte{})
		require.NoError(t, err)
	}

	c := NewController(store, api)
	require.NoError(t, c.Tick(ctx, 0))

	assert.Equal(t, []string{"proid1.web#0000000002"}, api.deleted,
		"the failing delete must not block the remaining victim from being attempted")
}

func TestControllerTickSkipsUnknownMonitorsGracefully(t *testing.T) {
	store := zkstore.NewMemBackend()
	defer store.Close()
	api := &fakeInstanceAPI{}
	ctx := context.Background()

	require.NoError(t, store.EnsureExists(ctx, zknamespace.AppMonitor("proid1.broken"), []byte("not: valid: yaml: [")))

	c := NewController(store, api)
	assert.NoError(t, c.Tick(ctx, 0))
	assert.Empty(t, api.created)
}
