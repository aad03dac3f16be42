package zkstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	b := NewMemBackend()
	defer b.Close()
	ctx := context.Background()

	_, _, err := b.Get(ctx, "/servers/s1")
	require.True(t, errors.Is(err, ErrNotFound))

	changed, err := b.Put(ctx, "/servers/s1", []byte("a"))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = b.Put(ctx, "/servers/s1", []byte("a"))
	require.NoError(t, err)
	assert.False(t, changed, "writing identical content must report no change")

	data, stat, err := b.Get(ctx, "/servers/s1")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
	assert.Equal(t, 1, stat.Version)

	require.NoError(t, b.Delete(ctx, "/servers/s1"))
	exists, _ := b.Exists(ctx, "/servers/s1")
	assert.False(t, exists)
}

func TestGetDefault(t *testing.T) {
	b := NewMemBackend()
	defer b.Close()
	ctx := context.Background()

	data, ok, err := b.GetDefault(ctx, "/missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)

	_, _ = b.Put(ctx, "/present", []byte("x"))
	data, ok, err = b.GetDefault(ctx, "/present")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", string(data))
}

func TestListChildrenAreImplicit(t *testing.T) {
	b := NewMemBackend()
	defer b.Close()
	ctx := context.Background()

	_, err := b.Put(ctx, "/buckets/rack1", []byte("r1"))
	require.NoError(t, err)
	_, err = b.Put(ctx, "/buckets/rack2", []byte("r2"))
	require.NoError(t, err)

	children, err := b.List(ctx, "/buckets")
	require.NoError(t, err)
	assert.Equal(t, []string{"rack1", "rack2"}, children)

	_, err = b.List(ctx, "/does-not-exist")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEnsureExistsDoesNotOverwrite(t *testing.T) {
	b := NewMemBackend()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.EnsureExists(ctx, "/x", []byte("first")))
	require.NoError(t, b.EnsureExists(ctx, "/x", []byte("second")))

	data, _, err := b.Get(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestWatchChildrenFiresOnChange(t *testing.T) {
	b := NewMemBackend()
	defer b.Close()
	ctx := context.Background()

	events := make(chan []string, 8)
	handle, err := b.WatchChildren("/servers", func(children []string) {
		events <- children
	})
	require.NoError(t, err)
	defer handle.Close()

	select {
	case initial := <-events:
		assert.Empty(t, initial)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial watch callback")
	}

	_, _ = b.Put(ctx, "/servers/s1", []byte("1"))

	select {
	case updated := <-events:
		assert.Equal(t, []string{"s1"}, updated)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch callback after put")
	}
}

func TestWatchDataFiresOnDelete(t *testing.T) {
	b := NewMemBackend()
	defer b.Close()
	ctx := context.Background()
	_, _ = b.Put(ctx, "/placement/s1/app1", []byte("up"))

	events := make(chan bool, 8)
	handle, err := b.WatchData("/placement/s1/app1", func(data []byte, exists bool) {
		events <- exists
	})
	require.NoError(t, err)
	defer handle.Close()

	<-events // initial: exists=true

	require.NoError(t, b.Delete(ctx, "/placement/s1/app1"))
	select {
	case exists := <-events:
		assert.False(t, exists)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delete notification")
	}
}

func TestEphemeralRemovedOnSessionClose(t *testing.T) {
	b := NewMemBackend()
	defer b.Close()
	ctx := context.Background()

	sess := b.NewSession()
	require.NoError(t, sess.CreateEphemeral(ctx, "/server.presence/s1", []byte("up")))

	exists, _ := b.Exists(ctx, "/server.presence/s1")
	assert.True(t, exists)

	require.NoError(t, sess.Close())

	exists, _ = b.Exists(ctx, "/server.presence/s1")
	assert.False(t, exists)
}

func TestEphemeralConflictRetriesThenFails(t *testing.T) {
	b := NewMemBackend()
	defer b.Close()
	ctx := context.Background()

	origAttempts, origDelay := EphemeralRetryAttempts, EphemeralRetryDelay
	EphemeralRetryAttempts = 2
	EphemeralRetryDelay = time.Millisecond
	defer func() { EphemeralRetryAttempts, EphemeralRetryDelay = origAttempts, origDelay }()

	holder := b.NewSession()
	require.NoError(t, holder.CreateEphemeral(ctx, "/server.presence/s1", []byte("stale")))

	challenger := b.NewSession()
	err := challenger.CreateEphemeral(ctx, "/server.presence/s1", []byte("new"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestLeaderLockSingleHolder(t *testing.T) {
	b := NewMemBackend()
	defer b.Close()
	ctx := context.Background()

	sess1 := b.NewSession()
	lock1, err := b.Lock(ctx, sess1, "/election/scheduler")
	require.NoError(t, err)

	sess2 := b.NewSession()
	ctx2, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = b.Lock(ctx2, sess2, "/election/scheduler")
	require.Error(t, err, "second locker must block until the first releases")

	require.NoError(t, lock1.Unlock())

	ctx3, cancel3 := context.WithTimeout(ctx, time.Second)
	defer cancel3()
	lock2, err := b.Lock(ctx3, sess2, "/election/scheduler")
	require.NoError(t, err)
	require.NoError(t, lock2.Unlock())
}
