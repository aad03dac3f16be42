// Package zkstore is the coordination-store backend (component B in
// spec.md section 2): a thin adapter over a hierarchical, watchable,
// ephemeral-node KV service ("modeled here as ZK"). It exposes the
// primitives every higher-level Treadmill component builds on: list, get,
// get_default, exists, put, update, delete, ensure_exists, child- and
// data-watch registration, and a leader lock.
//
// Backend is implemented by an in-memory tree (MemBackend, used by tests
// and the in-process dev/demo path) and can be persisted to disk via the
// bbolt-backed snapshot store in bolt_snapshot.go for non-ephemeral data.
package zkstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel error kinds (spec.md section 7).
var (
	// ErrNotFound is returned when a store node is missing.
	ErrNotFound = errors.New("zkstore: not found")
	// ErrConflict is returned when an ephemeral node already exists
	// (typically a stale session holding a presence or election node).
	ErrConflict = errors.New("zkstore: node already exists")
	// ErrUnauthorized is returned on an ACL rejection.
	ErrUnauthorized = errors.New("zkstore: unauthorized")
	// ErrTransient marks a retryable backend error (connection hiccups).
	ErrTransient = errors.New("zkstore: transient error")
)

// Stat carries node metadata returned alongside data reads.
type Stat struct {
	Version int
	Mtime   time.Time
}

// WatchHandle is returned by the watch-registration calls; Close stops
// delivering events for that registration.
type WatchHandle interface {
	Close()
}

// Lock is a held leader lock; Unlock releases it (also released
// automatically when the owning session closes).
type Lock interface {
	Unlock() error
}

// Backend is the minimal hierarchical KV contract every Treadmill
// subsystem talks to instead of a concrete store client.
type Backend interface {
	// List returns the direct children of path, or ErrNotFound if path
	// does not exist.
	List(ctx context.Context, path string) ([]string, error)

	// Get returns the data and metadata stored at path, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, *Stat, error)

	// GetDefault returns (data, true, nil) if path exists, or
	// (nil, false, nil) if it does not — it never returns ErrNotFound,
	// replacing exception-for-control-flow branching with an explicit
	// optional result (spec.md section 9).
	GetDefault(ctx context.Context, path string) ([]byte, bool, error)

	// Exists reports whether path has a node (with or without data).
	Exists(ctx context.Context, path string) (bool, error)

	// Put writes data at path, creating the node if it does not exist
	// yet (parent paths exist implicitly through their children). It returns true iff the stored content
	// actually changed (write-if-content-changed semantics).
	Put(ctx context.Context, path string, data []byte) (bool, error)

	// Update is an alias for Put kept for call-site clarity when the
	// caller does not care whether content changed.
	Update(ctx context.Context, path string, data []byte) error

	// Delete removes path (and, if it is a directory node, its children).
	// Deleting a missing path is a no-op.
	Delete(ctx context.Context, path string) error

	// EnsureExists creates path with data if it does not already exist;
	// it never overwrites existing data.
	EnsureExists(ctx context.Context, path string, data []byte) error

	// WatchChildren registers cb to be invoked, on the serialized event
	// loop, with the current child list every time it changes (and once
	// immediately with the current state).
	WatchChildren(path string, cb func(children []string)) (WatchHandle, error)

	// WatchData registers cb to be invoked whenever the data at path
	// changes, including deletion (exists=false).
	WatchData(path string, cb func(data []byte, exists bool)) (WatchHandle, error)

	// NewSession opens a session used to create ephemeral nodes; all
	// ephemeral nodes created through it are removed when the session is
	// closed (simulating session expiry / process death).
	NewSession() Session

	// Lock blocks until the caller holds the leader lock rooted at path,
	// or ctx is cancelled. The lock is released when Unlock is called or
	// the session that created it closes.
	Lock(ctx context.Context, sess Session, path string) (Lock, error)
}

// Session groups ephemeral nodes so they can be torn down together,
// modeling a coordination-store client session.
type Session interface {
	// CreateEphemeral creates an ephemeral node at path. It makes up to
	// 5 attempts, ~5s apart (spec.md section 5), to tolerate a stale
	// session still holding the node; on exhaustion it returns a wrapped
	// ErrConflict.
	CreateEphemeral(ctx context.Context, path string, data []byte) error

	// Close removes every ephemeral node created through this session and
	// releases any locks it holds, firing the relevant child-watches.
	Close() error
}
