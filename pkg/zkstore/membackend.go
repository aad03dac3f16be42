package zkstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/evreng/treadmill/pkg/log"
)

// EphemeralRetryAttempts and EphemeralRetryDelay implement spec.md
// section 5's bounded retry for ephemeral-node creation: "5 attempts,
// ~5s apart". Tests override EphemeralRetryDelay to keep runs fast.
var (
	EphemeralRetryAttempts = 5
	EphemeralRetryDelay    = 5 * time.Second
)

type entry struct {
	data      []byte
	version   int
	mtime     time.Time
	ephemeral bool
	owner     *memSession
}

// MemBackend is an in-process implementation of Backend: a hierarchical
// tree held in memory, with a single serialized dispatch goroutine for
// watch callbacks (spec.md section 5: "callbacks MUST be serialized").
// It is the reference/test backend and keeps all data in memory only;
// BoltSnapshotStore is a separate on-disk blob store that MemBackend does
// not write to.
type MemBackend struct {
	mu            sync.Mutex
	nodes         map[string]*entry
	childWatchers map[string]map[int]func([]string)
	dataWatchers  map[string]map[int]func([]byte, bool)
	watchSeq      int
	seqCounters   map[string]int

	events chan func()
	done   chan struct{}
	logger zerolog.Logger
}

// NewMemBackend creates an in-memory coordination-store backend.
func NewMemBackend() *MemBackend {
	b := &MemBackend{
		nodes:         make(map[string]*entry),
		childWatchers: make(map[string]map[int]func([]string)),
		dataWatchers:  make(map[string]map[int]func([]byte, bool)),
		seqCounters:   make(map[string]int),
		events:        make(chan func(), 256),
		done:          make(chan struct{}),
		logger:        log.WithComponent("zkstore"),
	}
	go b.dispatchLoop()
	return b
}

// Close stops the dispatch goroutine. Pending events are dropped.
func (b *MemBackend) Close() {
	close(b.done)
}

func (b *MemBackend) dispatchLoop() {
	for {
		select {
		case fn := <-b.events:
			fn()
		case <-b.done:
			return
		}
	}
}

func parentPath(path string) string {
	if path == "/" {
		return "/"
	}
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func childName(path string) string {
	idx := strings.LastIndex(path, "/")
	return path[idx+1:]
}

// List returns the direct children of path.
func (b *MemBackend) List(ctx context.Context, path string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.existsLocked(path) {
		return nil, fmt.Errorf("list %s: %w", path, ErrNotFound)
	}
	return b.childrenLocked(path), nil
}

func (b *MemBackend) childrenLocked(path string) []string {
	prefix := path
	if prefix == "/" {
		prefix = ""
	}
	seen := make(map[string]bool)
	var out []string
	for k := range b.nodes {
		if k == path || !strings.HasPrefix(k, prefix+"/") {
			continue
		}
		rest := k[len(prefix)+1:]
		if idx := strings.Index(rest, "/"); idx >= 0 {
			rest = rest[:idx]
		}
		if rest != "" && !seen[rest] {
			seen[rest] = true
			out = append(out, rest)
		}
	}
	sort.Strings(out)
	return out
}

func (b *MemBackend) existsLocked(path string) bool {
	if path == "/" {
		return true
	}
	if _, ok := b.nodes[path]; ok {
		return true
	}
	for k := range b.nodes {
		if strings.HasPrefix(k, path+"/") {
			return true
		}
	}
	return false
}

// Get returns data and metadata at path.
func (b *MemBackend) Get(ctx context.Context, path string) ([]byte, *Stat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.nodes[path]
	if !ok {
		return nil, nil, fmt.Errorf("get %s: %w", path, ErrNotFound)
	}
	data := append([]byte(nil), e.data...)
	return data, &Stat{Version: e.version, Mtime: e.mtime}, nil
}

// GetDefault returns (data, true, nil) or (nil, false, nil).
func (b *MemBackend) GetDefault(ctx context.Context, path string) ([]byte, bool, error) {
	data, _, err := b.Get(ctx, path)
	if err == nil {
		return data, true, nil
	}
	if isNotFound(err) {
		return nil, false, nil
	}
	return nil, false, err
}

// Exists reports whether path has a node.
func (b *MemBackend) Exists(ctx context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.existsLocked(path), nil
}

// Put writes data at path, returning true iff the content changed.
func (b *MemBackend) Put(ctx context.Context, path string, data []byte) (bool, error) {
	b.mu.Lock()
	e, existed := b.nodes[path]
	changed := !existed || !bytes.Equal(e.data, data)
	if changed {
		if !existed {
			e = &entry{}
			b.nodes[path] = e
		}
		e.data = append([]byte(nil), data...)
		e.version++
		e.mtime = time.Now()
	}
	parent := parentPath(path)
	b.mu.Unlock()

	if changed {
		b.notifyData(path)
		if !existed {
			b.notifyChildren(parent)
		}
	}
	return changed, nil
}

// Update writes data at path, discarding the changed flag.
func (b *MemBackend) Update(ctx context.Context, path string, data []byte) error {
	_, err := b.Put(ctx, path, data)
	return err
}

// Delete removes path and everything under it.
func (b *MemBackend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	removed := false
	if _, ok := b.nodes[path]; ok {
		delete(b.nodes, path)
		removed = true
	}
	prefix := path + "/"
	for k := range b.nodes {
		if strings.HasPrefix(k, prefix) {
			delete(b.nodes, k)
			removed = true
		}
	}
	parent := parentPath(path)
	b.mu.Unlock()

	if removed {
		b.notifyData(path)
		b.notifyChildren(parent)
	}
	return nil
}

// EnsureExists creates path with data if it does not already exist.
func (b *MemBackend) EnsureExists(ctx context.Context, path string, data []byte) error {
	b.mu.Lock()
	if _, ok := b.nodes[path]; ok {
		b.mu.Unlock()
		return nil
	}
	b.nodes[path] = &entry{data: append([]byte(nil), data...), version: 1, mtime: time.Now()}
	parent := parentPath(path)
	b.mu.Unlock()

	b.notifyData(path)
	b.notifyChildren(parent)
	return nil
}

func (b *MemBackend) notifyData(path string) {
	b.mu.Lock()
	cbs := make([]func([]byte, bool), 0, len(b.dataWatchers[path]))
	for _, cb := range b.dataWatchers[path] {
		cbs = append(cbs, cb)
	}
	e, exists := b.nodes[path]
	var data []byte
	if exists {
		data = append([]byte(nil), e.data...)
	}
	b.mu.Unlock()

	for _, cb := range cbs {
		cb := cb
		b.events <- func() { cb(data, exists) }
	}
}

func (b *MemBackend) notifyChildren(path string) {
	b.mu.Lock()
	cbs := make([]func([]string), 0, len(b.childWatchers[path]))
	for _, cb := range b.childWatchers[path] {
		cbs = append(cbs, cb)
	}
	children := b.childrenLocked(path)
	b.mu.Unlock()

	for _, cb := range cbs {
		cb := cb
		b.events <- func() { cb(children) }
	}
}

// WatchChildren registers cb for child-list changes under path, firing
// once immediately with the current state.
func (b *MemBackend) WatchChildren(path string, cb func(children []string)) (WatchHandle, error) {
	b.mu.Lock()
	if b.childWatchers[path] == nil {
		b.childWatchers[path] = make(map[int]func([]string))
	}
	b.watchSeq++
	id := b.watchSeq
	b.childWatchers[path][id] = cb
	children := b.childrenLocked(path)
	b.mu.Unlock()

	b.events <- func() { cb(children) }

	return &memWatchHandle{close: func() {
		b.mu.Lock()
		delete(b.childWatchers[path], id)
		b.mu.Unlock()
	}}, nil
}

// WatchData registers cb for data changes at path, firing once
// immediately with the current state.
func (b *MemBackend) WatchData(path string, cb func(data []byte, exists bool)) (WatchHandle, error) {
	b.mu.Lock()
	if b.dataWatchers[path] == nil {
		b.dataWatchers[path] = make(map[int]func([]byte, bool))
	}
	b.watchSeq++
	id := b.watchSeq
	b.dataWatchers[path][id] = cb
	e, exists := b.nodes[path]
	var data []byte
	if exists {
		data = append([]byte(nil), e.data...)
	}
	b.mu.Unlock()

	b.events <- func() { cb(data, exists) }

	return &memWatchHandle{close: func() {
		b.mu.Lock()
		delete(b.dataWatchers[path], id)
		b.mu.Unlock()
	}}, nil
}

type memWatchHandle struct{ close func() }

func (h *memWatchHandle) Close() { h.close() }

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NewSession opens a new ephemeral-node session.
func (b *MemBackend) NewSession() Session {
	return &memSession{backend: b, limiter: rate.NewLimiter(rate.Every(EphemeralRetryDelay), 1)}
}

// nextSeq returns the next sequence number for sequential children of
// parent (used by the leader lock).
func (b *MemBackend) nextSeq(parent string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seqCounters[parent]++
	return b.seqCounters[parent]
}
