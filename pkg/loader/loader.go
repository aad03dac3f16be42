// Package loader is the Loader (component L in spec.md section 2): it
// reads and writes the coordination store through pkg/zknamespace,
// builds and maintains the in-memory resource model (pkg/cell), restores
// and repairs placements, and reacts to presence changes. Its shape
// (a constructor taking a store handle plus small single-purpose load_*
// methods invoked in dependency order) follows the teacher's
// pkg/manager/manager.go startup sequencing, generalized from Warren's
// node/service/container bootstrap to Treadmill's partition/bucket/
// server/allocation/app bootstrap.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/evreng/treadmill/pkg/cell"
	"github.com/evreng/treadmill/pkg/log"
	"github.com/evreng/treadmill/pkg/metrics"
	"github.com/evreng/treadmill/pkg/zknamespace"
	"github.com/evreng/treadmill/pkg/zkstore"
)

// Loader rebuilds and maintains one cell's resource model from the
// coordination store. It is not safe for concurrent use — spec.md
// section 5 requires it run on a single serialized event-loop goroutine.
type Loader struct {
	store       zkstore.Backend
	cell        *cell.Cell
	logger      zerolog.Logger
	now         func() int64
	assignments []*cell.Assignment // flat, priority-ordered, for find_assignment
}

// New creates a Loader for an empty cell named cellName. now supplies the
// current epoch-seconds clock (injected so tests control time).
func New(store zkstore.Backend, cellName string, now func() int64) *Loader {
	return &Loader{
		store:  store,
		cell:   cell.New(cellName),
		logger: log.WithComponent("loader"),
		now:    now,
	}
}

// Cell returns the loader's in-memory model.
func (l *Loader) Cell() *cell.Cell { return l.cell }

// Now returns the loader's injected clock, for callers (the scheduler)
// that need a consistent placement timestamp.
func (l *Loader) Now() int64 { return l.now() }

// LoadModel rebuilds M from the store in the dependency order spec.md
// section 4.3 prescribes: partitions, buckets, cell attachment, servers,
// allocations & assignments, apps, restore_placements, identity groups,
// placement data.
func (l *Loader) LoadModel(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LoadModelDuration)

	if err := l.loadPartitions(ctx); err != nil {
		return fmt.Errorf("load partitions: %w", err)
	}
	if err := l.loadAllBuckets(ctx); err != nil {
		return fmt.Errorf("load buckets: %w", err)
	}
	if err := l.loadAllServers(ctx); err != nil {
		return fmt.Errorf("load servers: %w", err)
	}
	if err := l.loadAllocations(ctx); err != nil {
		return fmt.Errorf("load allocations: %w", err)
	}
	if err := l.loadApps(ctx); err != nil {
		return fmt.Errorf("load apps: %w", err)
	}
	if _, _, err := l.RestorePlacements(ctx); err != nil {
		return fmt.Errorf("restore placements: %w", err)
	}
	if err := l.loadIdentityGroups(ctx); err != nil {
		return fmt.Errorf("load identity groups: %w", err)
	}
	if err := l.loadPlacementData(ctx); err != nil {
		return fmt.Errorf("load placement data: %w", err)
	}

	l.reportGauges()
	return nil
}

func (l *Loader) reportGauges() {
	byPartitionState := make(map[[2]string]int)
	for _, srv := range l.cell.Servers() {
		byPartitionState[[2]string{srv.Label, string(srv.State)}]++
	}
	for key, count := range byPartitionState {
		metrics.ServersTotal.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
	metrics.AppsTotal.Set(float64(len(l.cell.Apps)))
	placed := 0
	for _, app := range l.cell.Apps {
		if app.Server != nil {
			placed++
		}
	}
	metrics.PlacedAppsTotal.Set(float64(placed))
}

// loadPartitions loads every /partitions/<name> node (spec.md section
// 4.3: partitions is the first dependency-order step) plus the mandatory
// `_default` partition even if the store has no explicit node for it
// (spec.md section 3 invariant).
func (l *Loader) loadPartitions(ctx context.Context) error {
	l.cell.DefaultPartition()

	names, err := l.store.List(ctx, zknamespace.PartitionsRoot())
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	for _, name := range names {
		data, ok, err := l.store.GetDefault(ctx, zknamespace.Partition(name))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var doc partitionDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			l.logger.Warn().Err(err).Str("partition", name).Msg("skipping malformed partition")
			continue
		}
		p := l.cell.EnsurePartition(name)
		p.Allocation.Capacity = cell.NewCapacity(doc.Memory, doc.CPU, doc.Disk)
		if doc.RebootSchedule != nil {
			var sched cell.RebootSchedule
			for i, v := range doc.RebootSchedule {
				sched[i] = uint8(v)
			}
			p.RebootSchedule = &sched
		}
	}
	return nil
}

// loadAllBuckets lists every configured bucket and loads each one
// idempotently.
func (l *Loader) loadAllBuckets(ctx context.Context) error {
	names, err := l.store.List(ctx, zknamespace.BucketsRoot())
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	for _, name := range names {
		if _, err := l.loadBucket(ctx, name); err != nil {
			l.logger.Warn().Err(err).Str("bucket", name).Msg("skipping bucket")
		}
	}
	return nil
}

// loadBucket is recursive and idempotent (spec.md section 4.3): it reads
// data, creates the bucket once, and ensures the parent exists by loading
// it first. Default level is the prefix of name before the first ':'.
// Traits default to 0.
func (l *Loader) loadBucket(ctx context.Context, name string) (*cell.Bucket, error) {
	if existing := l.cell.Bucket(name); existing != nil {
		return existing, nil
	}

	data, ok, err := l.store.GetDefault(ctx, zknamespace.Bucket(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: bucket %s has no data", zkstore.ErrNotFound, name)
	}
	var doc bucketDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	level := doc.Level
	if level == "" {
		level = defaultLevel(name)
	}

	var parent cell.Node
	if doc.Parent == "" {
		parent = cell.Node(l.cell)
	} else {
		parentBucket, err := l.loadBucket(ctx, doc.Parent)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: parent %s: %w", name, doc.Parent, err)
		}
		parent = cell.Node(parentBucket)
	}

	b := cell.NewBucket(name, level, doc.Traits, parent)
	l.cell.AddBucket(b)
	if doc.Parent != "" {
		parent.AddChild(cell.Node(b))
	}
	return b, nil
}

func defaultLevel(name string) string {
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		return name[:idx]
	}
	return name
}

// loadAllServers lists every configured server and loads each one.
func (l *Loader) loadAllServers(ctx context.Context) error {
	names, err := l.store.List(ctx, zknamespace.ServersRoot())
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	for _, name := range names {
		if err := l.loadServer(ctx, name); err != nil {
			l.logger.Warn().Err(err).Str("server", name).Msg("skipping server")
		}
	}
	return nil
}

// loadServer implements spec.md section 4.3's `load_server`: missing data
// means "configured but not yet reporting" and is skipped; a missing
// parent bucket is a warn-and-skip, not a fatal error.
func (l *Loader) loadServer(ctx context.Context, name string) error {
	data, ok, err := l.store.GetDefault(ctx, zknamespace.Server(name))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var doc serverDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	bucket := l.cell.Bucket(doc.Parent)
	if bucket == nil {
		return fmt.Errorf("server %s: parent bucket %s not found", name, doc.Parent)
	}

	label := doc.Partition
	if label == "" {
		label = cell.DefaultPartitionLabel
	}

	srv := cell.NewServer(name, bucket, cell.NewCapacity(doc.Memory, doc.CPU, doc.Disk), doc.Traits, label, doc.UpSince)
	if err := l.cell.AddServer(srv); err != nil {
		return err
	}
	return l.adjustServerState(ctx, srv)
}

// isNotFound reports whether err wraps zkstore.ErrNotFound.
func isNotFound(err error) bool {
	return errors.Is(err, zkstore.ErrNotFound)
}
