package loader

import (
	"context"
	"encoding/json"

	"github.com/evreng/treadmill/pkg/cell"
	"github.com/evreng/treadmill/pkg/zknamespace"
)

// reloadServer implements spec.md section 4.3's `reload_server`: it
// compares the store's current description against the in-memory server
// by structural equality of capacity/traits/label and identity of parent
// bucket. Unchanged configuration only propagates up_since; a change
// removes and reloads the server, restoring its placements afterward if it
// had any (since reload discards and rebuilds the Server value, which
// would otherwise lose its placed-apps set).
func (l *Loader) reloadServer(ctx context.Context, name string) error {
	existing := l.cell.Server(name)
	if existing == nil {
		return l.loadServer(ctx, name)
	}

	data, ok, err := l.store.GetDefault(ctx, zknamespace.Server(name))
	if err != nil {
		return err
	}
	if !ok {
		l.cell.RemoveServer(name)
		return nil
	}
	var doc serverDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	label := doc.Partition
	if label == "" {
		label = cell.DefaultPartitionLabel
	}
	newCapacity := cell.NewCapacity(doc.Memory, doc.CPU, doc.Disk)

	unchanged := existing.Capacity == newCapacity &&
		existing.Traits == doc.Traits &&
		existing.Label == label &&
		existing.Bucket != nil && existing.Bucket.Name == doc.Parent

	if unchanged {
		existing.UpSince = doc.UpSince
		return nil
	}

	hadApps := len(existing.Apps) > 0
	l.cell.RemoveServer(name)
	if err := l.loadServer(ctx, name); err != nil {
		return err
	}
	if hadApps {
		if _, _, err := l.RestorePlacement(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
