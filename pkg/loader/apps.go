package loader

import (
	"context"
	"encoding/json"

	"github.com/evreng/treadmill/pkg/cell"
	"github.com/evreng/treadmill/pkg/zknamespace"
)

// defaultAppPriority is used when a manifest's priority is negative
// (spec.md section 3: "Priority overrides default only when
// non-negative").
const defaultAppPriority = 0

// loadApps implements the "apps (each assigned to an allocation via
// pattern match)" step of spec.md section 4.3's `load_model` order: it
// reads every node under /scheduled (one per app instance, flat — the
// appmonitor groups these same nodes client-side per spec.md section
// 4.6), decodes its manifest, and assigns it to an allocation via
// find_assignment.
func (l *Loader) loadApps(ctx context.Context) error {
	names, err := l.store.List(ctx, zknamespace.ScheduledRoot())
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	for _, instanceName := range names {
		data, stat, err := l.store.Get(ctx, zknamespace.Scheduled(instanceName))
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
		var doc scheduledDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			l.logger.Warn().Err(err).Str("app", instanceName).Msg("skipping malformed scheduled manifest")
			continue
		}

		priority := doc.Priority
		if priority < 0 {
			priority = defaultAppPriority
		}

		app := &cell.Application{
			Name:           instanceName,
			Priority:       priority,
			Demand:         cell.NewCapacity(parseQuantity(doc.Memory), parseQuantity(doc.CPU), parseQuantity(doc.Disk)),
			RequiredTraits: doc.Traits,
			Affinity:       doc.Affinity,
			AffinityLimits: doc.AffinityLimits,
			IdentityGroup:  doc.IdentityGroup,
			ScheduleOnce:   doc.ScheduleOnce,
			Lease:          doc.Lease,
			CreatedAt:      stat.Mtime.Unix(),
		}
		if doc.DataRetentionTimeout != nil {
			app.DataRetentionTimeout = *doc.DataRetentionTimeout
		}
		app.Allocation = l.FindAssignment(instanceName)

		l.cell.Apps[instanceName] = app
	}
	return nil
}
