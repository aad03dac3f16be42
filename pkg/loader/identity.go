package loader

import (
	"context"
	"encoding/json"

	"github.com/evreng/treadmill/pkg/cell"
	"github.com/evreng/treadmill/pkg/placement"
	"github.com/evreng/treadmill/pkg/zknamespace"
)

// loadIdentityGroups implements the "identity_groups" step of spec.md
// section 4.3's `load_model` order: it reads every /identity-groups/<g>
// node and resizes (or creates) the in-memory group. Shrinking a group
// evicts the apps occupying the now out-of-range slots (spec.md section
// 4.5).
func (l *Loader) loadIdentityGroups(ctx context.Context) error {
	names, err := l.store.List(ctx, zknamespace.IdentityGroupsRoot())
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	live := make(map[string]bool, len(names))
	for _, name := range names {
		live[name] = true
		data, ok, err := l.store.GetDefault(ctx, zknamespace.IdentityGroup(name))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var doc identityGroupDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			l.logger.Warn().Err(err).Str("identity_group", name).Msg("skipping malformed identity group")
			continue
		}

		group, exists := l.cell.IdentityGroups[name]
		if !exists {
			group = cell.NewIdentityGroup(name, doc.Count)
			l.cell.IdentityGroups[name] = group
			continue
		}
		for _, appName := range group.Resize(doc.Count) {
			l.evictIdentityHolder(ctx, appName)
		}
	}
	for name := range l.cell.IdentityGroups {
		if !live[name] {
			delete(l.cell.IdentityGroups, name)
		}
	}
	return nil
}

func (l *Loader) evictIdentityHolder(ctx context.Context, appName string) {
	app, ok := l.cell.Apps[appName]
	if !ok || app.Server == nil {
		return
	}
	serverName := app.Server.Name
	placement.Evict(app)
	if err := l.store.Delete(ctx, zknamespace.PlacementApp(serverName, appName)); err != nil {
		l.logger.Warn().Err(err).Str("app", appName).Msg("failed to delete placement record during identity-group shrink eviction")
	}
}

// loadPlacementData implements the final "placement_data (identity and
// expiry)" step of spec.md section 4.3's `load_model` order: for every
// placed app it reads back the identity/expiry already recorded at its
// placement node and registers the slot as taken in the owning identity
// group.
func (l *Loader) loadPlacementData(ctx context.Context) error {
	for _, app := range l.cell.Apps {
		if app.Server == nil {
			continue
		}
		data, ok, err := l.store.GetDefault(ctx, zknamespace.PlacementApp(app.Server.Name, app.Name))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var doc placementDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			l.logger.Warn().Err(err).Str("app", app.Name).Msg("skipping malformed placement record")
			continue
		}
		app.Identity = doc.Identity
		app.PlacementExpiry = doc.Expires

		if app.IdentityGroup != "" && doc.Identity != nil {
			group, ok := l.cell.IdentityGroups[app.IdentityGroup]
			if ok {
				if _, taken := group.Slots[*doc.Identity]; !taken {
					group.Slots[*doc.Identity] = &cell.IdentitySlot{Host: app.Server.Name, App: app.Name}
				}
			}
		}
	}
	return nil
}
