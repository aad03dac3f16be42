package loader

import (
	"context"

	"github.com/evreng/treadmill/pkg/placement"
	"github.com/evreng/treadmill/pkg/zknamespace"
)

// RestorePlacement implements spec.md section 4.3's `restore_placement`:
// it lists the apps recorded as placed at server, and for each: deletes
// the record if the app is unknown to M, otherwise attempts to re-fit it
// onto the server; on success the app is marked placed, on failure the
// record is deleted and, if the app is schedule_once, the app is removed
// from M and its scheduled node is deleted too. It returns
// (listed, restored) counts.
func (l *Loader) RestorePlacement(ctx context.Context, serverName string) (listed, restored int, err error) {
	listedNames, restoredNames, err := l.restoreOneServer(ctx, serverName)
	return len(listedNames), len(restoredNames), err
}

func (l *Loader) restoreOneServer(ctx context.Context, serverName string) (listed, restored []string, err error) {
	srv := l.cell.Server(serverName)
	if srv == nil {
		return nil, nil, nil
	}

	children, err := l.store.List(ctx, zknamespace.Placement(serverName))
	if err != nil {
		if isNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	for _, appName := range children {
		listed = append(listed, appName)

		app, known := l.cell.Apps[appName]
		if !known {
			if err := l.store.Delete(ctx, zknamespace.PlacementApp(serverName, appName)); err != nil {
				return listed, restored, err
			}
			continue
		}

		if !placement.FitsIgnoringState(srv, app) {
			if err := l.store.Delete(ctx, zknamespace.PlacementApp(serverName, appName)); err != nil {
				return listed, restored, err
			}
			if app.ScheduleOnce {
				delete(l.cell.Apps, appName)
				if err := l.store.Delete(ctx, zknamespace.Scheduled(appName)); err != nil {
					return listed, restored, err
				}
			}
			continue
		}

		srv.PlaceApp(app)
		if app.Allocation != nil {
			app.Allocation.RecordPlacement(serverName, app.Demand)
		}
		restored = append(restored, appName)
	}
	return listed, restored, nil
}

// RestorePlacements implements spec.md section 4.3's `restore_placements`:
// it restores every server's placements, then cross-checks for apps
// restored on more than one server and removes all such records (an
// external scheduler sweep will re-place them). Returns the total listed
// and restored counts across every server.
func (l *Loader) RestorePlacements(ctx context.Context) (listed, restored int, err error) {
	byApp := make(map[string][]string) // app -> servers that successfully restored it

	for _, srv := range l.cell.Servers() {
		listedNames, restoredNames, err := l.restoreOneServer(ctx, srv.Name)
		if err != nil {
			return listed, restored, err
		}
		listed += len(listedNames)
		restored += len(restoredNames)
		for _, appName := range restoredNames {
			byApp[appName] = append(byApp[appName], srv.Name)
		}
	}

	for appName, servers := range byApp {
		if len(servers) <= 1 {
			continue
		}
		app := l.cell.Apps[appName]
		for _, serverName := range servers {
			srv := l.cell.Server(serverName)
			if srv == nil {
				continue
			}
			srv.RemoveApp(appName)
			if app != nil && app.Allocation != nil {
				app.Allocation.ReleasePlacement(serverName, app.Demand)
			}
			if err := l.store.Delete(ctx, zknamespace.PlacementApp(serverName, appName)); err != nil {
				return listed, restored, err
			}
			restored--
		}
		if app != nil {
			app.Server = nil
		}
	}
	return listed, restored, nil
}

// CheckPlacementIntegrity implements spec.md section 4.3's
// `check_placement_integrity`: it builds app→server from the store's
// placement nodes, resolves duplicates using M's authoritative
// app.server, and fails (surfacing an IntegrityViolation) if an app in M
// has a server but no placement record at all.
func (l *Loader) CheckPlacementIntegrity(ctx context.Context) error {
	storeApp := make(map[string][]string) // app -> servers with a record in the store

	for _, srv := range l.cell.Servers() {
		children, err := l.store.List(ctx, zknamespace.Placement(srv.Name))
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
		for _, appName := range children {
			storeApp[appName] = append(storeApp[appName], srv.Name)
		}
	}

	for appName, servers := range storeApp {
		if len(servers) <= 1 {
			continue
		}
		app, known := l.cell.Apps[appName]
		for _, serverName := range servers {
			if known && app.Server != nil && app.Server.Name == serverName {
				continue // authoritative record, keep
			}
			metricsIncrementIntegrityViolation()
			l.logger.Warn().Str("app", appName).Str("server", serverName).Msg("removing unauthoritative duplicate placement record")
			if err := l.store.Delete(ctx, zknamespace.PlacementApp(serverName, appName)); err != nil {
				return err
			}
		}
	}

	for appName, app := range l.cell.Apps {
		if app.Server == nil {
			continue
		}
		if _, ok := storeApp[appName]; !ok {
			metricsIncrementIntegrityViolation()
			l.logger.Error().Str("app", appName).Str("server", app.Server.Name).Msg("critical: app placed in M has no placement record in store")
			return errIntegrityViolation(appName)
		}
		found := false
		for _, serverName := range storeApp[appName] {
			if serverName == app.Server.Name {
				found = true
				break
			}
		}
		if !found {
			metricsIncrementIntegrityViolation()
			l.logger.Error().Str("app", appName).Str("server", app.Server.Name).Msg("critical: app's recorded server has no matching placement record")
			return errIntegrityViolation(appName)
		}
	}
	return nil
}
