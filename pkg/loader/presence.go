package loader

import (
	"context"
	"encoding/json"

	"github.com/evreng/treadmill/pkg/cell"
	"github.com/evreng/treadmill/pkg/zknamespace"
)

// serverStateDoc is the {state,since} record persisted at a server's own
// placement node (spec.md section 4.3: "Persist {state,since} to the
// server's placement node").
type serverStateDoc struct {
	State string `json:"state"`
	Since int64  `json:"since"`
}

// adjustServerState implements spec.md section 4.3's `adjust_server_state`:
// presence drives the down/up transition, but frozen always wins over a
// presence blip (spec.md section 9, open question (d)).
func (l *Loader) adjustServerState(ctx context.Context, srv *cell.Server) error {
	presence, err := l.store.Exists(ctx, zknamespace.ServerPresence(srv.Name))
	if err != nil {
		return err
	}
	srv.Presence = presence

	next := srv.NextState(presence)
	now := l.now()
	if srv.Transition(next, now) {
		l.logger.Info().Str("server", srv.Name).Str("state", string(next)).Msg("server state transition")
	} else if srv.Since == 0 {
		srv.Since = now
	}
	return l.persistServerState(ctx, srv)
}

func (l *Loader) persistServerState(ctx context.Context, srv *cell.Server) error {
	data, err := json.Marshal(serverStateDoc{State: string(srv.State), Since: srv.Since})
	if err != nil {
		return err
	}
	_, err = l.store.Put(ctx, zknamespace.Placement(srv.Name), data)
	return err
}

// AdjustPresence implements spec.md section 4.3's `adjust_presence`: given
// the current set of servers reporting presence, it diffs against the
// cell's up/down membership and reacts — up-to-down servers leave their
// partition's membership set (placements persist for data retention);
// down-to-up servers are reloaded and re-admitted.
func (l *Loader) AdjustPresence(ctx context.Context, upServers map[string]bool) error {
	for _, srv := range l.cell.Servers() {
		wasUp := srv.State == cell.StateUp
		nowUp := upServers[srv.Name]

		switch {
		case wasUp && !nowUp:
			if err := l.adjustServerState(ctx, srv); err != nil {
				return err
			}
			if p := l.cell.Partition(srv.Label); p != nil {
				p.RemoveServer(srv.Name)
			}
		case !wasUp && nowUp:
			if err := l.reloadServer(ctx, srv.Name); err != nil {
				return err
			}
			if reloaded := l.cell.Server(srv.Name); reloaded != nil {
				if err := l.adjustServerState(ctx, reloaded); err != nil {
					return err
				}
				if reloaded.State == cell.StateUp {
					l.cell.EnsurePartition(reloaded.Label).AddServer(reloaded)
				}
				reloaded.ValidUntil = l.now() + defaultLeaseSeconds
			}
		}
	}
	return nil
}

// defaultLeaseSeconds is how far out valid_until is pushed on reload,
// since spec.md section 9 leaves open whether valid_until is server-chosen
// or loader-assigned; this module resolves it as loader-assigned (see
// DESIGN.md open-question decisions).
const defaultLeaseSeconds = 60
