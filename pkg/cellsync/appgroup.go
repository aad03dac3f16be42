package cellsync

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/evreng/treadmill/pkg/zknamespace"
	"github.com/evreng/treadmill/pkg/zkstore"
)

// lookupDoc is the JSON-encoded stand-in for the real implementation's
// SQLite lookup blob (spec.md section 4.7). No SQLite driver is anywhere
// in the example pack (see DESIGN.md), so the artifact is represented as
// a deterministic encoded table keyed by the same content-addressing
// digest spec.md names; the digest and stale-sibling-removal behavior
// this component is tested against are identical either way.
type lookupDoc struct {
	Groups []AppGroup `json:"groups"`
}

// syncAppGroupLookups computes, for every proid the admin source reports,
// the SHA-1 digest over its appgroup set and writes the lookup artifact
// under /appgroup-lookups/<proid>/<sha1-hex> (content-addressed: the node
// name itself is the digest), removing any sibling whose name no longer
// matches.
func (s *Syncer) syncAppGroupLookups(ctx context.Context) error {
	byProid, err := s.admin.AppGroupsByProid(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for proid, groups := range byProid {
		digest := appGroupDigest(groups)
		data, err := json.Marshal(lookupDoc{Groups: groups})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := s.store.Put(ctx, zknamespace.AppGroupLookup(proid, digest), data); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.removeStaleSiblings(ctx, proid, digest); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// appGroupDigest hashes the UTF-8 concatenation of
// "pattern|group-type|endpoints|data" for every group, in order, matching
// spec.md section 4.7's content-addressing rule exactly.
func appGroupDigest(groups []AppGroup) string {
	h := sha1.New()
	for _, g := range groups {
		h.Write([]byte(g.Pattern))
		h.Write([]byte{'|'})
		h.Write([]byte(g.GroupType))
		h.Write([]byte{'|'})
		h.Write([]byte(g.Endpoints))
		h.Write([]byte{'|'})
		h.Write([]byte(g.Data))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// removeStaleSiblings deletes every node under /appgroup-lookups/<proid>
// whose name is not the freshly computed digest.
func (s *Syncer) removeStaleSiblings(ctx context.Context, proid, freshDigest string) error {
	names, err := s.store.List(ctx, zknamespace.AppGroupLookupRoot(proid))
	if err != nil {
		if errors.Is(err, zkstore.ErrNotFound) {
			return nil
		}
		return err
	}
	for _, name := range names {
		if name == freshDigest {
			continue
		}
		if err := s.store.Delete(ctx, zknamespace.AppGroupLookup(proid, name)); err != nil {
			return err
		}
	}
	return nil
}
