package cellsync

import (
	"context"
	"encoding/json"
	"os"
)

// FileAdminSource implements AdminSource by reading a single JSON document
// from disk. The real admin source (spec.md section 1's LDAP-like system)
// is out of scope; this adapter exists so cmd/treadmill's cellsync sproc
// has something concrete to sync from in local/dev deployments, the same
// role the teacher's flag-driven --data-dir plays for bbolt storage.
type FileAdminSource struct {
	Path string
}

type fileAdminDoc struct {
	Partitions  []PartitionDef        `json:"partitions"`
	Allocations []AllocationDef       `json:"allocations"`
	Servers     []string              `json:"servers"`
	AppGroups   map[string][]AppGroup `json:"appgroups"`
}

func (f *FileAdminSource) load() (fileAdminDoc, error) {
	var doc fileAdminDoc
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func (f *FileAdminSource) ListPartitions(ctx context.Context) ([]PartitionDef, error) {
	doc, err := f.load()
	return doc.Partitions, err
}

func (f *FileAdminSource) ListAllocations(ctx context.Context) ([]AllocationDef, error) {
	doc, err := f.load()
	return doc.Allocations, err
}

func (f *FileAdminSource) ListServers(ctx context.Context) ([]string, error) {
	doc, err := f.load()
	return doc.Servers, err
}

func (f *FileAdminSource) AppGroupsByProid(ctx context.Context) (map[string][]AppGroup, error) {
	doc, err := f.load()
	return doc.AppGroups, err
}

var _ AdminSource = (*FileAdminSource)(nil)
