// Package instance defines the Instance API collaborator (spec.md section
// 1): the request/response shapes and field validation the app-monitor
// controller uses to create and destroy app instances. The server-side
// implementation of this API is out of scope (spec.md Non-goals) — this
// package defines the contract, mirroring the teacher's interface-first
// storage design (pkg/storage/store.go), plus HTTPClient, a client
// adapter for an externally deployed Instance API service.
package instance

import (
	"context"
	"errors"
	"fmt"
)

// Minimum/maximum field bounds (spec.md section 4.7).
const (
	MinMemoryMB = 100
	MinDiskMB   = 100
	MinCount    = 1
	MaxCount    = 1000
)

var (
	ErrMemoryTooLow = fmt.Errorf("instance: memory below minimum of %dMB", MinMemoryMB)
	ErrDiskTooLow   = fmt.Errorf("instance: disk below minimum of %dMB", MinDiskMB)
	ErrCountRange   = fmt.Errorf("instance: count must be between %d and %d", MinCount, MaxCount)
	ErrNotFound     = errors.New("instance: not found")
)

// Spec is the desired shape of an app's instances, as the app-monitor
// reads it out of a manifest (spec.md section 4.7).
type Spec struct {
	Proid     string
	App       string
	Cell      string
	MemoryMB  int64
	DiskMB    int64
	CPUUnits  int64
	Count     int
	CreatedBy string
}

// Validate enforces the minimum resource bounds and count range.
func (s Spec) Validate() error {
	if s.MemoryMB < MinMemoryMB {
		return ErrMemoryTooLow
	}
	if s.DiskMB < MinDiskMB {
		return ErrDiskTooLow
	}
	if s.Count < MinCount || s.Count > MaxCount {
		return ErrCountRange
	}
	return nil
}

// Instance is one running (or desired) app instance as reported by the
// Instance API.
type Instance struct {
	ID       string
	Proid    string
	App      string
	Cell     string
	Index    int
	MemoryMB int64
	DiskMB   int64
	CPUUnits int64
}

// API is the Instance API surface the app-monitor controller drives
// (spec.md section 4.7: list/get/create/update/bulk_update/delete/
// bulk_delete). The only implementation in this module is HTTPClient,
// which forwards each call to a separately deployed Instance API
// service over JSON/HTTP. Delete and BulkDelete
// take an explicit deletedBy attribution string (spec.md section 4.6
// step 2: "delete(inst, deleted_by=\"monitor\")"), mirroring Spec.CreatedBy
// on the create side (spec.md section 6: "create(app_id, manifest,
// count, created_by)").
type API interface {
	List(ctx context.Context, proid, app string) ([]Instance, error)
	Get(ctx context.Context, id string) (Instance, error)
	Create(ctx context.Context, spec Spec) ([]Instance, error)
	Update(ctx context.Context, id string, spec Spec) (Instance, error)
	BulkUpdate(ctx context.Context, ids []string, spec Spec) ([]Instance, error)
	Delete(ctx context.Context, id string, deletedBy string) error
	BulkDelete(ctx context.Context, ids []string, deletedBy string) error
}
