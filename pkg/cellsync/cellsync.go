// Package cellsync periodically syncs admin-side definitions (appgroups,
// partitions, allocations, the global servers list) into the coordination
// store, and compiles each proid's appgroup set into a content-addressed
// lookup artifact. Its ticker-driven Start/Stop/collect shape follows the
// teacher's pkg/manager/metrics_collector.go, generalized from gauge
// collection to a write-back sync of externally-sourced definitions.
package cellsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/evreng/treadmill/pkg/log"
	"github.com/evreng/treadmill/pkg/zknamespace"
	"github.com/evreng/treadmill/pkg/zkstore"
)

// AppGroup is one admin-defined appgroup record for a proid (spec.md
// section 4.7): the fields that feed the content-addressed lookup digest.
type AppGroup struct {
	Pattern   string
	GroupType string
	Endpoints string
	Data      string
}

// PartitionDef and AllocationDef mirror the wire shapes the loader reads
// back from /partitions and /allocations (pkg/loader/docs.go); cellsync
// is the writer side of those same nodes.
type PartitionDef struct {
	Label          string
	Memory         int64
	CPU            int64
	Disk           int64
	RebootSchedule *[7]int
}

type AllocationDef struct {
	Name           string          `json:"name"`
	Partition      string          `json:"partition"`
	Memory         int64           `json:"memory"`
	CPU            int64           `json:"cpu"`
	Disk           int64           `json:"disk"`
	Rank           int             `json:"rank"`
	RankAdjustment *int            `json:"rank_adjustment,omitempty"`
	MaxUtilization *float64        `json:"max_utilization,omitempty"`
	Assignments    []AssignmentDef `json:"assignments,omitempty"`
}

type AssignmentDef struct {
	Pattern  string `json:"pattern"`
	Priority int    `json:"priority"`
}

// AdminSource is the collaborator boundary for the real LDAP-like admin
// store (out of scope per spec.md section 1's Non-goals — only the
// interface is defined here, same treatment spec.md section 6 gives the
// Instance API).
type AdminSource interface {
	ListPartitions(ctx context.Context) ([]PartitionDef, error)
	ListAllocations(ctx context.Context) ([]AllocationDef, error)
	ListServers(ctx context.Context) ([]string, error)
	AppGroupsByProid(ctx context.Context) (map[string][]AppGroup, error)
}

// Syncer runs the periodic admin-to-store sync (spec.md section 4.7).
// Its shape (constructor + Start/Stop/run with a ticker and stop channel)
// follows pkg/manager/metrics_collector.go.
type Syncer struct {
	store  zkstore.Backend
	admin  AdminSource
	logger zerolog.Logger

	interval time.Duration
	stopCh   chan struct{}
}

// DefaultSyncInterval is the 5-minute default admin sync cadence (spec.md
// section 4.7 describes the job as "periodic"; the teacher's own
// MetricsCollector uses a fixed cadence too, 15s there, scaled up here
// since admin data changes far less often than runtime metrics).
const DefaultSyncInterval = 5 * time.Minute

// NewSyncer wires a Syncer to the coordination store and the admin-data
// collaborator.
func NewSyncer(store zkstore.Backend, admin AdminSource, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Syncer{
		store:    store,
		admin:    admin,
		logger:   log.WithComponent("cellsync"),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sync loop, syncing immediately on start.
func (s *Syncer) Start() {
	go func() {
		s.syncOnce(context.Background())

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.syncOnce(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop ends the sync loop.
func (s *Syncer) Stop() {
	close(s.stopCh)
}

func (s *Syncer) syncOnce(ctx context.Context) {
	if err := s.syncPartitions(ctx); err != nil {
		s.logger.Error().Err(err).Msg("partition sync failed")
		return
	}
	if err := s.syncAllocations(ctx); err != nil {
		s.logger.Error().Err(err).Msg("allocation sync failed")
		return
	}
	if err := s.syncServers(ctx); err != nil {
		s.logger.Error().Err(err).Msg("server list sync failed")
		return
	}
	if err := s.syncAppGroupLookups(ctx); err != nil {
		s.logger.Error().Err(err).Msg("appgroup lookup sync failed")
	}
}

func (s *Syncer) syncPartitions(ctx context.Context) error {
	defs, err := s.admin.ListPartitions(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		data, err := json.Marshal(struct {
			Memory         int64   `json:"memory"`
			CPU            int64   `json:"cpu"`
			Disk           int64   `json:"disk"`
			RebootSchedule *[7]int `json:"reboot_schedule,omitempty"`
		}{def.Memory, def.CPU, def.Disk, def.RebootSchedule})
		if err != nil {
			return err
		}
		if _, err := s.store.Put(ctx, zknamespace.Partition(def.Label), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) syncAllocations(ctx context.Context) error {
	defs, err := s.admin.ListAllocations(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(defs)
	if err != nil {
		return err
	}
	_, err = s.store.Put(ctx, zknamespace.Allocations(), data)
	return err
}

func (s *Syncer) syncServers(ctx context.Context) error {
	names, err := s.admin.ListServers(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.store.EnsureExists(ctx, zknamespace.Server(name), nil); err != nil {
			return err
		}
	}
	return nil
}
