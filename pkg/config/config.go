// Package config builds the explicit Environment value every Treadmill
// component is constructed from, replacing the global mutable
// store/admin/cell state the original design used (spec.md section 9,
// redesign note: "Global mutable state... becomes an explicit
// Environment{store, admin, cell, now, logger} value passed to every
// component constructor; no package-level singletons").
package config

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/evreng/treadmill/pkg/cellsync"
	"github.com/evreng/treadmill/pkg/log"
	"github.com/evreng/treadmill/pkg/zkstore"
)

// Config holds the flag-driven settings cmd/treadmill binds via cobra,
// following the shape of the teacher's cmd/warren/main.go persistent
// flags (node-id, bind-addr, data-dir) generalized to Treadmill's
// cell/store/interval settings.
type Config struct {
	CellName         string
	DataDir          string
	AdminFile        string
	LogLevel         log.Level
	LogJSON          bool
	AppMonitorTick   time.Duration
	CellSyncInterval time.Duration
	IntegrityCheck   time.Duration
}

// DefaultConfig returns the flag defaults cmd/treadmill registers.
func DefaultConfig() Config {
	return Config{
		CellName:         "default",
		DataDir:          "./treadmill-data",
		LogLevel:         log.InfoLevel,
		LogJSON:          false,
		AppMonitorTick:   time.Second,
		CellSyncInterval: 5 * time.Minute,
		IntegrityCheck:   time.Minute,
	}
}

// Environment is the explicit, passed-everywhere value that replaces the
// original's package-level singletons: every long-lived component
// (Loader, Controller, Syncer) takes the pieces of Environment it needs
// instead of reaching for ambient global state.
type Environment struct {
	Store  zkstore.Backend
	Admin  cellsync.AdminSource
	Cell   string
	Now    func() int64
	Logger zerolog.Logger
	Config Config
}

// NewEnvironment builds an Environment from cfg. The in-memory backend is
// the only Backend implementation this module ships (a real ZK/etcd
// client is out of scope per spec.md section 1); callers that need
// on-disk persistence additionally open a zkstore.BoltSnapshotStore
// keyed by the same namespace paths. Admin is left nil unless cfg names
// an admin-data file, since the real admin source is also out of scope.
func NewEnvironment(cfg Config) *Environment {
	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})

	var admin cellsync.AdminSource
	if cfg.AdminFile != "" {
		admin = &cellsync.FileAdminSource{Path: cfg.AdminFile}
	}

	return &Environment{
		Store:  zkstore.NewMemBackend(),
		Admin:  admin,
		Cell:   cfg.CellName,
		Now:    func() int64 { return time.Now().Unix() },
		Logger: log.WithComponent("treadmill"),
		Config: cfg,
	}
}
