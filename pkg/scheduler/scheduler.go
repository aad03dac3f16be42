package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/evreng/treadmill/pkg/cell"
	"github.com/evreng/treadmill/pkg/integrity"
	"github.com/evreng/treadmill/pkg/loader"
	"github.com/evreng/treadmill/pkg/log"
	"github.com/evreng/treadmill/pkg/metrics"
	"github.com/evreng/treadmill/pkg/placement"
	"github.com/evreng/treadmill/pkg/zknamespace"
	"github.com/evreng/treadmill/pkg/zkstore"
)

// DefaultInterval is the scheduler's fixed tick cadence.
const DefaultInterval = 5 * time.Second

// Scheduler rebuilds a cell's resource model on every tick and places any
// application that isn't currently on a server.
type Scheduler struct {
	loader   *loader.Loader
	store    zkstore.Backend
	reporter *integrity.Reporter
	logger   zerolog.Logger
	interval time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
}

// New creates a Scheduler driving l's cell model through repeated
// placement cycles.
func New(l *loader.Loader, store zkstore.Backend, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		loader:   l,
		store:    store,
		reporter: integrity.NewReporter(store),
		logger:   log.WithComponent("scheduler"),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Cycle(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("scheduling cycle failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Cycle performs one full scheduling cycle: reload the model, place every
// unplaced app, check placement integrity, and write reports.
func (s *Scheduler) Cycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loader.LoadModel(ctx); err != nil {
		return err
	}

	if err := s.placeUnplaced(ctx); err != nil {
		return err
	}

	if err := s.loader.CheckPlacementIntegrity(ctx); err != nil {
		return err
	}

	return s.reporter.WriteReports(ctx, s.loader.Cell())
}

// placeUnplaced orders every app without a server by effective priority
// (spec.md section 4.2) and attempts to place each in turn, persisting
// the placement record on success.
func (s *Scheduler) placeUnplaced(ctx context.Context) error {
	c := s.loader.Cell()

	var pending []*cell.Application
	for _, app := range c.Apps {
		if app.Server == nil {
			pending = append(pending, app)
		}
	}
	pending = placement.OrderApps(pending)

	for _, app := range pending {
		timer := metrics.NewTimer()
		srv, err := placement.Place(c, app)
		timer.ObserveDuration(metrics.PlacementLatency)
		if err != nil {
			metrics.PlacementsFailed.Inc()
			s.logger.Warn().Str("app", app.Name).Err(err).Msg("no server fits app")
			continue
		}
		metrics.PlacementsSucceeded.Inc()

		if err := s.persistPlacement(ctx, srv, app); err != nil {
			return err
		}
		s.logger.Info().Str("app", app.Name).Str("server", srv.Name).Msg("placed app")
	}
	return nil
}

// persistPlacement writes the placed app's {state,since,identity,expires}
// record (spec.md section 3/6), the moment a placement is chosen.
func (s *Scheduler) persistPlacement(ctx context.Context, srv *cell.Server, app *cell.Application) error {
	now := s.loader.Now()
	var expires int64
	if app.Lease > 0 {
		expires = now + app.Lease
	}
	app.PlacementExpiry = expires

	record := cell.PlacementRecord{
		State:    srv.State,
		Since:    now,
		Identity: app.Identity,
		Expires:  expires,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.store.Put(ctx, zknamespace.PlacementApp(srv.Name, app.Name), data)
	return err
}
