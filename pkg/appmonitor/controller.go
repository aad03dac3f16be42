package appmonitor

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/evreng/treadmill/pkg/instance"
	"github.com/evreng/treadmill/pkg/log"
	"github.com/evreng/treadmill/pkg/metrics"
	"github.com/evreng/treadmill/pkg/zknamespace"
	"github.com/evreng/treadmill/pkg/zkstore"
)

// manifestDoc is the yaml shape of a monitor node's data (spec.md section
// 6: "/app-monitors/<name> data: yaml {count}").
type manifestDoc struct {
	Count int `yaml:"count"`
}

// createdByMonitor is the attribution value the app-monitor stamps on
// every create and delete it issues (spec.md section 4.6 step 2:
// `created_by="monitor"` / `deleted_by="monitor"`).
const createdByMonitor = "monitor"

// Controller ticks once a second (spec.md section 5: "the app-monitor
// sleeps ~1s between ticks"), reevaluating every monitor against the
// store and dispatching creates/deletes through the Instance API. Its
// shape (Start/Stop/run with a ticker and a stop channel) is the
// teacher's scheduler loop, generalized from a fixed 5s cadence and a
// single schedule() pass to a 1s cadence driving per-monitor token
// buckets.
type Controller struct {
	store  zkstore.Backend
	api    instance.API
	logger zerolog.Logger

	mu       sync.Mutex
	monitors map[string]*Monitor

	tickInterval time.Duration
	stopCh       chan struct{}
}

// NewController wires a Controller to the coordination store and the
// Instance API collaborator.
func NewController(store zkstore.Backend, api instance.API) *Controller {
	return &Controller{
		store:        store,
		api:          api,
		logger:       log.WithComponent("appmonitor"),
		monitors:     make(map[string]*Monitor),
		tickInterval: time.Second,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the tick loop.
func (c *Controller) Start() {
	go c.run()
}

// Stop ends the tick loop.
func (c *Controller) Stop() {
	close(c.stopCh)
}

func (c *Controller) run() {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Tick(context.Background(), time.Now().Unix()); err != nil {
				c.logger.Error().Err(err).Msg("app-monitor tick failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// Tick performs one reevaluation pass over every monitor node currently in
// the store (spec.md section 4.6). A malformed manifest or a store error
// scoped to one monitor is logged and skipped, so a single bad monitor
// cannot starve the rest (spec.md section 7: "Invalid manifest / domain
// error: warn, continue with other monitors").
func (c *Controller) Tick(ctx context.Context, now int64) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AppMonitorTickDuration)

	names, err := c.store.List(ctx, zknamespace.AppMonitorsRoot())
	if err != nil {
		if errors.Is(err, zkstore.ErrNotFound) {
			return nil
		}
		return err
	}

	scheduled, err := c.groupScheduledInstances(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	live := make(map[string]bool, len(names))
	for _, name := range names {
		live[name] = true
		if err := c.tickOne(ctx, name, now, scheduled[name]); err != nil {
			c.logger.Warn().Err(err).Str("monitor", name).Msg("skipping monitor this tick")
		}
	}
	for name := range c.monitors {
		if !live[name] {
			delete(c.monitors, name)
		}
	}
	return nil
}

func (c *Controller) tickOne(ctx context.Context, name string, now int64, current []string) error {
	data, ok, err := c.store.GetDefault(ctx, zknamespace.AppMonitor(name))
	if err != nil {
		return err
	}
	if !ok {
		delete(c.monitors, name)
		return nil
	}
	var doc manifestDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}

	mon, exists := c.monitors[name]
	if !exists {
		mon = NewMonitor(name, doc.Count, now)
		c.monitors[name] = mon
	}
	mon.SetCount(doc.Count)
	metrics.AppMonitorAvailableTokens.WithLabelValues(name).Set(mon.Available)

	sort.Strings(current)
	creates, deletes := mon.Reconcile(now, len(current))
	metrics.AppMonitorAvailableTokens.WithLabelValues(name).Set(mon.Available)

	if creates >= 1 {
		proid, app := splitAppName(name)
		spec := instance.Spec{
			Proid: proid, App: app, Count: creates,
			MemoryMB: instance.MinMemoryMB, DiskMB: instance.MinDiskMB,
			CreatedBy: createdByMonitor,
		}
		if _, err := c.api.Create(ctx, spec); err != nil {
			return err
		}
		metrics.AppMonitorCreatesTotal.WithLabelValues(name).Add(float64(creates))
	}
	if deletes >= 1 {
		victims := current
		if deletes < len(victims) {
			victims = victims[:deletes]
		}
		deleted := 0
		for _, victim := range victims {
			if err := c.api.Delete(ctx, victim, createdByMonitor); err != nil {
				c.logger.Warn().Err(err).Str("monitor", name).Str("instance", victim).Msg("failed to delete instance, continuing with remaining victims")
				continue
			}
			deleted++
		}
		metrics.AppMonitorDeletesTotal.WithLabelValues(name).Add(float64(deleted))
	}
	return nil
}

// groupScheduledInstances lists every scheduled instance node and groups
// the full instance names ("proid.app#NNNNNNNNNN") by their "proid.app"
// prefix, matching spec.md section 4.6's inputs: "per-appname grouped
// list of currently scheduled instances (by stripping #NNNNNNNNNN)".
func (c *Controller) groupScheduledInstances(ctx context.Context) (map[string][]string, error) {
	instances, err := c.store.List(ctx, zknamespace.ScheduledRoot())
	if err != nil {
		if errors.Is(err, zkstore.ErrNotFound) {
			return map[string][]string{}, nil
		}
		return nil, err
	}
	groups := make(map[string][]string)
	for _, inst := range instances {
		appName := stripInstanceSuffix(inst)
		groups[appName] = append(groups[appName], inst)
	}
	return groups, nil
}

// stripInstanceSuffix removes the "#NNNNNNNNNN" instance-id suffix from a
// scheduled instance name, leaving "proid.app".
func stripInstanceSuffix(name string) string {
	if idx := strings.LastIndexByte(name, '#'); idx >= 0 {
		return name[:idx]
	}
	return name
}

// splitAppName recovers (proid, app) from a monitor name of the form
// "proid.app".
func splitAppName(name string) (proid, app string) {
	idx := strings.IndexByte(name, '.')
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
