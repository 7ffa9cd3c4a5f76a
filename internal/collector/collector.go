// Package collector is the daemon's tick-driven façade: it owns every
// configured Monitor, dispatches one collection round per tick in
// parallel, and republishes the results as Prometheus gauges. Its
// Start/Stop lifecycle and shutdown-timeout pattern are adapted from
// emu/core.core; its ticker is adapted from emu/timer.Timer.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/opencpm/pcmd/internal/monitor"
)

// TickInterval is the daemon's fixed collection cadence, per spec.md §5
// ("one-tick-per-second pacing").
const TickInterval = time.Second

// Collector drives a fixed set of monitors on a 1-second tick, publishing
// each tick's results into a Prometheus gauge vector keyed by monitor name
// and metric name. A tick that is still running when the next one fires is
// skipped rather than queued: pacing drops to current state instead of
// building a backlog.
type Collector struct {
	monitors []monitor.Monitor
	gauges   *prometheus.GaugeVec
	logger   *slog.Logger

	wg      sync.WaitGroup
	done    chan struct{}
	busy    chan struct{} // buffered 1: held while a tick is in flight
}

// New constructs a Collector over monitors, registering its gauge vector
// on registry.
func New(monitors []monitor.Monitor, registry *prometheus.Registry, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	gauges := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pcmd",
		Name:      "metric",
		Help:      "Hardware performance telemetry metrics, labeled by monitor and metric name.",
	}, []string{"monitor", "metric"})
	registry.MustRegister(gauges)

	return &Collector{
		monitors: monitors,
		gauges:   gauges,
		logger:   logger,
		done:     make(chan struct{}),
		busy:     make(chan struct{}, 1),
	}
}

// Program runs every monitor's Program step once, before the first tick.
func (c *Collector) Program() error {
	for _, m := range c.monitors {
		if err := m.Program(); err != nil {
			return err
		}
	}
	return nil
}

// Start runs the tick loop until Stop is called. It blocks the calling
// goroutine; callers typically invoke it with `go c.Start(ctx)`.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case c.busy <- struct{}{}:
				c.wg.Add(1)
				go func() {
					defer c.wg.Done()
					defer func() { <-c.busy }()
					c.tick(ctx)
				}()
			default:
				c.logger.Warn("dropping tick: previous collection still in flight")
			}
		}
	}
}

func (c *Collector) tick(ctx context.Context) {
	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for _, m := range c.monitors {
		m := m
		g.Go(func() error {
			values, err := m.Collect()
			if err != nil {
				c.logger.Error("monitor collection failed", "monitor", m.Name(), "error", err)
				return nil // one monitor's failure must not cancel the others
			}
			mu.Lock()
			defer mu.Unlock()
			for metric, v := range values {
				c.gauges.WithLabelValues(m.Name(), metric).Set(v)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Stop halts the tick loop and waits (up to one second) for any in-flight
// tick to finish, per emu/core.core.Stop's shutdown-timeout pattern.
func (c *Collector) Stop() {
	close(c.done)
	for _, m := range c.monitors {
		m.Shutdown()
	}

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(time.Second):
		c.logger.Warn("timed out waiting for collector to finish")
	}
}
