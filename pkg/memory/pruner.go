package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/nocl/internal/tracing"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultPruneSchedule runs the expiry sweep hourly
const DefaultPruneSchedule = "@every 1h"

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression or descriptor such as "@every 30m"
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Pruner periodically removes expired memories
type Pruner struct {
	layer    *Layer
	schedule string
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewPruner creates a pruner for layer. An empty schedule uses DefaultPruneSchedule.
func NewPruner(layer *Layer, schedule string, logger zerolog.Logger) (*Pruner, error) {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, err
	}
	return &Pruner{
		layer:    layer,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// RunOnce performs a single sweep
func (p *Pruner) RunOnce(ctx context.Context) (int, error) {
	return p.layer.Prune(ctx)
}

// Start schedules sweeps until ctx is done or Stop is called
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return fmt.Errorf("pruner already started")
	}

	jobCtx := tracing.Detach(ctx)
	c := cron.New(cron.WithParser(scheduleParser))
	id, err := c.AddFunc(p.schedule, func() {
		n, err := p.RunOnce(jobCtx)
		if err != nil {
			p.logger.Error().Err(err).Msg("Memory prune failed")
			return
		}
		p.logger.Debug().Int("removed", n).Msg("Memory prune completed")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule prune: %w", err)
	}

	p.cron = c
	p.entryID = id
	c.Start()

	p.logger.Info().Str("schedule", p.schedule).Time("next", c.Entry(id).Next).Msg("Memory pruner started")

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Next returns the next scheduled sweep, or the zero time when not started
func (p *Pruner) Next() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron == nil {
		return time.Time{}
	}
	return p.cron.Entry(p.entryID).Next
}

// Stop halts the schedule and waits for a running sweep to finish
func (p *Pruner) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	p.logger.Info().Msg("Memory pruner stopped")
}
