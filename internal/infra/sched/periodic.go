package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/infra/redis"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context, now time.Time) error

// Periodic runs a task every interval until its context ends. With a locker
// set, only the replica holding the named lock runs a given tick.
type Periodic struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	task     Task
	locker   redis.Locker
	lockTTL  time.Duration
	now      func() time.Time
	log      *zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPeriodic(name string, interval time.Duration, task Task, logger *zerolog.Logger) *Periodic {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "Periodic").Str("task", name).Logger()
	return &Periodic{
		name:     name,
		interval: interval,
		timeout:  interval,
		task:     task,
		now:      time.Now,
		log:      &l,
	}
}

// WithLock makes ticks exclusive across replicas.
func (p *Periodic) WithLock(locker redis.Locker, ttl time.Duration) *Periodic {
	if ttl <= 0 {
		ttl = p.interval
	}
	p.locker = locker
	p.lockTTL = ttl
	return p
}

// Start runs the loop in the background. Calling it twice has no effect.
func (p *Periodic) Start(parent context.Context) {
	if p.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		_ = p.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the running tick to finish.
func (p *Periodic) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Run blocks, ticking until ctx is done.
func (p *Periodic) Run(ctx context.Context) error {
	p.log.Info().Dur("interval", p.interval).Msg("starting")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("stopping")
			return ctx.Err()
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs the task once, honoring the lock. It reports whether the task ran.
func (p *Periodic) Tick(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.locker != nil {
		key := "sched:" + p.name
		token, err := p.locker.TryLock(ctx, key, p.lockTTL)
		if errors.Is(err, redis.ErrLockHeld) {
			p.log.Debug().Msg("tick owned by another replica")
			return false
		}
		if err != nil {
			p.log.Error().Err(err).Msg("lock unavailable, skipping tick")
			return false
		}
		defer func() {
			if err := p.locker.Unlock(context.Background(), key, token); err != nil {
				p.log.Warn().Err(err).Msg("unlock failed")
			}
		}()
	}

	start := p.now()
	if err := p.task(ctx, start); err != nil {
		p.log.Error().Err(err).Msg("tick failed")
		return true
	}
	p.log.Debug().Dur("took", p.now().Sub(start)).Msg("tick done")
	return true
}
