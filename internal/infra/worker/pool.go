// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Task func(ctx context.Context) error

// Pool bounds how many tasks of a batch run at once.
type Pool struct {
	n   int
	log *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{n: workers, log: &l}
}

func (p *Pool) Size() int { return p.n }

// RunBatch runs tasks with at most Size() in flight and waits for all of them.
// A failing task does not cancel its siblings; the number of failures is returned.
func (p *Pool) RunBatch(ctx context.Context, tasks []Task) int {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed int
	)
	g.SetLimit(p.n)
	for _, t := range tasks {
		if t == nil {
			continue
		}
		t := t
		g.Go(func() error {
			if err := t(ctx); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				p.log.Warn().Err(err).Msg("batch task error")
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}
