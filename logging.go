package workqueue

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
)

func newWarnLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workqueue: invalid warn rates: %v", r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// await polls until cond holds for every spawned worker.
func (p *Pool[T]) await(category string, cond func(w *worker[T]) bool) {
	p.awaitCond(category, func() bool { return p.all(cond) })
}

// awaitCond polls cond with backoff. A wait that exceeds the slow wait
// threshold is logged once, subject to the per-category rate limit.
func (p *Pool[T]) awaitCond(category string, cond func() bool) {
	if cond() {
		return
	}
	bo := p.backoff()
	threshold := p.opts.slowWaitThreshold
	start := time.Now()
	warned := threshold <= 0
	for !cond() {
		bo.Pause()
		if !warned && bo.Sleeping() {
			if elapsed := time.Since(start); elapsed >= threshold {
				warned = true
				p.warnSlow(category, elapsed)
			}
		}
	}
}

func (p *Pool[T]) warnSlow(category string, elapsed time.Duration) {
	if _, ok := p.warnLimiter.Allow(category); !ok {
		return
	}
	p.logger.Warning().
		Str(`wait`, category).
		Dur(`elapsed`, elapsed).
		Str(`stream`, p.stream.Load().String()).
		Str(`batch`, p.batch.Load().String()).
		Log(`slow quiescence wait`)
}
