package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/idcstack/idc-control-plane/internal/metrics"
)

type Task func(context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       Task
}

type Runner struct {
	log  *zap.Logger
	jobs []job
	wg   sync.WaitGroup
}

func NewRunner(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{log: log}
}

// Add registers a task. Call before Start.
func (r *Runner) Add(name string, interval time.Duration, fn Task) *Runner {
	r.jobs = append(r.jobs, job{name: name, interval: interval, fn: fn})
	return r
}

// Start runs every task immediately and then on its interval until ctx ends.
func (r *Runner) Start(ctx context.Context) {
	for _, j := range r.jobs {
		r.wg.Add(1)
		go func(j job) {
			defer r.wg.Done()
			r.runEvery(ctx, j)
		}(j)
	}
}

// Wait blocks until every task loop has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) runEvery(ctx context.Context, j job) {
	r.runOnce(ctx, j.name, j.fn)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, j.name, j.fn)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, name string, fn Task) {
	start := time.Now()
	err := fn(ctx)
	durMs := float64(time.Since(start).Milliseconds())
	labels := map[string]string{
		"job": name,
	}
	if err != nil {
		r.log.Warn("job run failed", zap.String("job", name), zap.Float64("duration_ms", durMs), zap.Error(err))
		labels["status"] = "error"
	} else {
		r.log.Debug("job run", zap.String("job", name), zap.Float64("duration_ms", durMs))
		labels["status"] = "ok"
	}
	metrics.Default().IncCounter("idc_job_runs_total", labels)
	metrics.Default().ObserveHistogram("idc_job_duration_ms", durMs, map[string]string{"job": name})
}
