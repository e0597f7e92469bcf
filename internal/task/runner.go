// Package task runs recurring background jobs on fixed intervals.
package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task 是一个周期性任务
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) error
}

// Runner 为每个任务启动一个 ticker 循环，启动时先立即执行一次
type Runner struct {
	logger *zap.Logger
	tasks  []Task
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewRunner 构造 Runner
func NewRunner(logger *zap.Logger, tasks ...Task) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger, tasks: tasks, now: time.Now}
}

// Start 在后台启动全部任务，ctx 取消后退出
func (r *Runner) Start(ctx context.Context) {
	for _, t := range r.tasks {
		if t.Interval <= 0 || t.Run == nil {
			r.logger.Warn("skip task without interval", zap.String("task", t.Name))
			continue
		}

		r.wg.Add(1)
		go func(t Task) {
			defer r.wg.Done()
			r.loop(ctx, t)
		}(t)
	}
}

// Wait 阻塞直到全部任务退出
func (r *Runner) Wait() {
	r.wg.Wait()
}

// RunOnce 依次同步执行全部任务一次
func (r *Runner) RunOnce(ctx context.Context) {
	for _, t := range r.tasks {
		if t.Run != nil {
			r.execute(ctx, t)
		}
	}
}

func (r *Runner) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	r.execute(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.execute(ctx, t)
		}
	}
}

func (r *Runner) execute(ctx context.Context, t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task panicked", zap.String("task", t.Name), zap.Any("panic", rec))
		}
	}()

	started := r.now()
	if err := t.Run(ctx, started); err != nil {
		r.logger.Warn("task failed", zap.String("task", t.Name), zap.Error(err))
		return
	}
	r.logger.Debug("task finished", zap.String("task", t.Name), zap.Duration("elapsed", time.Since(started)))
}
