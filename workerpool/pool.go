// Copyright (c) Dream Overflow. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package workerpool implements a fixed-size scheduled executor: each
// registered task gets an initial delay and a periodic tick delay, its
// tick function runs at most once concurrently, and returning -1 cancels
// it (spec.md §4.6). ProxyServer uses one pool per listening server to
// drive its sessions' ticks.
package workerpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// DefaultTickDelay is the periodic tick delay used when a caller doesn't
// configure one, matching spec.md §4.6's 50ms default.
const DefaultTickDelay = 50 * time.Millisecond

// TickFunc is a scheduled task's periodic invocation. Returning -1 cancels
// the task; any other value continues scheduling it.
type TickFunc func() int

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithLogger overrides the pool's logger. Defaults to logrus's standard
// logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMetrics registers an active-task gauge and a removed-task counter on
// registerer, with name as the prefix of both metric names
// (name_active_tasks, name_removed_tasks_total). Registration failures (e.g. a duplicate
// collector from a second Pool sharing a registry) are logged and
// otherwise ignored; metrics stay nil and are skipped.
func WithMetrics(registerer prometheus.Registerer, name string) Option {
	return func(p *Pool) {
		active := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "o3dnet",
			Subsystem: "workerpool",
			Name:      name + "_active_tasks",
			Help:      "Number of tasks currently scheduled in this worker pool.",
		})
		removed := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "o3dnet",
			Subsystem: "workerpool",
			Name:      name + "_removed_tasks_total",
			Help:      "Total number of tasks removed (cancelled or self-terminated) from this worker pool.",
		})
		if err := registerer.Register(active); err == nil {
			p.activeGauge = active
		}
		if err := registerer.Register(removed); err == nil {
			p.removedCounter = removed
		}
	}
}

type task struct {
	id      int64
	fn      TickFunc
	period  time.Duration
	stop    chan struct{}
	running int32
}

// Pool is a fixed-size scheduled executor. The size bounds how many task
// ticks may run concurrently across the whole pool; a per-task flag
// additionally guarantees no single task's tick overlaps itself.
type Pool struct {
	sem chan struct{}

	mu     sync.Mutex
	tasks  map[int64]*task
	nextID int64

	logger           logrus.FieldLogger
	activeGauge      prometheus.Gauge
	removedCounter   prometheus.Counter
}

// New returns a Pool bounding concurrent tick invocations to size.
func New(size int, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		sem:    make(chan struct{}, size),
		tasks:  make(map[int64]*task),
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Schedule registers fn to run once after initialDelay, then every period
// until it returns -1 or is Cancelled. It returns a task id usable with
// Cancel.
func (p *Pool) Schedule(initialDelay, period time.Duration, fn TickFunc) int64 {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	t := &task{id: id, fn: fn, period: period, stop: make(chan struct{})}
	p.tasks[id] = t
	p.mu.Unlock()

	if p.activeGauge != nil {
		p.activeGauge.Inc()
	}
	go p.run(t, initialDelay)
	return id
}

func (p *Pool) run(t *task, initialDelay time.Duration) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-timer.C:
		}

		if !atomic.CompareAndSwapInt32(&t.running, 0, 1) {
			// Previous tick is still in flight; skip this one rather than
			// overlap it, and try again next period.
			timer.Reset(t.period)
			continue
		}

		p.sem <- struct{}{}
		status := t.fn()
		<-p.sem
		atomic.StoreInt32(&t.running, 0)

		if status == -1 {
			p.remove(t.id)
			return
		}
		timer.Reset(t.period)
	}
}

func (p *Pool) remove(id int64) {
	p.mu.Lock()
	_, ok := p.tasks[id]
	delete(p.tasks, id)
	p.mu.Unlock()
	if !ok {
		return
	}
	if p.activeGauge != nil {
		p.activeGauge.Dec()
	}
	if p.removedCounter != nil {
		p.removedCounter.Inc()
	}
}

// Cancel stops and removes a scheduled task, releasing its slot.
func (p *Pool) Cancel(id int64) {
	p.mu.Lock()
	t, ok := p.tasks[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	close(t.stop)
	p.remove(id)
}

// Len reports the number of tasks currently scheduled.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Stop cancels every scheduled task. It does not wait for a tick that is
// already running to return; such a tick finishes on its own goroutine
// after Stop has returned.
func (p *Pool) Stop() {
	p.mu.Lock()
	ids := make([]int64, 0, len(p.tasks))
	for id := range p.tasks {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.Cancel(id)
	}
}
