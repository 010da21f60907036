package task

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type task struct {
	function   func(context.Context)
	nextDelay  func() time.Duration
	metricName string
}

// BackgroundTaskManager runs registered tasks on fixed-delay schedules: the
// delay to the next tick starts only once the previous tick has returned, so
// ticks of the same task never overlap. It is not threadsafe and should only
// be accessed from a single goroutine.
type BackgroundTaskManager struct {
	ctx           context.Context
	cancel        context.CancelFunc
	metricsPrefix string
	wg            sync.WaitGroup
	stopOnce      sync.Once
	stopped       bool
}

func NewBackgroundTaskManager(ctx context.Context, metricsPrefix string) *BackgroundTaskManager {
	ctx, cancel := context.WithCancel(ctx)
	return &BackgroundTaskManager{
		ctx:           ctx,
		cancel:        cancel,
		metricsPrefix: metricsPrefix,
	}
}

// Register starts backgroundTask immediately and then re-runs it interval
// after each completion.
func (m *BackgroundTaskManager) Register(backgroundTask func(context.Context), interval time.Duration, metricName string) {
	m.RegisterDynamic(backgroundTask, func() time.Duration { return interval }, metricName)
}

// RegisterDynamic is Register with the delay recomputed after every run. Used
// for tasks whose schedule follows wall-clock boundaries rather than a fixed
// period.
func (m *BackgroundTaskManager) RegisterDynamic(backgroundTask func(context.Context), nextDelay func() time.Duration, metricName string) {
	m.startBackgroundTask(&task{
		function:   backgroundTask,
		nextDelay:  nextDelay,
		metricName: metricName,
	})
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	taskDurationHistogram := promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    m.metricsPrefix + task.metricName + "_latency_seconds",
			Help:    "Background loop " + task.metricName + " latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		})

	runOnce := func() {
		start := time.Now()
		task.function(m.ctx)
		taskDurationHistogram.Observe(time.Since(start).Seconds())
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		runOnce()
		for {
			timer := time.NewTimer(task.nextDelay())
			select {
			case <-timer.C:
			case <-m.ctx.Done():
				timer.Stop()
				return
			}
			runOnce()
		}
	}()
}

// StopAll cancels all task contexts and waits up to timeout for in-flight
// ticks to finish. It returns false if the timeout elapsed first. Repeated
// calls are no-ops returning the first call's result.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopOnce.Do(func() {
		m.cancel()
		m.stopped = m.waitForShutdownCompletion(timeout)
	})
	return m.stopped
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return true
	case <-time.After(timeout):
		return false
	}
}
