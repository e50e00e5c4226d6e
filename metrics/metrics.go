package metrics

import (
	"errors"
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinayprograms/taskkit/router"
	"github.com/vinayprograms/taskkit/tasks"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "taskkit"

// Config configures the exporter.
type Config struct {
	// Namespace for metric names. Default: "taskkit"
	Namespace string

	// Registry receives the collectors. Default: a new registry.
	Registry *prom.Registry
}

// TaskMetrics exports task lifecycle counts to Prometheus.
type TaskMetrics struct {
	namespace string
	registry  *prom.Registry

	waiting  *prom.GaugeVec
	running  *prom.GaugeVec
	launched *prom.CounterVec
	finished *prom.CounterVec
}

var _ tasks.Metrics = (*TaskMetrics)(nil)

// New creates and registers the task collectors.
func New(cfg Config) (*TaskMetrics, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Registry == nil {
		cfg.Registry = prom.NewRegistry()
	}

	waiting := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: cfg.Namespace,
		Name:      "tasks_waiting",
		Help:      "Tasks created or rescheduled and not yet launched.",
	}, []string{"type"})
	running := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: cfg.Namespace,
		Name:      "tasks_running",
		Help:      "Tasks with at least one launched attempt.",
	}, []string{"type"})
	launched := prom.NewCounterVec(prom.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "tasks_launched_total",
		Help:      "Total number of task launches.",
	}, []string{"type"})
	finished := prom.NewCounterVec(prom.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "tasks_finished_total",
		Help:      "Total number of tasks reaching a final state.",
	}, []string{"type", "state"})

	var err error
	if waiting, err = registerCollector(cfg.Registry, waiting); err != nil {
		return nil, err
	}
	if running, err = registerCollector(cfg.Registry, running); err != nil {
		return nil, err
	}
	if launched, err = registerCollector(cfg.Registry, launched); err != nil {
		return nil, err
	}
	if finished, err = registerCollector(cfg.Registry, finished); err != nil {
		return nil, err
	}

	return &TaskMetrics{
		namespace: cfg.Namespace,
		registry:  cfg.Registry,
		waiting:   waiting,
		running:   running,
		launched:  launched,
		finished:  finished,
	}, nil
}

// WaitingTask implements tasks.Metrics.
func (m *TaskMetrics) WaitingTask(t tasks.TaskType) {
	m.waiting.WithLabelValues(typeLabel(t)).Inc()
}

// EndWaitingTask implements tasks.Metrics.
func (m *TaskMetrics) EndWaitingTask(t tasks.TaskType) {
	m.waiting.WithLabelValues(typeLabel(t)).Dec()
}

// LaunchedTask implements tasks.Metrics. It also ends the waiting period.
func (m *TaskMetrics) LaunchedTask(t tasks.TaskType) {
	m.launched.WithLabelValues(typeLabel(t)).Inc()
	m.waiting.WithLabelValues(typeLabel(t)).Dec()
}

// RunningTask implements tasks.Metrics.
func (m *TaskMetrics) RunningTask(t tasks.TaskType) {
	m.running.WithLabelValues(typeLabel(t)).Inc()
}

// EndRunningTask implements tasks.Metrics.
func (m *TaskMetrics) EndRunningTask(t tasks.TaskType) {
	m.running.WithLabelValues(typeLabel(t)).Dec()
}

// FinishedTask implements tasks.Metrics.
func (m *TaskMetrics) FinishedTask(t tasks.TaskType, state tasks.TaskState) {
	m.finished.WithLabelValues(typeLabel(t), string(state)).Inc()
}

// Sized is anything reporting a current size, such as a heartbeat.Monitor.
type Sized interface {
	Len() int
}

// TrackMonitor exports the number of identities a liveness monitor holds.
func (m *TaskMetrics) TrackMonitor(name string, s Sized) error {
	g := prom.NewGaugeFunc(prom.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "monitored",
		Help:        "Identities currently tracked by a liveness monitor.",
		ConstLabels: prom.Labels{"monitor": name},
	}, func() float64 { return float64(s.Len()) })
	return m.registry.Register(g)
}

// TrackRouter exports router delivery counters.
func (m *TaskMetrics) TrackRouter(stats func() router.Stats) error {
	counters := map[string]func(router.Stats) uint64{
		"posted":    func(s router.Stats) uint64 { return s.Posted },
		"delivered": func(s router.Stats) uint64 { return s.Delivered },
		"failed":    func(s router.Stats) uint64 { return s.Failed },
		"panicked":  func(s router.Stats) uint64 { return s.Panicked },
	}
	for name, get := range counters {
		c := prom.NewCounterFunc(prom.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "router",
			Name:      "messages_" + name + "_total",
			Help:      "Router messages " + name + ".",
		}, func() float64 { return float64(get(stats())) })
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the registry holding the collectors.
func (m *TaskMetrics) Registry() *prom.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *TaskMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func typeLabel(t tasks.TaskType) string {
	if t == "" {
		return "unknown"
	}
	return string(t)
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
