// Package telemetry exposes the coordination core's counters as
// Prometheus metrics. Each component already keeps its own counters;
// the collectors here read their status snapshots at scrape time, so
// registering them adds no overhead to the hot paths.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"concord/internal/contextstate"
	"concord/internal/messaging"
	"concord/internal/orchestrator"
	"concord/internal/registry"
)

// ContextStateCollector scrapes a context state manager.
type ContextStateCollector struct {
	manager *contextstate.Manager

	queries          *prometheus.Desc
	cacheHits        *prometheus.Desc
	updates          *prometheus.Desc
	activeContexts   *prometheus.Desc
	cachedContexts   *prometheus.Desc
	subscribers      *prometheus.Desc
	eventsDropped    *prometheus.Desc
	callbackFailures *prometheus.Desc
}

// NewContextStateCollector builds a collector over the given manager.
func NewContextStateCollector(m *contextstate.Manager) *ContextStateCollector {
	return &ContextStateCollector{
		manager:          m,
		queries:          prometheus.NewDesc("concord_context_queries_total", "Context reads served.", nil, nil),
		cacheHits:        prometheus.NewDesc("concord_context_cache_hits_total", "Context reads served from cache.", nil, nil),
		updates:          prometheus.NewDesc("concord_context_updates_total", "Context updates committed.", nil, nil),
		activeContexts:   prometheus.NewDesc("concord_context_active", "Registered project contexts.", nil, nil),
		cachedContexts:   prometheus.NewDesc("concord_context_cached", "Project contexts with a live cache entry.", nil, nil),
		subscribers:      prometheus.NewDesc("concord_context_subscribers", "Live event subscribers.", nil, nil),
		eventsDropped:    prometheus.NewDesc("concord_context_events_dropped_total", "Events dropped on buffer overflow.", nil, nil),
		callbackFailures: prometheus.NewDesc("concord_context_callback_failures_total", "Subscriber callbacks that panicked.", nil, nil),
	}
}

func (c *ContextStateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queries
	ch <- c.cacheHits
	ch <- c.updates
	ch <- c.activeContexts
	ch <- c.cachedContexts
	ch <- c.subscribers
	ch <- c.eventsDropped
	ch <- c.callbackFailures
}

func (c *ContextStateCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.manager.Status()
	ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(s.TotalQueries))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(s.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.updates, prometheus.CounterValue, float64(s.TotalUpdates))
	ch <- prometheus.MustNewConstMetric(c.activeContexts, prometheus.GaugeValue, float64(s.ActiveContexts))
	ch <- prometheus.MustNewConstMetric(c.cachedContexts, prometheus.GaugeValue, float64(s.CachedContexts))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(s.Subscribers))
	ch <- prometheus.MustNewConstMetric(c.eventsDropped, prometheus.CounterValue, float64(s.EventsDropped))
	ch <- prometheus.MustNewConstMetric(c.callbackFailures, prometheus.CounterValue, float64(s.CallbackFailures))
}

// RegistryCollector scrapes an agent registry, including per-agent
// load and run counts labelled by agent id.
type RegistryCollector struct {
	registry *registry.Registry

	agents     *prometheus.Desc
	dispatched *prometheus.Desc
	rejected   *prometheus.Desc
	load       *prometheus.Desc
	runs       *prometheus.Desc
	failures   *prometheus.Desc
}

// NewRegistryCollector builds a collector over the given registry.
func NewRegistryCollector(r *registry.Registry) *RegistryCollector {
	return &RegistryCollector{
		registry:   r,
		agents:     prometheus.NewDesc("concord_registry_agents", "Registered agents.", nil, nil),
		dispatched: prometheus.NewDesc("concord_registry_dispatched_total", "Tasks dispatched to agents.", nil, nil),
		rejected:   prometheus.NewDesc("concord_registry_rejected_total", "Tasks with no eligible agent.", nil, nil),
		load:       prometheus.NewDesc("concord_agent_load", "In-flight tasks per agent.", []string{"agent_id"}, nil),
		runs:       prometheus.NewDesc("concord_agent_runs_total", "Tasks run per agent.", []string{"agent_id"}, nil),
		failures:   prometheus.NewDesc("concord_agent_failures_total", "Failed tasks per agent.", []string{"agent_id"}, nil),
	}
}

func (c *RegistryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.agents
	ch <- c.dispatched
	ch <- c.rejected
	ch <- c.load
	ch <- c.runs
	ch <- c.failures
}

func (c *RegistryCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.registry.RegistryStatus()
	ch <- prometheus.MustNewConstMetric(c.agents, prometheus.GaugeValue, float64(s.AgentCount))
	ch <- prometheus.MustNewConstMetric(c.dispatched, prometheus.CounterValue, float64(s.Dispatched))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(s.Rejected))
	for _, info := range c.registry.Agents() {
		ch <- prometheus.MustNewConstMetric(c.load, prometheus.GaugeValue, float64(info.CurrentLoad), info.ID)
		ch <- prometheus.MustNewConstMetric(c.runs, prometheus.CounterValue, float64(info.TotalRuns), info.ID)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(info.FailedRuns), info.ID)
	}
}

// OrchestratorCollector scrapes workflow scheduling counters.
type OrchestratorCollector struct {
	orch *orchestrator.Orchestrator

	workflows   *prometheus.Desc
	stepsRun    *prometheus.Desc
	stepsFailed *prometheus.Desc
	timeouts    *prometheus.Desc
}

// NewOrchestratorCollector builds a collector over the given
// orchestrator.
func NewOrchestratorCollector(o *orchestrator.Orchestrator) *OrchestratorCollector {
	return &OrchestratorCollector{
		orch:        o,
		workflows:   prometheus.NewDesc("concord_workflows", "Known workflows.", nil, nil),
		stepsRun:    prometheus.NewDesc("concord_workflow_steps_run_total", "Workflow steps dispatched.", nil, nil),
		stepsFailed: prometheus.NewDesc("concord_workflow_steps_failed_total", "Workflow step failures, including retried attempts.", nil, nil),
		timeouts:    prometheus.NewDesc("concord_workflow_step_timeouts_total", "Workflow steps failed by timeout.", nil, nil),
	}
}

func (c *OrchestratorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.workflows
	ch <- c.stepsRun
	ch <- c.stepsFailed
	ch <- c.timeouts
}

func (c *OrchestratorCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.orch.Status()
	ch <- prometheus.MustNewConstMetric(c.workflows, prometheus.GaugeValue, float64(s.Workflows))
	ch <- prometheus.MustNewConstMetric(c.stepsRun, prometheus.CounterValue, float64(s.StepsRun))
	ch <- prometheus.MustNewConstMetric(c.stepsFailed, prometheus.CounterValue, float64(s.StepsFailed))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.Timeouts))
}

// RouterCollector scrapes message delivery counters.
type RouterCollector struct {
	router *messaging.Router

	handlers  *prometheus.Desc
	queued    *prometheus.Desc
	delivered *prometheus.Desc
	expired   *prometheus.Desc
	overflow  *prometheus.Desc
	failures  *prometheus.Desc
}

// NewRouterCollector builds a collector over the given router.
func NewRouterCollector(r *messaging.Router) *RouterCollector {
	return &RouterCollector{
		router:    r,
		handlers:  prometheus.NewDesc("concord_router_handlers", "Registered message handlers.", nil, nil),
		queued:    prometheus.NewDesc("concord_router_queued_messages", "Messages currently queued.", nil, nil),
		delivered: prometheus.NewDesc("concord_router_delivered_total", "Messages delivered to handlers.", nil, nil),
		expired:   prometheus.NewDesc("concord_router_dropped_expired_total", "Messages dropped at expiry.", nil, nil),
		overflow:  prometheus.NewDesc("concord_router_dropped_overflow_total", "Messages dropped on queue overflow.", nil, nil),
		failures:  prometheus.NewDesc("concord_router_delivery_failures_total", "Handler errors during delivery.", nil, nil),
	}
}

func (c *RouterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.handlers
	ch <- c.queued
	ch <- c.delivered
	ch <- c.expired
	ch <- c.overflow
	ch <- c.failures
}

func (c *RouterCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.router.Status()
	ch <- prometheus.MustNewConstMetric(c.handlers, prometheus.GaugeValue, float64(s.Handlers))
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.QueuedMessages))
	ch <- prometheus.MustNewConstMetric(c.delivered, prometheus.CounterValue, float64(s.Delivered))
	ch <- prometheus.MustNewConstMetric(c.expired, prometheus.CounterValue, float64(s.DroppedExpired))
	ch <- prometheus.MustNewConstMetric(c.overflow, prometheus.CounterValue, float64(s.DroppedOverflow))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.DeliveryFailures))
}

// Register installs all four collectors on a registerer.
func Register(reg prometheus.Registerer,
	csm *contextstate.Manager, r *registry.Registry,
	o *orchestrator.Orchestrator, router *messaging.Router) error {

	for _, c := range []prometheus.Collector{
		NewContextStateCollector(csm),
		NewRegistryCollector(r),
		NewOrchestratorCollector(o),
		NewRouterCollector(router),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
