package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for status list allocation and publication.
type Metrics struct {
	ListsCreated   *prometheus.CounterVec
	Allocations    *prometheus.CounterVec
	AllocationRace prometheus.Counter
	StatusFlips    *prometheus.CounterVec
	PublishServed  *prometheus.CounterVec
}

// New creates and registers the status list metrics.
func New() *Metrics {
	return &Metrics{
		ListsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcbridge_status_lists_created_total",
			Help: "Total number of status lists created",
		}, []string{"purpose"}),
		Allocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcbridge_status_list_allocations_total",
			Help: "Total number of status list indices allocated",
		}, []string{"purpose"}),
		AllocationRace: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcbridge_status_list_allocation_races_total",
			Help: "Total number of allocation retries after a capacity race",
		}),
		StatusFlips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcbridge_status_flips_total",
			Help: "Total number of status bit changes",
		}, []string{"purpose", "value"}),
		PublishServed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcbridge_status_list_publish_total",
			Help: "Total number of published status list reads",
		}, []string{"source"}),
	}
}

// IncListsCreated increments the lists created counter if metrics are enabled.
func (m *Metrics) IncListsCreated(purpose string) {
	if m != nil {
		m.ListsCreated.WithLabelValues(purpose).Inc()
	}
}

// IncAllocations increments the allocation counter if metrics are enabled.
func (m *Metrics) IncAllocations(purpose string) {
	if m != nil {
		m.Allocations.WithLabelValues(purpose).Inc()
	}
}

// IncAllocationRace increments the allocation race counter if metrics are enabled.
func (m *Metrics) IncAllocationRace() {
	if m != nil {
		m.AllocationRace.Inc()
	}
}

// IncStatusFlips increments the status flip counter if metrics are enabled.
func (m *Metrics) IncStatusFlips(purpose string, revoked bool) {
	if m != nil {
		value := "clear"
		if revoked {
			value = "set"
		}
		m.StatusFlips.WithLabelValues(purpose, value).Inc()
	}
}

// IncPublishServed increments the publish counter if metrics are enabled.
func (m *Metrics) IncPublishServed(source string) {
	if m != nil {
		m.PublishServed.WithLabelValues(source).Inc()
	}
}
