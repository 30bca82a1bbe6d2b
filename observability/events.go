package observability

import (
	"strconv"
	"strings"
	"sync"

	"recvault/core/events"
)

// StateMetricsEmitter feeds the registry and fund collectors from the engines'
// event stream: lifecycle transitions become counters, fund totals become
// gauges, and the per-status instrument gauge tracks each instrument's latest
// reported status.
func StateMetricsEmitter() events.Emitter {
	return &stateMetricsEmitter{
		registry:   Registry(),
		fund:       Fund(),
		statusByID: make(map[string]string),
		byStatus:   make(map[string]int),
	}
}

type stateMetricsEmitter struct {
	registry *RegistryMetrics
	fund     *FundMetrics

	mu         sync.Mutex
	statusByID map[string]string
	byStatus   map[string]int
}

func (s *stateMetricsEmitter) Emit(evt *events.Event) {
	if evt == nil {
		return
	}
	switch {
	case strings.HasPrefix(evt.Type, "instrument."):
		s.registry.RecordTransition(evt.Type)
		s.trackStatus(evt.Attributes["id"], evt.Attributes["status"])
	case strings.HasPrefix(evt.Type, "fund."):
		fundID := evt.Attributes["fund"]
		s.fund.RecordFlow(fundID, strings.TrimPrefix(evt.Type, "fund."))
		assets, okAssets := parseGaugeValue(evt.Attributes["totalAssets"])
		units, okUnits := parseGaugeValue(evt.Attributes["totalUnits"])
		if okAssets && okUnits {
			s.fund.SetTotals(fundID, assets, units)
		}
	}
}

func (s *stateMetricsEmitter) trackStatus(id, status string) {
	if id == "" || status == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.statusByID[id]
	if seen && prev == status {
		return
	}
	if seen {
		s.byStatus[prev]--
		s.registry.SetStatusCount(prev, s.byStatus[prev])
	}
	s.statusByID[id] = status
	s.byStatus[status]++
	s.registry.SetStatusCount(status, s.byStatus[status])
}

func parseGaugeValue(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
