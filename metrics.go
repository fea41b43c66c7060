package editor

import "github.com/prometheus/client_golang/prometheus"

var ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "editor",
	Subsystem: "manager",
	Name:      "active_sessions",
})

var SessionLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "editor",
	Subsystem: "manager",
	Name:      "session_loads",
}, []string{"source"})

var Persists = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "editor",
	Subsystem: "manager",
	Name:      "persists",
}, []string{"result"})

var BrokerMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "editor",
	Subsystem: "manager",
	Name:      "broker_messages",
}, []string{"kind", "direction"})

// Collectors lists everything this package exports for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{ActiveSessions, SessionLoads, Persists, BrokerMessages}
}
