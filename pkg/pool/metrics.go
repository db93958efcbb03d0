package pool

import "time"

// Metrics is the narrow surface Pool needs from an observability backend.
// pkg/metrics.Collector implements it against Prometheus; tests and
// embedders that don't care about metrics can leave it nil.
type Metrics interface {
	SetGauges(count, active, idle, waitingOnGlobalQueue int)
	IncSpawns()
	IncSpawnErrors()
	IncConnectErrors()
	IncRetired(reason string)
	ObserveSpawnLatency(d time.Duration)
	ObserveConnectLatency(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) SetGauges(int, int, int, int)          {}
func (noopMetrics) IncSpawns()                            {}
func (noopMetrics) IncSpawnErrors()                       {}
func (noopMetrics) IncConnectErrors()                     {}
func (noopMetrics) IncRetired(string)                     {}
func (noopMetrics) ObserveSpawnLatency(time.Duration)     {}
func (noopMetrics) ObserveConnectLatency(time.Duration)   {}
