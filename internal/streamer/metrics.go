package streamer

import "github.com/uber-go/tally/v4"

type Metrics struct {
	LastSynced  tally.Gauge
	Frontier    tally.Gauge
	Windows     tally.Counter
	Failures    tally.Counter
	SyncedKeys  tally.Counter
	IdleCycles  tally.Counter
	WindowTimer tally.Timer
}

func NewMetrics(scope tally.Scope) *Metrics {
	return &Metrics{
		LastSynced:  scope.Gauge("last_synced_block"),
		Frontier:    scope.Gauge("frontier"),
		Windows:     scope.Counter("windows"),
		Failures:    scope.Counter("window_failures"),
		SyncedKeys:  scope.Counter("synced_blocks"),
		IdleCycles:  scope.Counter("idle_cycles"),
		WindowTimer: scope.Timer("window_duration"),
	}
}
