package monitor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	// Dir is the node_exporter textfile collector directory. Empty disables
	// the monitor.
	Dir      string
	ChainID  string
	StreamID string
}

func (conf Config) WithDefaults() Config {
	if len(conf.ChainID) == 0 {
		conf.ChainID = "1"
	}

	if len(conf.StreamID) == 0 {
		conf.StreamID = "default"
	}

	return conf
}

func (conf Config) process() string {
	return fmt.Sprintf("%s_%s", conf.ChainID, conf.StreamID)
}

// Monitor publishes the last synced block as a Prometheus text file picked up
// by node_exporter.
type Monitor struct {
	conf     Config
	path     string
	registry *prometheus.Registry
	gauge    prometheus.Gauge
}

func New(conf Config) (*Monitor, error) {
	conf = conf.WithDefaults()

	if len(conf.Dir) == 0 {
		return nil, fmt.Errorf("monitor directory must be specified")
	}

	var (
		registry = prometheus.NewRegistry()
		gauges   = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "last_block_synced",
				Help: "Last block fully synced to the sink.",
			},
			[]string{"process", "chain_id"},
		)
	)

	if err := registry.Register(gauges); err != nil {
		return nil, err
	}

	return &Monitor{
		conf:     conf,
		path:     filepath.Join(conf.Dir, conf.process()+".prom"),
		registry: registry,
		gauge:    gauges.WithLabelValues(conf.process(), conf.ChainID),
	}, nil
}

func (m *Monitor) Path() string {
	return m.path
}

// Update sets the gauge and rewrites the text file.
func (m *Monitor) Update(block int64) error {
	if err := os.MkdirAll(m.conf.Dir, 0755); err != nil {
		return err
	}

	m.gauge.Set(float64(block))
	return prometheus.WriteToTextfile(m.path, m.registry)
}
