package dtm

import (
	"fmt"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig configures continuous profiling for a DTM instance's
// process, reported to a Pyroscope server.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string
}

// InitProfiling starts a Pyroscope profiler for the current process.
// Returns a shutdown func that stops it; disabled configs return a no-op.
func InitProfiling(cfg ProfilingConfig) (shutdown func() error, err error) {
	if !cfg.Enabled {
		return func() error { return nil }, nil
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": cfg.ServiceVersion},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dtm: start pyroscope profiler: %w", err)
	}

	return profiler.Stop, nil
}
