// Package metrics exports Prometheus metrics about a running job: the
// state of the three nodes, state transitions and per-process resource
// usage.
package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/runner"
	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/supervisor"
)

// Numeric encoding of node states for the state gauge.
const (
	stateValueRunning    = 0
	stateValueSuccess    = 1
	stateValueError      = 2
	stateValueTerminated = 3
)

func stateValue(s supervisor.ProcessState) float64 {
	switch s {
	case supervisor.StateRunning:
		return stateValueRunning
	case supervisor.StateTerminatedSuccess:
		return stateValueSuccess
	case supervisor.StateTerminatedError:
		return stateValueError
	default:
		return stateValueTerminated
	}
}

// Exporter exposes job metrics at /metrics in the Prometheus text format.
type Exporter struct {
	registry  *promclient.Registry
	log       zerolog.Logger
	clock     clockwork.Clock
	startTime time.Time

	mu      sync.RWMutex
	runners []runner.Runner

	nodeState        *promclient.GaugeVec
	transitionsTotal promclient.Counter
	nodeCPUPercent   *promclient.GaugeVec
	nodeMemoryRSS    *promclient.GaugeVec
}

// NewExporter creates an exporter observing the given runners.
func NewExporter(clock clockwork.Clock, logger zerolog.Logger, runners ...runner.Runner) *Exporter {
	registry := promclient.NewRegistry()

	e := &Exporter{
		registry:  registry,
		log:       logger,
		clock:     clock,
		startTime: clock.Now(),
		runners:   runners,
		nodeState: promclient.NewGaugeVec(promclient.GaugeOpts{
			Name: "trifinger_node_state",
			Help: "State of a node (0=running, 1=terminated_success, 2=terminated_error)",
		}, []string{"node"}),
		transitionsTotal: promclient.NewCounter(promclient.CounterOpts{
			Name: "trifinger_state_transitions_total",
			Help: "Total number of combined state transitions observed",
		}),
		nodeCPUPercent: promclient.NewGaugeVec(promclient.GaugeOpts{
			Name: "trifinger_node_cpu_percent",
			Help: "CPU usage of a node process in percent",
		}, []string{"node"}),
		nodeMemoryRSS: promclient.NewGaugeVec(promclient.GaugeOpts{
			Name: "trifinger_node_memory_rss_bytes",
			Help: "Resident memory of a node process in bytes",
		}, []string{"node"}),
	}

	registry.MustRegister(e.nodeState, e.transitionsTotal, e.nodeCPUPercent, e.nodeMemoryRSS)

	for _, r := range runners {
		e.nodeState.WithLabelValues(string(r.Kind())).Set(stateValueRunning)
	}

	return e
}

// ObserveTransition records a combined state transition.  Intended to be
// used as a supervisor transition hook.
func (e *Exporter) ObserveTransition(from, to supervisor.CombinedState) {
	e.transitionsTotal.Inc()
	e.nodeState.WithLabelValues(string(runner.KindData)).Set(stateValue(to.Data))
	e.nodeState.WithLabelValues(string(runner.KindBackend)).Set(stateValue(to.Backend))
	e.nodeState.WithLabelValues(string(runner.KindUser)).Set(stateValue(to.User))
}

// Run samples per-process resource usage until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(interval):
			e.sample()
		}
	}
}

func (e *Exporter) sample() {
	e.mu.RLock()
	runners := e.runners
	e.mu.RUnlock()

	for _, r := range runners {
		if !r.IsRunning() {
			continue
		}

		proc, err := process.NewProcess(int32(r.Pid()))
		if err != nil {
			continue
		}

		node := string(r.Kind())
		if cpuPercent, err := proc.CPUPercent(); err == nil {
			e.nodeCPUPercent.WithLabelValues(node).Set(cpuPercent)
		}
		if memInfo, err := proc.MemoryInfo(); err == nil {
			e.nodeMemoryRSS.WithLabelValues(node).Set(float64(memInfo.RSS))
		}
	}
}

// ServeHTTP serves the metrics endpoint.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP trifinger_job_uptime_seconds Time since the job was started\n")
	fmt.Fprintf(w, "# TYPE trifinger_job_uptime_seconds gauge\n")
	fmt.Fprintf(w, "trifinger_job_uptime_seconds %.0f\n", e.clock.Since(e.startTime).Seconds())

	if memInfo, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(w, "\n# HELP trifinger_host_memory_used_bytes Memory used on the host\n")
		fmt.Fprintf(w, "# TYPE trifinger_host_memory_used_bytes gauge\n")
		fmt.Fprintf(w, "trifinger_host_memory_used_bytes %d\n", memInfo.Used)
	}

	fmt.Fprintf(w, "\n")

	metricFamilies, err := e.registry.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering metrics: %v\n", err)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			e.log.Warn().Err(err).Str("metric", mf.GetName()).Msg("failed to encode metric")
		}
	}
	w.Write(buf.Bytes())
}
