package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level collectors. Helpers no-op until Register succeeds.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetsup",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"service"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetsup",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of service restarts, by reason.",
		}, []string{"service", "reason"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetsup",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of service stops.",
		}, []string{"service"},
	)
	serviceUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetsup",
			Subsystem: "service",
			Name:      "updates_applied_total",
			Help:      "Number of package updates received from the update checker.",
		}, []string{"service"},
	)
	checkerRespawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetsup",
			Subsystem: "service",
			Name:      "update_checker_respawns_total",
			Help:      "Number of times a disconnected update checker was respawned.",
		}, []string{"service"},
	)
	serviceRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fleetsup",
			Subsystem: "service",
			Name:      "running",
			Help:      "1 when the service process is up.",
		}, []string{"service"},
	)
	serviceRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fleetsup",
			Subsystem: "service",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the service process.",
		}, []string{"service"},
	)
	serviceCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fleetsup",
			Subsystem: "service",
			Name:      "cpu_percent",
			Help:      "CPU usage of the service process.",
		}, []string{"service"},
	)
	censusRebuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetsup",
			Subsystem: "census",
			Name:      "rebuilds_total",
			Help:      "Census rebuild attempts, by result.",
		}, []string{"result"},
	)
	censusEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleetsup",
			Subsystem: "census",
			Name:      "entries",
			Help:      "Entries in the current census.",
		},
	)
	signalsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetsup",
			Subsystem: "supervisor",
			Name:      "signals_forwarded_total",
			Help:      "Signals forwarded to services.",
		}, []string{"signal"},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleetsup",
			Subsystem: "supervisor",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one control loop tick.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
)

// Register registers all collectors. Calling it again after success is a no-op.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceRestarts, serviceStops, serviceUpdates, checkerRespawns,
		serviceRunning, serviceRSS, serviceCPU, censusRebuilds, censusEntries, signalsForwarded, tickDuration,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(service string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(service).Inc()
	}
}

func IncRestart(service, reason string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(service, reason).Inc()
	}
}

func IncStop(service string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(service).Inc()
	}
}

func IncUpdate(service string) {
	if regOK.Load() {
		serviceUpdates.WithLabelValues(service).Inc()
	}
}

func IncCheckerRespawn(service string) {
	if regOK.Load() {
		checkerRespawns.WithLabelValues(service).Inc()
	}
}

func SetRunning(service string, up bool) {
	if regOK.Load() {
		v := 0.0
		if up {
			v = 1
		}
		serviceRunning.WithLabelValues(service).Set(v)
	}
}

func SetResources(service string, u Usage) {
	if regOK.Load() {
		serviceRSS.WithLabelValues(service).Set(float64(u.RSS))
		serviceCPU.WithLabelValues(service).Set(u.CPUPercent)
	}
}

// ObserveCensusRebuild records a rebuild attempt; result is changed, unchanged or error.
func ObserveCensusRebuild(result string, entries int) {
	if regOK.Load() {
		censusRebuilds.WithLabelValues(result).Inc()
		if result == "changed" {
			censusEntries.Set(float64(entries))
		}
	}
}

func IncSignalForwarded(signal string) {
	if regOK.Load() {
		signalsForwarded.WithLabelValues(signal).Inc()
	}
}

func ObserveTick(seconds float64) {
	if regOK.Load() {
		tickDuration.Observe(seconds)
	}
}
