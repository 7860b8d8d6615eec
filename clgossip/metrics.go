package clgossip

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is a subsystem shared by all metrics exposed by this
// package.
const MetricsSubsystem = "gossip"

// Metrics contains metrics exposed by this package.
// All series report zero at startup.
type Metrics struct {
	// Number of relay announcements a peer accepted as new.
	RelayAccepted metrics.Counter
	// Number of relay announcements a peer reported as already known.
	RelayRejected metrics.Counter
	// Number of relay announcements that failed at the transport.
	RelayFailed metrics.Counter

	// Number of block downloads completed and stored.
	DownloadsSucceeded metrics.Counter
	// Number of download failures: one per retry scheduled after a failed
	// attempt against a source, plus one per terminal download failure.
	// A source's last failed attempt before failover is not counted.
	DownloadsFailed metrics.Counter

	// Number of download items currently tracked by the scheduler.
	DownloadsScheduled metrics.Gauge
	// Number of download workers currently active.
	DownloadsOngoing metrics.Gauge
	// Number of chunked block fetches currently in flight.
	FetchesOngoing metrics.Gauge
}

// PrometheusMetrics returns Metrics built with prometheus collectors,
// registered on the default registerer.
// Optional labelsAndValues are label pairs applied to all metrics.
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	return PrometheusMetricsOn(stdprometheus.DefaultRegisterer, namespace, labelsAndValues...)
}

// PrometheusMetricsOn is PrometheusMetrics with an explicit registerer,
// so tests and multi-node processes can isolate registries.
func PrometheusMetricsOn(reg stdprometheus.Registerer, namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	values := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
		values = append(values, labelsAndValues[i+1])
	}

	counter := func(name, help string) metrics.Counter {
		cv := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels)
		reg.MustRegister(cv)
		// Instantiate the series so it reports zero before first use.
		cv.WithLabelValues(values...)
		return prometheus.NewCounter(cv).With(labelsAndValues...)
	}
	gauge := func(name, help string) metrics.Gauge {
		gv := stdprometheus.NewGaugeVec(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels)
		reg.MustRegister(gv)
		gv.WithLabelValues(values...)
		return prometheus.NewGauge(gv).With(labelsAndValues...)
	}

	return &Metrics{
		RelayAccepted:      counter("relay_accepted", "Relay announcements accepted as new by a peer."),
		RelayRejected:      counter("relay_rejected", "Relay announcements rejected as already known."),
		RelayFailed:        counter("relay_failed", "Relay announcements that failed at the transport."),
		DownloadsSucceeded: counter("downloads_succeeded", "Block downloads completed and stored."),
		DownloadsFailed:    counter("downloads_failed", "Block download failures: retries scheduled plus terminal failures."),
		DownloadsScheduled: gauge("downloads_scheduled", "Download items currently tracked by the scheduler."),
		DownloadsOngoing:   gauge("downloads_ongoing", "Download workers currently active."),
		FetchesOngoing:     gauge("fetches_ongoing", "Chunked block fetches currently in flight."),
	}
}

// NopMetrics returns Metrics that discard all observations.
func NopMetrics() *Metrics {
	return &Metrics{
		RelayAccepted:      discard.NewCounter(),
		RelayRejected:      discard.NewCounter(),
		RelayFailed:        discard.NewCounter(),
		DownloadsSucceeded: discard.NewCounter(),
		DownloadsFailed:    discard.NewCounter(),
		DownloadsScheduled: discard.NewGauge(),
		DownloadsOngoing:   discard.NewGauge(),
		FetchesOngoing:     discard.NewGauge(),
	}
}
