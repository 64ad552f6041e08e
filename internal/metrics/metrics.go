// Package metrics exports archive run measurements in Prometheus format.
// Each Recorder owns its registry; the CLI writes it to a node_exporter
// textfile after every run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chatvault/internal/arc"
)

const namespace = "chatvault"

// Recorder implements arc.Metrics on a private Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	conversations *prometheus.CounterVec
	media         *prometheus.CounterVec
	mediaBytes    *prometheus.CounterVec
	concurrency   *prometheus.GaugeVec
	circuitOpens  *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lastRun       *prometheus.GaugeVec
	clock         arc.Clock
}

// NewRecorder registers the archive metrics on a fresh registry.
func NewRecorder(clock arc.Clock) *Recorder {
	if clock == nil {
		clock = arc.RealClock{}
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		clock:    clock,
		conversations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "archive",
				Name:      "conversations_total",
				Help:      "Conversations processed, by outcome",
			},
			[]string{"provider", "outcome"},
		),
		media: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "media",
				Name:      "downloads_total",
				Help:      "Attachment downloads, by outcome",
			},
			[]string{"provider", "outcome"},
		),
		mediaBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "media",
				Name:      "bytes_total",
				Help:      "Bytes of newly stored attachments",
			},
			[]string{"provider"},
		),
		concurrency: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "archive",
				Name:      "concurrency",
				Help:      "Current adaptive concurrency budget",
			},
			[]string{"provider"},
		),
		circuitOpens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "archive",
				Name:      "circuit_opens_total",
				Help:      "Times the circuit breaker opened",
			},
			[]string{"provider"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "archive",
				Name:      "run_duration_seconds",
				Help:      "Archive run duration in seconds",
				Buckets:   []float64{1, 5, 30, 60, 300, 900, 3600},
			},
			[]string{"provider"},
		),
		lastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "archive",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last archive run finished",
			},
			[]string{"provider"},
		),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) ConversationDone(provider string, outcome arc.Outcome) {
	r.conversations.WithLabelValues(provider, outcome.String()).Inc()
}

func (r *Recorder) MediaDone(provider string, report arc.MediaReport) {
	r.media.WithLabelValues(provider, "downloaded").Add(float64(report.Downloaded))
	r.media.WithLabelValues(provider, "skipped").Add(float64(report.Skipped))
	r.media.WithLabelValues(provider, "failed").Add(float64(report.Failed))
	r.mediaBytes.WithLabelValues(provider).Add(float64(report.Bytes))
}

func (r *Recorder) ConcurrencyChanged(provider string, n int) {
	r.concurrency.WithLabelValues(provider).Set(float64(n))
}

func (r *Recorder) CircuitOpened(provider string) {
	r.circuitOpens.WithLabelValues(provider).Inc()
}

func (r *Recorder) RunFinished(provider string, d time.Duration) {
	r.runDuration.WithLabelValues(provider).Observe(d.Seconds())
	r.lastRun.WithLabelValues(provider).Set(float64(r.clock.Now().Unix()))
}

// WriteTextfile writes every metric to path in the text exposition format.
// The write is atomic so a concurrent scrape never sees a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

var _ arc.Metrics = (*Recorder)(nil)
