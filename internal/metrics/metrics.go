// Package metrics exposes Prometheus counters for token issuance, progress
// and playback protection.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the token service, progress tracker and viewer relay
// report to. Nop satisfies it when metrics are disabled.
type Recorder interface {
	TokenIssued()
	TokenDenied(reason string)
	TokenValidated(result string)
	CompletionRecorded(source string)
	CopyAttemptBlocked(kind string)
	ViewerConnected()
	ViewerDisconnected()
}

type Collector struct {
	tokensIssued  prometheus.Counter
	tokensDenied  *prometheus.CounterVec
	validations   *prometheus.CounterVec
	completions   *prometheus.CounterVec
	copyBlocked   *prometheus.CounterVec
	activeViewers prometheus.Gauge
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learnova_video_tokens_issued_total",
			Help: "Video access tokens issued.",
		}),
		tokensDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnova_video_tokens_denied_total",
			Help: "Video access token requests refused, by reason.",
		}, []string{"reason"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnova_video_token_validations_total",
			Help: "Video access token validations, by result.",
		}, []string{"result"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnova_lesson_completions_total",
			Help: "Lesson completions recorded, by source (threshold or manual).",
		}, []string{"source"}),
		copyBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnova_copy_attempts_blocked_total",
			Help: "Copy or share attempts intercepted, by kind.",
		}, []string{"kind"}),
		activeViewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "learnova_active_viewers",
			Help: "Connected viewer relay sessions.",
		}),
	}

	reg.MustRegister(
		c.tokensIssued,
		c.tokensDenied,
		c.validations,
		c.completions,
		c.copyBlocked,
		c.activeViewers,
	)
	return c
}

func (c *Collector) TokenIssued()                     { c.tokensIssued.Inc() }
func (c *Collector) TokenDenied(reason string)        { c.tokensDenied.WithLabelValues(reason).Inc() }
func (c *Collector) TokenValidated(result string)     { c.validations.WithLabelValues(result).Inc() }
func (c *Collector) CompletionRecorded(source string) { c.completions.WithLabelValues(source).Inc() }
func (c *Collector) CopyAttemptBlocked(kind string)   { c.copyBlocked.WithLabelValues(kind).Inc() }
func (c *Collector) ViewerConnected()                 { c.activeViewers.Inc() }
func (c *Collector) ViewerDisconnected()              { c.activeViewers.Dec() }

// Handler serves the registry for Prometheus scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type Nop struct{}

func (Nop) TokenIssued()              {}
func (Nop) TokenDenied(string)        {}
func (Nop) TokenValidated(string)     {}
func (Nop) CompletionRecorded(string) {}
func (Nop) CopyAttemptBlocked(string) {}
func (Nop) ViewerConnected()          {}
func (Nop) ViewerDisconnected()       {}
