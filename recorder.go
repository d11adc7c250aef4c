package quota

// Recorder receives limiter metrics. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// Add increments the counter name by value.
	Add(name string, value float64, tags map[string]string)
	// Observe records one sample of a distribution, such as a latency.
	Observe(name string, value float64, tags map[string]string)
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

func (NoopRecorder) Add(string, float64, map[string]string)     {}
func (NoopRecorder) Observe(string, float64, map[string]string) {}

// Metric names emitted by the Limiter.
const (
	MetricCheck    = "quota.check"
	MetricFallback = "quota.fallback"
	MetricLatency  = "quota.latency_ms"
)
