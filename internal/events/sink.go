package events

import (
	"sync"

	"go.uber.org/zap"

	"stockcrawler/internal/metrics"
)

// Sink consumes failure events. Implementations may be invoked concurrently.
type Sink interface {
	Emit(evt Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f(evt).
func (f SinkFunc) Emit(evt Event) { f(evt) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// LogSink writes each event as one structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Emit logs evt at warn level. An event that fails Validate is still logged,
// at error level with the validation error attached.
func (s *LogSink) Emit(evt Event) {
	fields := []zap.Field{
		zap.String("kind", string(evt.Kind)),
		zap.Time("at", evt.At),
		zap.String("crawl_id", evt.CrawlID.String()),
		zap.String("symbol", evt.Symbol),
		zap.String("url", evt.URL),
		zap.Error(evt.Err),
	}
	if verr := evt.Validate(); verr != nil {
		s.logger.Error("malformed crawl event", append(fields, zap.NamedError("validation", verr))...)
		return
	}
	s.logger.Warn("crawl failure", fields...)
}

// MetricsSink counts events in stockcrawler_failures_total.
type MetricsSink struct{}

// NewMetricsSink makes sure the collectors are registered.
func NewMetricsSink() MetricsSink {
	metrics.Init()
	return MetricsSink{}
}

// Emit increments the counter for evt.Kind.
func (MetricsSink) Emit(evt Event) {
	metrics.ObserveFailure(string(evt.Kind))
}

type multi []Sink

// Multi fans every event out to each non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Emit(evt Event) {
	for _, s := range m {
		s.Emit(evt)
	}
}

// Recorder keeps every event in memory. Tests use it to assert on failures.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends evt.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
