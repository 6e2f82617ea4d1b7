package transport

import (
	"log/slog"

	"github.com/jmonlabs/jmon-daw-sub001/graph"
)

// Option configures a Transport.
type Option func(*Transport)

// DefaultResumeTolerance is how far before the resume position, in measures,
// events are still scheduled when resuming or seeking, so that a note starting
// exactly at the resume position is not skipped.
const DefaultResumeTolerance = 0.001

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithBroker sets the broker the transport publishes to; the default is a new
// broker, available through Broker.
func WithBroker(b *Broker) Option {
	return func(t *Transport) {
		if b != nil {
			t.broker = b
		}
	}
}

// WithRegistry sets the node kinds the audio graph is built from.
func WithRegistry(r *graph.Registry) Option {
	return func(t *Transport) {
		if r != nil {
			t.registry = r
		}
	}
}

// WithResolution sets the sampling step of automation, in seconds.
func WithResolution(seconds float64) Option {
	return func(t *Transport) {
		if seconds > 0 {
			t.resolution = seconds
		}
	}
}

// WithResumeTolerance sets the resume tolerance, in measures.
func WithResumeTolerance(measures float64) Option {
	return func(t *Transport) {
		if measures >= 0 {
			t.resumeTolerance = measures
		}
	}
}

// WithSimultaneousTolerance sets how close, in seconds, note starts must be
// for the polyphony analysis to treat them as simultaneous.
func WithSimultaneousTolerance(seconds float64) Option {
	return func(t *Transport) {
		if seconds >= 0 {
			t.simultaneousTolerance = seconds
		}
	}
}
