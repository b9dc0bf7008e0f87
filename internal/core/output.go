package core

import (
	"SaveLedger/internal/event"
	"SaveLedger/internal/ledger"
	"SaveLedger/internal/observability"
)

// Output is everything downstream consumers need from one committed event
type Output struct {
	Envelope *event.EventEnvelope
	// Journal batch of the operation; set on the first envelope only
	Batch *ledger.Batch
	// Canonical bytes hashed into the envelope's StateHash
	StateDigest []byte
}

// Emitter receives outputs in commit order
type Emitter interface {
	Emit(Output)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(Output)

func (f EmitterFunc) Emit(o Output) { f(o) }

// ChannelEmitter fans outputs out to the service workers. The persist
// channel uses a blocking send so no event is lost; the projection and
// publish channels use non-blocking sends and drop when full. Projections
// can be rebuilt from the event log.
type ChannelEmitter struct {
	Persist    chan<- Output
	Projection chan<- Output
	Publish    chan<- Output
	Metrics    *observability.Metrics
}

func (e *ChannelEmitter) Emit(o Output) {
	if e.Persist != nil {
		select {
		case e.Persist <- o:
		default:
			if e.Metrics != nil {
				e.Metrics.PersistBackpressure.Inc()
			}
			e.Persist <- o
		}
	}

	e.offer(e.Projection, o, "projection")
	e.offer(e.Publish, o, "publisher")
}

func (e *ChannelEmitter) offer(ch chan<- Output, o Output, consumer string) {
	if ch == nil {
		return
	}
	select {
	case ch <- o:
	default:
		if e.Metrics != nil {
			e.Metrics.ProjectionDrops.WithLabelValues(consumer).Inc()
		}
	}
}
