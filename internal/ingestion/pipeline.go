package ingestion

import (
	"context"

	"github.com/rs/zerolog"

	"perpcore/internal/core"
	"perpcore/internal/observability"
	"perpcore/internal/perperr"
)

// Pipeline drains the intake channel and drives the engine. It runs as a
// single goroutine so transitions stay fully serialized.
type Pipeline struct {
	engine    *core.Engine
	dedup     *core.Deduper
	publisher *ResultPublisher // optional
	metrics   *observability.Metrics
	log       zerolog.Logger
	intake    <-chan RawEnvelope
}

func NewPipeline(
	engine *core.Engine,
	dedup *core.Deduper,
	publisher *ResultPublisher,
	metrics *observability.Metrics,
	log zerolog.Logger,
	intake <-chan RawEnvelope,
) *Pipeline {
	return &Pipeline{
		engine:    engine,
		dedup:     dedup,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		intake:    intake,
	}
}

// Run processes envelopes until ctx is done or the intake channel closes.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.intake:
			if !ok {
				return nil
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, raw RawEnvelope) {
	sub, err := ParseEnvelope(raw.Data)
	if err != nil {
		// Malformed envelopes never improve on redelivery.
		if p.metrics != nil {
			p.metrics.IntakeParseError.WithLabelValues(raw.Subject).Inc()
		}
		p.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable envelope")
		raw.AckFunc()
		return
	}

	kind := sub.Transition.Kind()
	if p.metrics != nil {
		p.metrics.IntakeReceived.WithLabelValues(kind).Inc()
	}

	if p.dedup.IsDuplicate(ctx, sub.TransitionID) {
		if p.metrics != nil {
			p.metrics.IntakeDuplicates.WithLabelValues(kind).Inc()
		}
		raw.AckFunc()
		return
	}

	res, err := p.engine.Apply(ctx, sub.Transition)
	if err != nil && !perperr.IsDomain(err) {
		// Infrastructure fault (store unreachable, etc): leave the envelope
		// for redelivery.
		p.log.Error().Err(err).Str("transition_id", sub.TransitionID).Msg("transient apply failure")
		raw.NakFunc()
		return
	}

	// Applied or rejected, the outcome is terminal.
	p.dedup.MarkProcessed(sub.TransitionID)
	if p.publisher != nil {
		p.publisher.Publish(ctx, res, err)
	}
	raw.AckFunc()
}
