package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"perpcore/internal/core"
	"perpcore/internal/perperr"
)

// ResultPublisher pushes transition outcomes to perp.applied.{kind} for
// downstream consumers. Publishing is best effort: a miss is logged, and the
// transition log in Postgres remains the durable record.
type ResultPublisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

type resultJSON struct {
	TransitionID string    `json:"transition_id"`
	Kind         string    `json:"kind"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	MarketID     uint64    `json:"market_id"`
	FillPrice    uint64    `json:"fill_price,omitempty"`
	Fee          uint64    `json:"fee,omitempty"`
	PositionSize string    `json:"position_size,omitempty"`
	EntryPrice   uint64    `json:"entry_price,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewResultPublisher(js jetstream.JetStream, log zerolog.Logger) *ResultPublisher {
	return &ResultPublisher{js: js, log: log}
}

// Publish emits one outcome. applyErr nil means the transition committed.
func (rp *ResultPublisher) Publish(ctx context.Context, res core.Result, applyErr error) {
	out := resultJSON{
		TransitionID: res.TransitionID,
		Kind:         res.Kind,
		Outcome:      "applied",
		MarketID:     res.MarketID,
		FillPrice:    res.FillPrice,
		Fee:          res.Fee,
		EntryPrice:   res.EntryPrice,
		Timestamp:    time.Now().UTC(),
	}
	if res.PositionSize != nil {
		out.PositionSize = res.PositionSize.String()
	}
	if applyErr != nil {
		out.Outcome = "rejected"
		out.Reason = perperr.Kind(applyErr)
	}

	data, err := json.Marshal(out)
	if err != nil {
		rp.log.Error().Err(err).Msg("marshal result")
		return
	}

	subject := fmt.Sprintf("perp.applied.%s", res.Kind)
	if _, err := rp.js.Publish(ctx, subject, data); err != nil {
		rp.log.Warn().Err(err).Str("transition_id", res.TransitionID).Msg("result publish failed")
	}
}
