package provision

import (
	"context"
	"errors"

	"github.com/forgeline/latentpool/journal"
	"github.com/forgeline/latentpool/providers"
	"github.com/forgeline/latentpool/telemetry"
	"github.com/forgeline/latentpool/types"
)

// spotRejectionRecord is the journal payload for a rejected entry.
type spotRejectionRecord struct {
	Attempt int     `json:"attempt"`
	Bid     float64 `json:"bid"`
}

// spotExhaustionRecord is the journal payload for an exhausted entry.
type spotExhaustionRecord struct {
	Attempts int     `json:"attempts"`
	FinalBid float64 `json:"final_bid"`
}

// spotAttempt is the state of one price-bid launch sequence. It is
// created per launch call, never shared, and dropped after acceptance
// or exhaustion.
type spotAttempt struct {
	attempt    int
	bid        float64
	retryLimit int
	factor     float64
}

func newSpotAttempt(pricing types.Pricing) *spotAttempt {
	limit, factor := retryPolicy(pricing)
	return &spotAttempt{
		attempt:    1,
		bid:        pricing.MaxSpotPrice,
		retryLimit: limit,
		factor:     factor,
	}
}

// exhausted reports whether another submission is allowed after a
// price rejection.
func (s *spotAttempt) exhausted() bool {
	return s.attempt >= s.retryLimit
}

// raise moves to the next bid. Only called after a price-too-low
// rejection with retries remaining.
func (s *spotAttempt) raise() {
	s.attempt++
	s.bid *= s.factor
}

// launchSpot drives the bounded resubmission loop over price-bid
// launches. Resubmissions are strictly sequential: a follow-up bid is
// only issued once the prior rejection is confirmed.
func (l *Launcher) launchSpot(ctx context.Context, spec NormalizedSpec, req providers.LaunchRequest) (*types.Instance, error) {
	state := newSpotAttempt(spec.Pricing)

	for {
		instance, err := l.provider.CreateSpotRequest(ctx, req, state.bid)
		if err == nil {
			return instance, nil
		}

		var rejection *providers.SpotRejection
		if !errors.As(err, &rejection) {
			return nil, &LaunchError{Op: "create spot request", Err: err}
		}
		if rejection.Reason != providers.RejectionPriceTooLow {
			// Not a pricing problem, re-bidding cannot help.
			return nil, &LaunchError{Op: "create spot request", Err: rejection}
		}

		telemetry.RecordSpotRejection(ctx, spec.Name)
		l.journalError(journal.EntryRejected, spec.Name, spotRejectionRecord{
			Attempt: state.attempt,
			Bid:     state.bid,
		}, rejection)

		if state.exhausted() {
			l.journalAppend(journal.EntryExhausted, spec.Name, spotExhaustionRecord{
				Attempts: state.attempt,
				FinalBid: state.bid,
			})
			return nil, &CapacityExhaustedError{
				Attempts: state.attempt,
				FinalBid: state.bid,
			}
		}

		prior := state.bid
		state.raise()
		l.logger.LogSpotRejected(ctx, spec.Name, state.attempt, prior, state.bid)
	}
}
