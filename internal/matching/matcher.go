// Package matching finds, scores and ranks providers for a service request
// and hands the ranking to the offer fanout.
package matching

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/assignment"
	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/ports"
	"github.com/meanishn/platform/internal/telemetry"
)

// Outcome summarises one matching run.
type Outcome struct {
	RequestID  string                     `json:"request_id"`
	Eligible   int                        `json:"eligible"`
	Candidates []marketplace.Candidate    `json:"candidates"`
	Dispatch   *assignment.DispatchResult `json:"dispatch,omitempty"`
	// Reason explains a run that dispatched nothing.
	Reason string `json:"reason,omitempty"`
}

// Matcher runs the filter, score, rank and fanout pipeline.
type Matcher struct {
	store     ports.Store
	directory ports.ProviderDirectory
	scorer    *Scorer
	fanout    *assignment.Fanout
	alerter   ports.Alerter
	clock     clockwork.Clock
	logger    *zap.Logger
}

func NewMatcher(store ports.Store, directory ports.ProviderDirectory, scorer *Scorer, fanout *assignment.Fanout, clock clockwork.Clock, logger *zap.Logger) *Matcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		store:     store,
		directory: directory,
		scorer:    scorer,
		fanout:    fanout,
		clock:     clock,
		logger:    logger.Named("matcher"),
	}
}

// WithAlerter makes the matcher raise an alert when a request can no longer
// be matched.
func (m *Matcher) WithAlerter(a ports.Alerter) *Matcher {
	m.alerter = a
	return m
}

func (m *Matcher) alert(ctx context.Context, requestID, message string) {
	if m.alerter == nil {
		return
	}
	if err := m.alerter.Alert(ctx, requestID, "warning", message); err != nil {
		m.logger.Warn("ops alert failed", zap.String("request_id", requestID), zap.Error(err))
	}
}

// Run matches the request against the directory and dispatches one round of
// offers. It is safe to call repeatedly: providers holding a live offer are
// never offered again, and a request that is no longer open is left alone.
func (m *Matcher) Run(ctx context.Context, requestID string) (out *Outcome, err error) {
	ctx, span := otel.Tracer("matching").Start(ctx, "matching.run")
	span.SetAttributes(attribute.String("request.id", requestID))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	out = &Outcome{RequestID: requestID}

	req, err := m.store.GetRequest(ctx, requestID)
	if err != nil {
		telemetry.MatchRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !req.Status.OpenForOffers() {
		out.Reason = "request is " + string(req.Status)
		telemetry.MatchRunsTotal.WithLabelValues("closed").Inc()
		return out, nil
	}
	cfg := m.fanout.Config()
	if cfg.MaxRounds > 0 && req.MatchRounds >= cfg.MaxRounds {
		out.Reason = "match rounds exhausted"
		telemetry.MatchRunsTotal.WithLabelValues("rounds_exhausted").Inc()
		m.logger.Warn("no more matching rounds",
			zap.String("request_id", requestID),
			zap.Int("rounds", req.MatchRounds))
		m.alert(ctx, requestID, fmt.Sprintf("request %s is still %s after %d matching rounds", requestID, req.Status, req.MatchRounds))
		return out, nil
	}

	offers, err := m.store.ListOffers(ctx, requestID)
	if err != nil {
		telemetry.MatchRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	providers, err := m.directory.ProvidersForCategory(ctx, req.CategoryID)
	if err != nil {
		telemetry.MatchRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	exclude := assignment.Excluded(offers, cfg.Policy, m.clock.Now())
	eligible := Eligible(req, providers, exclude)
	out.Eligible = len(eligible)
	out.Candidates = Rank(Candidates(m.scorer, req, eligible))
	telemetry.MatchCandidates.Observe(float64(len(out.Candidates)))

	if len(out.Candidates) == 0 {
		out.Reason = "no eligible providers"
		telemetry.MatchRunsTotal.WithLabelValues("no_candidates").Inc()
		m.logger.Info("no eligible providers",
			zap.String("request_id", requestID),
			zap.String("category_id", req.CategoryID))
		if len(offers) == 0 {
			m.alert(ctx, requestID, fmt.Sprintf("no eligible providers for category %s", req.CategoryID))
		}
		return out, nil
	}

	out.Dispatch, err = m.fanout.Dispatch(ctx, requestID, out.Candidates)
	if err != nil {
		telemetry.MatchRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	telemetry.MatchRunsTotal.WithLabelValues("dispatched").Inc()
	return out, nil
}
