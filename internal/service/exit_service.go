package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/exit"
	"github.com/wesso80/marketscannerpros-sub008/internal/metrics"
	"github.com/wesso80/marketscannerpros-sub008/internal/notify"
)

// ExitDeps are the collaborators of the ExitService. Regimes, Params, Audit,
// Events, Notifier and Metrics may be nil.
type ExitDeps struct {
	Positions domain.PositionStore
	Verdicts  domain.VerdictStore
	Market    domain.MarketDataProvider
	Regimes   domain.RegimeClassifier
	Params    ParameterSource
	Audit     domain.AuditStore
	Events    *Emitter
	Notifier  *notify.Notifier
	Metrics   *metrics.Metrics
}

// ExitSettings configures the exit monitor.
type ExitSettings struct {
	Interval    time.Duration
	QuoteMaxAge time.Duration
	// DefaultPolicy applies to groups that have no calibrated parameter set.
	DefaultPolicy domain.AdaptivePolicy
}

// ExitService tracks paper positions: it evaluates every open position
// against live quotes, persists the verdicts and closes positions the
// evaluator says to close.
type ExitService struct {
	deps     ExitDeps
	settings ExitSettings
	logger   *slog.Logger
	now      func() time.Time
}

// NewExitService creates an ExitService.
func NewExitService(deps ExitDeps, settings ExitSettings, logger *slog.Logger) *ExitService {
	if settings.Interval <= 0 {
		settings.Interval = 30 * time.Second
	}
	return &ExitService{
		deps:     deps,
		settings: settings,
		logger:   logger.With(slog.String("component", "exit_service")),
		now:      time.Now,
	}
}

// OpenPositionRequest opens a paper position for the exit monitor.
type OpenPositionRequest struct {
	AccountID               string             `json:"account_id"`
	Symbol                  string             `json:"symbol"`
	SymbolGroup             string             `json:"symbol_group"`
	AssetClass              domain.AssetClass  `json:"asset_class"`
	Direction               domain.Direction   `json:"direction"`
	StrategyTag             domain.StrategyTag `json:"strategy_tag"`
	EntryPrice              float64            `json:"entry_price"`
	StopPrice               float64            `json:"stop_price"`
	ThesisInvalidationPrice float64            `json:"thesis_invalidation_price,omitempty"`
	TargetPrices            []float64          `json:"target_prices,omitempty"`
	Quantity                float64            `json:"quantity"`
	EdgeScoreAtEntry        float64            `json:"edge_score_at_entry"`
	ExpectedWindowMinutes   float64            `json:"expected_window_minutes"`
}

// Validate checks the request at the boundary.
func (r OpenPositionRequest) Validate() error {
	switch {
	case r.Symbol == "":
		return domain.Invalid("symbol", "must not be empty")
	case r.Direction != domain.DirectionLong && r.Direction != domain.DirectionShort:
		return domain.Invalid("direction", "must be LONG or SHORT, got %q", r.Direction)
	case !domain.Finite(r.EntryPrice) || r.EntryPrice <= 0:
		return domain.Invalid("entry_price", "must be a positive finite number")
	case !domain.Finite(r.StopPrice) || r.StopPrice <= 0:
		return domain.Invalid("stop_price", "must be a positive finite number")
	case (r.EntryPrice-r.StopPrice)*r.Direction.Sign() <= 0:
		return domain.Invalid("stop_price", "must be on the loss side of entry")
	case !domain.Finite(r.Quantity) || r.Quantity <= 0:
		return domain.Invalid("quantity", "must be a positive finite number")
	case !domain.Finite(r.ExpectedWindowMinutes) || r.ExpectedWindowMinutes <= 0:
		return domain.Invalid("expected_window_minutes", "must be positive")
	}
	return nil
}

// OpenPosition records a new paper position.
func (s *ExitService) OpenPosition(ctx context.Context, req OpenPositionRequest) (domain.Position, error) {
	if err := req.Validate(); err != nil {
		return domain.Position{}, err
	}
	if req.AssetClass == "" {
		req.AssetClass = domain.AssetEquity
	}
	pos := domain.Position{
		ID:                      uuid.NewString(),
		AccountID:               req.AccountID,
		Symbol:                  req.Symbol,
		SymbolGroup:             req.SymbolGroup,
		AssetClass:              req.AssetClass,
		Direction:               req.Direction,
		StrategyTag:             req.StrategyTag,
		EntryPrice:              req.EntryPrice,
		StopPrice:               req.StopPrice,
		ThesisInvalidationPrice: req.ThesisInvalidationPrice,
		TargetPrices:            req.TargetPrices,
		Quantity:                req.Quantity,
		EdgeScoreAtEntry:        req.EdgeScoreAtEntry,
		ExpectedWindow:          time.Duration(req.ExpectedWindowMinutes * float64(time.Minute)),
		Status:                  domain.TradeOpen,
		OpenedAt:                s.now().UTC(),
	}
	pos.RiskUSD = pos.Quantity * pos.RiskPerUnit()
	if err := s.deps.Positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("exit_service: open position: %w", err)
	}
	s.logger.InfoContext(ctx, "exit_service: position opened",
		slog.String("id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("quantity", pos.Quantity),
	)
	return pos, nil
}

// Evaluate runs the exit evaluator on a caller-supplied trade state. A
// missing policy is filled from the group defaults.
func (s *ExitService) Evaluate(st domain.TradeState) domain.ExitVerdict {
	if st.Policy == (domain.AdaptivePolicy{}) {
		st.Policy = s.settings.DefaultPolicy
	}
	v := exit.Evaluate(st)
	s.deps.Metrics.Verdict(v)
	return v
}

// LatestVerdict returns the most recent stored verdict for a position.
func (s *ExitService) LatestVerdict(ctx context.Context, positionID string) (domain.StoredVerdict, error) {
	v, err := s.deps.Verdicts.Latest(ctx, positionID)
	if err != nil {
		return domain.StoredVerdict{}, fmt.Errorf("exit_service: latest verdict %s: %w", positionID, err)
	}
	return v, nil
}

// Run evaluates open positions every interval until ctx is cancelled.
func (s *ExitService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.settings.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.EvaluateOpenPositions(ctx); err != nil {
				s.logger.ErrorContext(ctx, "exit_service: monitor pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// EvaluateOpenPositions runs one monitor pass and returns the number of
// positions evaluated. A position whose inputs are unavailable is skipped for
// this pass; only a failure to list positions is returned.
func (s *ExitService) EvaluateOpenPositions(ctx context.Context) (int, error) {
	start := s.now()
	open, err := s.deps.Positions.GetOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("exit_service: list open positions: %w", err)
	}
	evaluated := 0
	for _, pos := range open {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.EvaluatePosition(ctx, pos); err != nil {
			s.logger.WarnContext(ctx, "exit_service: position skipped",
				slog.String("id", pos.ID),
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		evaluated++
	}
	s.deps.Metrics.MonitorPass(s.now().Sub(start).Seconds())
	s.logger.DebugContext(ctx, "exit_service: monitor pass",
		slog.Int("open", len(open)),
		slog.Int("evaluated", evaluated),
	)
	return evaluated, nil
}

// EvaluatePosition evaluates one position against its current quote and
// regime reading, stores the verdict and closes the position on CLOSE.
func (s *ExitService) EvaluatePosition(ctx context.Context, pos domain.Position) (domain.StoredVerdict, error) {
	now := s.now().UTC()
	q, err := s.deps.Market.Quote(ctx, pos.Symbol)
	if err != nil && !errors.Is(err, domain.ErrNoVolatilityData) {
		s.deps.Metrics.DataUnavailable("quote")
		return domain.StoredVerdict{}, fmt.Errorf("exit_service: quote %s: %w", pos.Symbol, err)
	}
	if q.Price <= 0 {
		s.deps.Metrics.DataUnavailable("quote")
		return domain.StoredVerdict{}, fmt.Errorf("exit_service: quote %s: %w", pos.Symbol, domain.ErrDataUnavailable)
	}
	if s.settings.QuoteMaxAge > 0 && q.Age(now) > s.settings.QuoteMaxAge {
		s.deps.Metrics.DataUnavailable("quote")
		return domain.StoredVerdict{}, fmt.Errorf("exit_service: quote %s is %s old: %w", pos.Symbol, q.Age(now).Round(time.Second), domain.ErrStaleData)
	}

	st := s.tradeState(ctx, pos, q.Price, now)
	v := exit.Evaluate(st)

	stored := domain.StoredVerdict{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		Verdict:     v,
		MarkPrice:   q.Price,
		UnrealizedR: st.UnrealizedR,
		EvaluatedAt: now,
	}
	if err := s.deps.Verdicts.Append(ctx, stored); err != nil {
		return domain.StoredVerdict{}, fmt.Errorf("exit_service: store verdict: %w", err)
	}
	if st.MaxFavorableR > pos.MaxFavorableR {
		if err := s.deps.Positions.UpdateExcursion(ctx, pos.ID, st.MaxFavorableR); err != nil {
			s.logger.WarnContext(ctx, "exit_service: update excursion failed",
				slog.String("id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.deps.Metrics.Verdict(v)
	s.deps.Events.Emit(ctx, domain.ChannelVerdicts, "verdict", pos.ID, stored)

	if v.Action == domain.ExitClose {
		s.closePosition(ctx, pos, stored)
	}
	return stored, nil
}

func (s *ExitService) closePosition(ctx context.Context, pos domain.Position, sv domain.StoredVerdict) {
	if err := s.deps.Positions.Close(ctx, pos.ID, sv.MarkPrice, sv.EvaluatedAt); err != nil {
		s.logger.ErrorContext(ctx, "exit_service: close position failed",
			slog.String("id", pos.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "exit_service: position closed",
		slog.String("id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", sv.Verdict.Reason),
		slog.Float64("mark", sv.MarkPrice),
		slog.Float64("unrealized_r", sv.UnrealizedR),
	)
	if s.deps.Audit != nil {
		if err := s.deps.Audit.Log(ctx, "exit_close", map[string]any{
			"position_id":  pos.ID,
			"symbol":       pos.Symbol,
			"reason":       sv.Verdict.Reason,
			"mark_price":   sv.MarkPrice,
			"unrealized_r": sv.UnrealizedR,
		}); err != nil {
			s.logger.WarnContext(ctx, "exit_service: audit log failed", slog.String("error", err.Error()))
		}
	}
	if err := s.deps.Notifier.ExitClose(ctx, pos, sv.Verdict, sv.MarkPrice, sv.UnrealizedR); err != nil {
		s.logger.WarnContext(ctx, "exit_service: notify failed", slog.String("error", err.Error()))
	}
}

// tradeState assembles the evaluator input. Without a regime reading the
// edge is held at its entry value so the edge channel stays neutral.
func (s *ExitService) tradeState(ctx context.Context, pos domain.Position, mark float64, now time.Time) domain.TradeState {
	st := domain.TradeState{
		ID:                      pos.ID,
		Symbol:                  pos.Symbol,
		Status:                  pos.Status,
		Direction:               pos.Direction,
		EntryPrice:              pos.EntryPrice,
		StopPrice:               pos.StopPrice,
		ThesisInvalidationPrice: pos.ThesisInvalidationPrice,
		TargetPrices:            pos.TargetPrices,
		RiskR:                   pos.RiskPerUnit(),
		MarkPrice:               mark,
		MaxFavorableR:           pos.MaxFavorableR,
		TimeOpenMs:              now.Sub(pos.OpenedAt).Milliseconds(),
		ExpectedWindowMs:        pos.ExpectedWindow.Milliseconds(),
		EdgeScoreAtEntry:        pos.EdgeScoreAtEntry,
		EdgeScore:               pos.EdgeScoreAtEntry,
		Regime:                  domain.RegimeUnknown,
		Policy:                  s.policyFor(pos.SymbolGroup),
	}
	if st.RiskR > 0 {
		st.UnrealizedR = (mark - pos.EntryPrice) * pos.Direction.Sign() / st.RiskR
		st.MaxFavorableR = math.Max(st.MaxFavorableR, st.UnrealizedR)
	}
	if s.deps.Regimes != nil {
		r, err := s.deps.Regimes.Reading(ctx, pos.Symbol)
		switch {
		case err == nil:
			st.EdgeScore = r.EdgeScore
			st.Regime = r.Regime
			st.Momentum = r.Momentum
			st.Structure = r.Structure
			st.EventRisk = r.EventRisk
		case !errors.Is(err, domain.ErrNotFound):
			s.deps.Metrics.DataUnavailable("regime")
		}
	}
	return st
}

func (s *ExitService) policyFor(group string) domain.AdaptivePolicy {
	if group != "" && s.deps.Params != nil {
		if p, ok := s.deps.Params.Get(group); ok {
			return p.ExitPolicy
		}
	}
	return s.settings.DefaultPolicy
}
