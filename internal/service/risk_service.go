package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/metrics"
	"github.com/wesso80/marketscannerpros-sub008/internal/notify"
	"github.com/wesso80/marketscannerpros-sub008/internal/risk"
	"github.com/wesso80/marketscannerpros-sub008/internal/session"
)

// ParameterSource supplies the live adaptive parameter set of a symbol group.
type ParameterSource interface {
	Get(group string) (domain.ParameterSet, bool)
}

// RiskPolicies bundles the thresholds of the pure risk functions.
type RiskPolicies struct {
	Enabled     bool
	AccountID   string // used when a request names no account
	SnapshotTTL time.Duration
	Snapshot    risk.SnapshotPolicy
	Governor    risk.GovernorPolicy
	ExitPlan    risk.ExitPlanPolicy
	Leverage    risk.LeveragePolicy
}

// RiskDeps are the collaborators of the RiskService. Regimes, Snapshots,
// Params, Audit, Events, Notifier and Metrics may be nil.
type RiskDeps struct {
	Accounts  domain.AccountStateStore
	Market    domain.MarketDataProvider
	Regimes   domain.RegimeClassifier
	Snapshots domain.SnapshotCache
	Params    ParameterSource
	Sessions  *session.Model
	Audit     domain.AuditStore
	Events    *Emitter
	Notifier  *notify.Notifier
	Metrics   *metrics.Metrics
}

// RiskService gathers live inputs for the pure risk functions: it loads
// account state, quotes and regime readings, builds or reuses the permission
// snapshot and runs the governor.
type RiskService struct {
	deps     RiskDeps
	policies RiskPolicies
	governor *risk.Governor
	logger   *slog.Logger
	now      func() time.Time
}

// NewRiskService creates a RiskService.
func NewRiskService(deps RiskDeps, policies RiskPolicies, logger *slog.Logger) *RiskService {
	return &RiskService{
		deps:     deps,
		policies: policies,
		governor: risk.NewGovernor(policies.Governor),
		logger:   logger.With(slog.String("component", "risk_service")),
		now:      time.Now,
	}
}

// SnapshotRequest asks for the permission snapshot of an account. The asset
// class selects the session table; the regime is looked up from Symbol when
// not given.
type SnapshotRequest struct {
	AccountID  string            `json:"account_id"`
	AssetClass domain.AssetClass `json:"asset_class"`
	Symbol     string            `json:"symbol,omitempty"`
	Regime     domain.Regime     `json:"regime,omitempty"`
}

// ExitPlanRequest asks for an exit plan. A nil ATR is read from the quote
// cache.
type ExitPlanRequest struct {
	Symbol      string             `json:"symbol"`
	AssetClass  domain.AssetClass  `json:"asset_class"`
	Direction   domain.Direction   `json:"direction"`
	EntryPrice  float64            `json:"entry_price"`
	ATR         *domain.Measured   `json:"atr,omitempty"`
	Regime      domain.Regime      `json:"regime,omitempty"`
	StrategyTag domain.StrategyTag `json:"strategy_tag"`
}

// SizeRequest asks for a position size under explicit caps.
type SizeRequest struct {
	Intent               domain.TradeIntent `json:"intent"`
	StopPrice            float64            `json:"stop_price"`
	RiskPerTrade         float64            `json:"risk_per_trade"`
	MaxPositionSize      float64            `json:"max_position_size"`
	RemainingCapacityPct *float64           `json:"remaining_capacity_pct,omitempty"`
	Leverage             float64            `json:"leverage,omitempty"`
}

// LeverageRequest asks for a leverage recommendation. Zero price or ATR are
// read from the quote cache when Symbol is set.
type LeverageRequest struct {
	Symbol     string            `json:"symbol,omitempty"`
	AssetClass domain.AssetClass `json:"asset_class"`
	Regime     domain.Regime     `json:"regime"`
	RiskMode   domain.RiskMode   `json:"risk_mode"`
	Price      float64           `json:"price"`
	ATR        float64           `json:"atr"`
}

// CandidateRequest submits a trade intent for governance.
type CandidateRequest struct {
	AccountID string             `json:"account_id"`
	Intent    domain.TradeIntent `json:"intent"`
}

// CandidateResult is the governor decision with the inputs it was made on.
// Leverage and sizing are only computed for allowed candidates.
type CandidateResult struct {
	Decision domain.GovernorDecision   `json:"decision"`
	Snapshot domain.PermissionSnapshot `json:"snapshot"`
	Plan     *domain.ExitPlan          `json:"exit_plan,omitempty"`
	Leverage *domain.LeverageResult    `json:"leverage,omitempty"`
	Sizing   *domain.PositionSizing    `json:"sizing,omitempty"`
}

// BuildSnapshot builds a fresh permission snapshot and caches it. A provider
// health failure yields a LOCKED snapshot; only a failure to read the account
// state is returned as an error.
func (s *RiskService) BuildSnapshot(ctx context.Context, req SnapshotRequest) (domain.PermissionSnapshot, error) {
	acct := s.account(req.AccountID)
	class := req.AssetClass
	if class == "" {
		class = domain.AssetEquity
	}
	now := s.now().UTC()

	st, err := s.deps.Accounts.Get(ctx, acct, now)
	if err != nil {
		s.deps.Metrics.DataUnavailable("account_state")
		return domain.PermissionSnapshot{}, fmt.Errorf("risk_service: account state %s: %w", acct, errors.Join(domain.ErrDataUnavailable, err))
	}

	regime := req.Regime
	if regime == "" {
		regime = s.lookupRegime(ctx, req.Symbol).Regime
	}

	snap := risk.BuildPermissionSnapshot(risk.SnapshotInput{
		Enabled:           s.policies.Enabled && st.Enabled,
		Regime:            regime,
		DataHealth:        s.dataHealth(ctx, now),
		RealizedDailyR:    st.RealizedDailyR,
		OpenRiskR:         st.OpenRiskR,
		ConsecutiveLosses: st.ConsecutiveLosses,
		TradesToday:       st.TradesToday,
		Session:           s.deps.Sessions.Classify(now, class),
		AsOf:              now,
	}, s.policies.Snapshot)

	s.recordSnapshot(ctx, acct, class, snap)
	return snap, nil
}

// snapshotFor reuses a cached snapshot younger than the snapshot TTL and
// builds a new one otherwise.
func (s *RiskService) snapshotFor(ctx context.Context, acct string, class domain.AssetClass, symbol string, regime domain.Regime) (domain.PermissionSnapshot, error) {
	if s.deps.Snapshots != nil && s.policies.SnapshotTTL > 0 {
		cached, err := s.deps.Snapshots.Get(ctx, snapshotKey(acct, class))
		if err == nil && cached.Regime == regime && s.now().Sub(cached.AsOf) <= s.policies.SnapshotTTL {
			return cached, nil
		}
	}
	return s.BuildSnapshot(ctx, SnapshotRequest{AccountID: acct, AssetClass: class, Symbol: symbol, Regime: regime})
}

func (s *RiskService) recordSnapshot(ctx context.Context, acct string, class domain.AssetClass, snap domain.PermissionSnapshot) {
	s.deps.Metrics.Snapshot(snap.RiskMode)

	wasLocked := false
	if s.deps.Snapshots != nil {
		key := snapshotKey(acct, class)
		if prev, err := s.deps.Snapshots.Get(ctx, key); err == nil {
			wasLocked = prev.RiskMode == domain.RiskModeLocked
		}
		if s.policies.SnapshotTTL > 0 {
			if err := s.deps.Snapshots.Set(ctx, key, snap, s.policies.SnapshotTTL); err != nil {
				s.logger.WarnContext(ctx, "risk_service: cache snapshot failed", slog.String("error", err.Error()))
			}
		}
	}

	if snap.RiskMode == domain.RiskModeLocked && !wasLocked {
		s.logger.WarnContext(ctx, "risk_service: account locked",
			slog.String("account_id", acct),
			slog.Any("reasons", snap.Reasons),
		)
		s.audit(ctx, "snapshot_locked", map[string]any{
			"account_id": acct,
			"reasons":    snap.Reasons,
		})
		if err := s.deps.Notifier.SnapshotLocked(ctx, acct, snap); err != nil {
			s.logger.WarnContext(ctx, "risk_service: notify failed", slog.String("error", err.Error()))
		}
	}
	s.deps.Events.Emit(ctx, domain.ChannelSnapshots, "snapshot", acct, snap)
}

// BuildExitPlan builds the exit plan for a proposed entry.
func (s *RiskService) BuildExitPlan(ctx context.Context, req ExitPlanRequest) (domain.ExitPlan, error) {
	atr := domain.Measured{Provenance: domain.ProvenanceMissing}
	if req.ATR != nil {
		atr = *req.ATR
	} else {
		q, err := s.quote(ctx, req.Symbol)
		if err != nil {
			return domain.ExitPlan{}, fmt.Errorf("risk_service: exit plan %s: %w", req.Symbol, err)
		}
		atr = q.ATR
	}
	regime := req.Regime
	if regime == "" {
		regime = s.lookupRegime(ctx, req.Symbol).Regime
	}
	return risk.BuildExitPlan(risk.ExitPlanParams{
		Direction:   req.Direction,
		EntryPrice:  req.EntryPrice,
		ATR:         atr,
		AssetClass:  req.AssetClass,
		Regime:      regime,
		StrategyTag: req.StrategyTag,
	}, s.policies.ExitPlan)
}

// Size computes a position size under the request's caps. Without a
// remaining capacity the risk per trade is the only bound.
func (s *RiskService) Size(req SizeRequest) (domain.PositionSizing, error) {
	capacity := req.RiskPerTrade
	if req.RemainingCapacityPct != nil {
		capacity = *req.RemainingCapacityPct
	}
	return risk.ComputePositionSize(req.Intent, req.StopPrice, risk.SizingCaps{
		RiskPerTrade:         req.RiskPerTrade,
		MaxPositionSize:      req.MaxPositionSize,
		RemainingCapacityPct: capacity,
		Leverage:             req.Leverage,
	})
}

// Leverage recommends leverage, filling price and ATR from the quote cache
// when they are not supplied.
func (s *RiskService) Leverage(ctx context.Context, req LeverageRequest) (domain.LeverageResult, error) {
	if (req.Price <= 0 || req.ATR <= 0) && req.Symbol != "" {
		q, err := s.quote(ctx, req.Symbol)
		if err != nil {
			return domain.LeverageResult{}, fmt.Errorf("risk_service: leverage %s: %w", req.Symbol, err)
		}
		if req.Price <= 0 {
			req.Price = q.Price
		}
		if req.ATR <= 0 {
			req.ATR = q.ATR.Value
		}
	}
	return risk.ComputeLeverage(risk.LeverageParams{
		AssetClass: req.AssetClass,
		Regime:     req.Regime,
		RiskMode:   req.RiskMode,
		Price:      req.Price,
		ATR:        req.ATR,
	}, s.policies.Leverage)
}

// EvaluateCandidate runs the governor on a trade intent. Missing inputs are
// filled from the account state, quote cache and regime classifier; anything
// that still cannot be trusted makes the governor block. The result is an
// error only when the account state cannot be read.
func (s *RiskService) EvaluateCandidate(ctx context.Context, req CandidateRequest) (CandidateResult, error) {
	acct := s.account(req.AccountID)
	intent := req.Intent
	now := s.now().UTC()

	st, err := s.deps.Accounts.Get(ctx, acct, now)
	if err != nil {
		s.deps.Metrics.DataUnavailable("account_state")
		return CandidateResult{}, fmt.Errorf("risk_service: account state %s: %w", acct, errors.Join(domain.ErrDataUnavailable, err))
	}
	if intent.AccountEquity.Missing() {
		intent.AccountEquity = st.Equity
	}
	if intent.OpenPositions == nil {
		intent.OpenPositions = st.OpenPositions
	}
	if intent.ATR.Missing() {
		if q, err := s.quote(ctx, intent.Symbol); err == nil {
			intent.ATR = q.ATR
		} else {
			s.logger.WarnContext(ctx, "risk_service: no volatility for candidate",
				slog.String("symbol", intent.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if reading := s.lookupRegime(ctx, intent.Symbol); reading.Symbol != "" {
		if intent.Regime == "" {
			intent.Regime = reading.Regime
		}
		if reading.EventRisk > intent.EventRisk {
			intent.EventRisk = reading.EventRisk
		}
	}
	if intent.Regime == "" {
		intent.Regime = domain.RegimeUnknown
	}

	snap, err := s.snapshotFor(ctx, acct, intent.AssetClass, intent.Symbol, intent.Regime)
	if err != nil {
		return CandidateResult{}, err
	}
	res := CandidateResult{Snapshot: snap}

	plan, err := risk.BuildExitPlan(risk.ExitPlanParams{
		Direction:   intent.Direction,
		EntryPrice:  intent.EntryPrice,
		ATR:         intent.ATR,
		AssetClass:  intent.AssetClass,
		Regime:      intent.Regime,
		StrategyTag: intent.StrategyTag,
	}, s.policies.ExitPlan)
	if err == nil {
		res.Plan = &plan
	}

	var params *domain.ParameterSet
	if intent.SymbolGroup != "" && s.deps.Params != nil {
		p, _ := s.deps.Params.Get(intent.SymbolGroup)
		params = &p
	}

	st.Equity = intent.AccountEquity
	res.Decision = s.governor.Evaluate(risk.CandidateInput{
		Snapshot:  &snap,
		Intent:    intent,
		Plan:      res.Plan,
		Portfolio: st.Portfolio(),
		Params:    params,
	})

	if res.Decision.Allowed {
		s.sizeAllowed(ctx, intent, &res)
	}
	s.recordDecision(ctx, acct, intent, res.Decision)
	return res, nil
}

func (s *RiskService) sizeAllowed(ctx context.Context, intent domain.TradeIntent, res *CandidateResult) {
	lev, err := risk.ComputeLeverage(risk.LeverageParams{
		AssetClass: intent.AssetClass,
		Regime:     intent.Regime,
		RiskMode:   res.Decision.RiskMode,
		Price:      intent.EntryPrice,
		ATR:        intent.ATR.Value,
	}, s.policies.Leverage)
	if err != nil {
		s.logger.WarnContext(ctx, "risk_service: leverage failed", slog.String("error", err.Error()))
		lev = domain.LeverageResult{Recommended: 1, MaxAllowed: 1}
	}
	res.Leverage = &lev
	if res.Plan == nil {
		return
	}

	sizing, err := risk.ComputePositionSize(intent, res.Plan.StopPrice, risk.CapsFromDecision(res.Decision, lev.Recommended))
	if err != nil {
		s.logger.WarnContext(ctx, "risk_service: sizing failed", slog.String("error", err.Error()))
		return
	}
	res.Sizing = &sizing
}

func (s *RiskService) recordDecision(ctx context.Context, acct string, intent domain.TradeIntent, d domain.GovernorDecision) {
	s.deps.Metrics.Decision(d)
	s.logger.InfoContext(ctx, "risk_service: candidate evaluated",
		slog.String("account_id", acct),
		slog.String("symbol", intent.Symbol),
		slog.String("direction", string(intent.Direction)),
		slog.Bool("allowed", d.Allowed),
		slog.String("reason", d.PrimaryReason()),
		slog.String("risk_mode", string(d.RiskMode)),
	)
	if !d.Allowed {
		s.audit(ctx, "governor_block", map[string]any{
			"account_id": acct,
			"symbol":     intent.Symbol,
			"direction":  string(intent.Direction),
			"strategy":   string(intent.StrategyTag),
			"reason":     d.PrimaryReason(),
			"risk_mode":  string(d.RiskMode),
		})
	}
	s.deps.Events.Emit(ctx, domain.ChannelDecisions, "decision", intent.Symbol, map[string]any{
		"account_id": acct,
		"intent":     intent,
		"decision":   d,
	})
}

// quote reads a quote. A quote without ATR is returned together with
// domain.ErrNoVolatilityData.
func (s *RiskService) quote(ctx context.Context, symbol string) (domain.MarketQuote, error) {
	if symbol == "" {
		return domain.MarketQuote{}, domain.Invalid("symbol", "must not be empty")
	}
	q, err := s.deps.Market.Quote(ctx, symbol)
	if err != nil {
		s.deps.Metrics.DataUnavailable("quote")
		return q, err
	}
	return q, nil
}

// lookupRegime returns the classifier reading for symbol, or a zero reading
// when there is no classifier or no reading.
func (s *RiskService) lookupRegime(ctx context.Context, symbol string) domain.RegimeReading {
	if symbol == "" || s.deps.Regimes == nil {
		return domain.RegimeReading{Regime: domain.RegimeUnknown}
	}
	r, err := s.deps.Regimes.Reading(ctx, symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.deps.Metrics.DataUnavailable("regime")
		}
		return domain.RegimeReading{Regime: domain.RegimeUnknown}
	}
	return r
}

// dataHealth reads the provider heartbeat. An unreachable provider is DOWN.
func (s *RiskService) dataHealth(ctx context.Context, now time.Time) domain.DataHealth {
	h, err := s.deps.Market.Health(ctx)
	if err != nil {
		s.deps.Metrics.DataUnavailable("provider_health")
		return domain.DataHealth{Status: domain.DataHealthDown}
	}
	dh := domain.DataHealth{Status: h.Status}
	if !h.LastSeen.IsZero() {
		dh.AgeSeconds = now.Sub(h.LastSeen).Seconds()
		if dh.AgeSeconds < 0 {
			dh.AgeSeconds = 0
		}
	}
	return dh
}

func (s *RiskService) account(id string) string {
	if id != "" {
		return id
	}
	return s.policies.AccountID
}

func (s *RiskService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "risk_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// snapshotKey scopes cached snapshots by asset class, since the session table
// differs per class.
func snapshotKey(acct string, class domain.AssetClass) string {
	return acct + ":" + string(class)
}
