package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// streakLookback bounds how many recent closed trades are read when counting
// the current losing streak.
const streakLookback = 50

// AccountStateStore implements domain.AccountStateStore by deriving the
// account state from the accounts, trade_records and positions tables.
type AccountStateStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewAccountStateStore creates a store whose trading day starts at midnight
// in loc. A nil loc means UTC.
func NewAccountStateStore(pool *pgxpool.Pool, loc *time.Location) *AccountStateStore {
	if loc == nil {
		loc = time.UTC
	}
	return &AccountStateStore{pool: pool, loc: loc}
}

// Get builds the account state as of now. An account without a row in the
// accounts table is enabled with missing equity.
func (s *AccountStateStore) Get(ctx context.Context, accountID string, now time.Time) (domain.AccountState, error) {
	st := domain.AccountState{AccountID: accountID, Enabled: true, AsOf: now}
	sod := startOfDay(now, s.loc)

	var (
		equity float64
		source string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT equity, equity_source, enabled FROM accounts WHERE id = $1`, accountID,
	).Scan(&equity, &source, &st.Enabled)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		st.Equity = domain.Measured{Provenance: domain.ProvenanceMissing}
	case err != nil:
		return domain.AccountState{}, fmt.Errorf("postgres: get account %s: %w", accountID, err)
	default:
		st.Equity = equityMeasure(equity, source)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(r_multiple), 0), COALESCE(SUM(pnl_usd), 0),
		       COUNT(*) FILTER (WHERE opened_at >= $2)
		FROM trade_records
		WHERE account_id = $1 AND closed_at >= $2`, accountID, sod,
	).Scan(&st.RealizedDailyR, &st.RealizedDailyPnL, &st.TradesToday)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: daily totals %s: %w", accountID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT outcome FROM trade_records
		WHERE account_id = $1 ORDER BY closed_at DESC LIMIT $2`, accountID, streakLookback)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: recent outcomes %s: %w", accountID, err)
	}
	outcomes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: recent outcomes rows: %w", err)
	}
	st.ConsecutiveLosses = consecutiveLosses(outcomes)

	rows, err = s.pool.Query(ctx, `
		SELECT symbol, asset_class, direction, risk_usd, opened_at FROM positions
		WHERE account_id = $1 AND status = 'OPEN'`, accountID)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: open positions %s: %w", accountID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			symbol, ac, dir string
			riskUSD         float64
			openedAt        time.Time
		)
		if err := rows.Scan(&symbol, &ac, &dir, &riskUSD, &openedAt); err != nil {
			return domain.AccountState{}, fmt.Errorf("postgres: scan open position: %w", err)
		}
		ref := domain.PositionRef{Symbol: symbol}
		ref.AssetClass, _ = domain.ParseAssetClass(ac)
		ref.Direction, _ = domain.ParseDirection(dir)
		st.OpenPositions = append(st.OpenPositions, ref)
		st.OpenRiskUSD += riskUSD
		if !openedAt.Before(sod) {
			st.TradesToday++
		}
	}
	if err := rows.Err(); err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: open positions rows: %w", err)
	}
	st.OpenTrades = len(st.OpenPositions)
	// Each open position carries 1R at entry.
	st.OpenRiskR = float64(st.OpenTrades)
	return st, nil
}

func startOfDay(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// consecutiveLosses counts loss-like outcomes from the newest trade back to
// the first that is not one.
func consecutiveLosses(newestFirst []string) int {
	n := 0
	for _, s := range newestFirst {
		o, err := domain.ParseOutcome(s)
		if err != nil || !o.IsLossLike() {
			break
		}
		n++
	}
	return n
}

func equityMeasure(v float64, source string) domain.Measured {
	switch {
	case v <= 0:
		return domain.Measured{Provenance: domain.ProvenanceMissing}
	case source == string(domain.ProvenanceEstimated):
		return domain.Estimated(v)
	default:
		return domain.Observed(v)
	}
}

var _ domain.AccountStateStore = (*AccountStateStore)(nil)
