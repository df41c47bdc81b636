package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// TradeRecordStore implements domain.TradeRecordStore using PostgreSQL.
// Trade records are written by the journal; this store only reads them.
type TradeRecordStore struct {
	pool *pgxpool.Pool
}

// NewTradeRecordStore creates a new TradeRecordStore backed by the given pool.
func NewTradeRecordStore(pool *pgxpool.Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

const sampleSelectCols = `id, symbol, symbol_group, state, transition_path, trigger,
	outcome, r_multiple, holding_minutes, session, scores, closed_at`

// ListClosed returns closed trades for a symbol group, newest first.
func (s *TradeRecordStore) ListClosed(ctx context.Context, symbolGroup string, opts domain.ListOpts) ([]domain.EvolutionSample, error) {
	q := newListQuery(`SELECT `+sampleSelectCols+` FROM trade_records WHERE symbol_group = $1`, symbolGroup)
	q.window("closed_at", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades %s: %w", symbolGroup, err)
	}
	defer rows.Close()

	var out []domain.EvolutionSample
	for rows.Next() {
		smp, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade record: %w", err)
		}
		out = append(out, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list closed trades rows: %w", err)
	}
	return out, nil
}

// ListSymbolGroups returns every group with at least one closed trade.
func (s *TradeRecordStore) ListSymbolGroups(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol_group FROM trade_records ORDER BY symbol_group`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list symbol groups: %w", err)
	}
	groups, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list symbol groups rows: %w", err)
	}
	return groups, nil
}

func scanSample(row pgx.Row) (domain.EvolutionSample, error) {
	var (
		smp              domain.EvolutionSample
		outcome, session string
		scores           []float64
	)
	if err := row.Scan(
		&smp.ID, &smp.Symbol, &smp.SymbolGroup, &smp.State, &smp.TransitionPath, &smp.Trigger,
		&outcome, &smp.RMultiple, &smp.HoldingMinutes, &session, &scores, &smp.ClosedAt,
	); err != nil {
		return domain.EvolutionSample{}, err
	}
	return decodeSample(smp, outcome, session, scores), nil
}

// decodeSample canonicalises the free-form columns of a trade record. Rows
// with an unknown outcome keep an empty outcome and are ignored by the
// calibration engine.
func decodeSample(smp domain.EvolutionSample, outcome, session string, scores []float64) domain.EvolutionSample {
	if o, err := domain.ParseOutcome(outcome); err == nil {
		smp.Outcome = o
	}
	if ph, err := domain.ParseSessionPhase(session); err == nil {
		smp.Session = ph
	}
	smp.TransitionPath = domain.NormalizePath(smp.TransitionPath)
	copy(smp.Scores[:], scores)
	return smp
}

var _ domain.TradeRecordStore = (*TradeRecordStore)(nil)
