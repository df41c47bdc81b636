package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// EvolutionStore implements domain.EvolutionStore using PostgreSQL. Rows are
// never updated once written.
type EvolutionStore struct {
	pool *pgxpool.Pool
}

// NewEvolutionStore creates a new EvolutionStore backed by the given pool.
func NewEvolutionStore(pool *pgxpool.Pool) *EvolutionStore {
	return &EvolutionStore{pool: pool}
}

const cycleSelectCols = `id, prior_id, symbol_group, cadence, created_at, applied, skipped,
	skip_reason, sample_count, confidence, parameters, changes, metrics`

// Append stores a cycle output. A duplicate ID is reported as
// domain.ErrAlreadyExists.
func (s *EvolutionStore) Append(ctx context.Context, out domain.EvolutionCycleOutput) error {
	params, changes, metrics, err := encodeCycle(out)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO evolution_cycles (
			id, prior_id, symbol_group, cadence, created_at, applied, skipped,
			skip_reason, sample_count, confidence, version, parameters, changes, metrics
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		out.ID, out.PriorID, out.SymbolGroup, string(out.Cadence), out.CreatedAt,
		out.Applied, out.Skipped, out.SkipReason, out.SampleCount, out.Confidence,
		out.Parameters.Version, params, changes, metrics,
	)
	if err != nil {
		return fmt.Errorf("postgres: append evolution cycle %s: %w", out.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: append evolution cycle %s: %w", out.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Latest returns the most recent applied cycle for a group.
func (s *EvolutionStore) Latest(ctx context.Context, symbolGroup string) (domain.EvolutionCycleOutput, error) {
	query := `SELECT ` + cycleSelectCols + ` FROM evolution_cycles
		WHERE symbol_group = $1 AND applied
		ORDER BY version DESC, created_at DESC LIMIT 1`
	out, err := scanCycle(s.pool.QueryRow(ctx, query, symbolGroup))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EvolutionCycleOutput{}, fmt.Errorf("postgres: latest cycle %s: %w", symbolGroup, domain.ErrNotFound)
		}
		return domain.EvolutionCycleOutput{}, fmt.Errorf("postgres: latest cycle %s: %w", symbolGroup, err)
	}
	return out, nil
}

// History lists every cycle for a group, applied or not, newest first.
func (s *EvolutionStore) History(ctx context.Context, symbolGroup string, opts domain.ListOpts) ([]domain.EvolutionCycleOutput, error) {
	q := newListQuery(`SELECT `+cycleSelectCols+` FROM evolution_cycles WHERE symbol_group = $1`, symbolGroup)
	q.window("created_at", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: cycle history %s: %w", symbolGroup, err)
	}
	defer rows.Close()

	var outs []domain.EvolutionCycleOutput
	for rows.Next() {
		out, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan evolution cycle: %w", err)
		}
		outs = append(outs, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: cycle history rows: %w", err)
	}
	return outs, nil
}

// ListGroups returns every group with at least one recorded cycle.
func (s *EvolutionStore) ListGroups(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol_group FROM evolution_cycles ORDER BY symbol_group`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list evolution groups: %w", err)
	}
	groups, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list evolution groups rows: %w", err)
	}
	return groups, nil
}

func encodeCycle(out domain.EvolutionCycleOutput) (params, changes, metrics []byte, err error) {
	if params, err = json.Marshal(out.Parameters); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal parameters: %w", err)
	}
	ch := out.Changes
	if ch == nil {
		ch = []domain.ParameterChange{}
	}
	if changes, err = json.Marshal(ch); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal changes: %w", err)
	}
	if metrics, err = json.Marshal(out.Metrics); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal metrics: %w", err)
	}
	return params, changes, metrics, nil
}

func scanCycle(row pgx.Row) (domain.EvolutionCycleOutput, error) {
	var (
		out                      domain.EvolutionCycleOutput
		cadence                  string
		params, changes, metrics []byte
	)
	if err := row.Scan(
		&out.ID, &out.PriorID, &out.SymbolGroup, &cadence, &out.CreatedAt, &out.Applied, &out.Skipped,
		&out.SkipReason, &out.SampleCount, &out.Confidence, &params, &changes, &metrics,
	); err != nil {
		return domain.EvolutionCycleOutput{}, err
	}
	if err := decodeCycle(&out, cadence, params, changes, metrics); err != nil {
		return domain.EvolutionCycleOutput{}, err
	}
	return out, nil
}

func decodeCycle(out *domain.EvolutionCycleOutput, cadence string, params, changes, metrics []byte) error {
	c, err := domain.ParseCadence(cadence)
	if err != nil {
		return fmt.Errorf("postgres: cycle %s: %w", out.ID, err)
	}
	out.Cadence = c
	if err := json.Unmarshal(params, &out.Parameters); err != nil {
		return fmt.Errorf("postgres: unmarshal parameters: %w", err)
	}
	if out.Parameters.TriggerSensitivities == nil {
		out.Parameters.TriggerSensitivities = map[string]float64{}
	}
	if err := json.Unmarshal(changes, &out.Changes); err != nil {
		return fmt.Errorf("postgres: unmarshal changes: %w", err)
	}
	if out.Changes == nil {
		out.Changes = []domain.ParameterChange{}
	}
	if err := json.Unmarshal(metrics, &out.Metrics); err != nil {
		return fmt.Errorf("postgres: unmarshal metrics: %w", err)
	}
	return nil
}

var _ domain.EvolutionStore = (*EvolutionStore)(nil)
