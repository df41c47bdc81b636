package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// VerdictStore implements domain.VerdictStore using PostgreSQL.
type VerdictStore struct {
	pool *pgxpool.Pool
}

// NewVerdictStore creates a new VerdictStore backed by the given pool.
func NewVerdictStore(pool *pgxpool.Pool) *VerdictStore {
	return &VerdictStore{pool: pool}
}

const verdictSelectCols = `id, position_id, action, reason, detail, score,
	time_elapsed_pct, channels, mark_price, unrealized_r, evaluated_at`

// Append stores a verdict.
func (s *VerdictStore) Append(ctx context.Context, v domain.StoredVerdict) error {
	channels, err := json.Marshal(v.Verdict.Channels)
	if err != nil {
		return fmt.Errorf("postgres: marshal channels: %w", err)
	}

	const query = `
		INSERT INTO exit_verdicts (
			id, position_id, action, reason, detail, score,
			time_elapsed_pct, channels, mark_price, unrealized_r, evaluated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = s.pool.Exec(ctx, query,
		v.ID, v.PositionID, string(v.Verdict.Action), v.Verdict.Reason, v.Verdict.Detail,
		v.Verdict.Score, v.Verdict.TimeElapsedPct, channels, v.MarkPrice, v.UnrealizedR,
		v.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append verdict %s: %w", v.PositionID, err)
	}
	return nil
}

// Latest returns the newest verdict for a position.
func (s *VerdictStore) Latest(ctx context.Context, positionID string) (domain.StoredVerdict, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+verdictSelectCols+` FROM exit_verdicts
		 WHERE position_id = $1 ORDER BY evaluated_at DESC LIMIT 1`, positionID)
	v, err := scanVerdict(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StoredVerdict{}, domain.ErrNotFound
		}
		return domain.StoredVerdict{}, fmt.Errorf("postgres: latest verdict %s: %w", positionID, err)
	}
	return v, nil
}

// ListBefore returns up to limit verdicts evaluated before the cutoff, oldest
// first. It feeds the archiver.
func (s *VerdictStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.StoredVerdict, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+verdictSelectCols+` FROM exit_verdicts
		 WHERE evaluated_at < $1 ORDER BY evaluated_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list verdicts: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredVerdict
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan verdict: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list verdicts rows: %w", err)
	}
	return out, nil
}

// DeleteBefore removes verdicts evaluated before the cutoff.
func (s *VerdictStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM exit_verdicts WHERE evaluated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete verdicts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanVerdict(row pgx.Row) (domain.StoredVerdict, error) {
	var (
		v        domain.StoredVerdict
		action   string
		channels []byte
	)
	if err := row.Scan(
		&v.ID, &v.PositionID, &action, &v.Verdict.Reason, &v.Verdict.Detail, &v.Verdict.Score,
		&v.Verdict.TimeElapsedPct, &channels, &v.MarkPrice, &v.UnrealizedR, &v.EvaluatedAt,
	); err != nil {
		return domain.StoredVerdict{}, err
	}
	v.Verdict.Action = domain.ExitAction(action)
	if err := json.Unmarshal(channels, &v.Verdict.Channels); err != nil {
		return domain.StoredVerdict{}, fmt.Errorf("unmarshal channels: %w", err)
	}
	return v, nil
}

var _ domain.VerdictStore = (*VerdictStore)(nil)
