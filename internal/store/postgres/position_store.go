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

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, account_id, symbol, symbol_group, asset_class, direction,
	strategy_tag, entry_price, stop_price, thesis_invalidation_price, target_prices,
	quantity, risk_usd, edge_score_at_entry, expected_window_ms, status,
	max_favorable_r, opened_at, closed_at, exit_price`

// positionRow mirrors the column layout; enum columns are decoded after scan.
type positionRow struct {
	p                                  domain.Position
	assetClass, direction, tag, status string
	windowMS                           int64
}

func (r *positionRow) dest() []any {
	p := &r.p
	return []any{
		&p.ID, &p.AccountID, &p.Symbol, &p.SymbolGroup, &r.assetClass, &r.direction,
		&r.tag, &p.EntryPrice, &p.StopPrice, &p.ThesisInvalidationPrice, &p.TargetPrices,
		&p.Quantity, &p.RiskUSD, &p.EdgeScoreAtEntry, &r.windowMS, &r.status,
		&p.MaxFavorableR, &p.OpenedAt, &p.ClosedAt, &p.ExitPrice,
	}
}

func (r *positionRow) decode() (domain.Position, error) {
	p := r.p
	ac, err := domain.ParseAssetClass(r.assetClass)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position %s: %w", p.ID, err)
	}
	dir, err := domain.ParseDirection(r.direction)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position %s: %w", p.ID, err)
	}
	p.AssetClass = ac
	p.Direction = dir
	p.StrategyTag = domain.ParseStrategyTag(r.tag)
	p.Status = domain.TradeStatus(r.status)
	p.ExpectedWindow = time.Duration(r.windowMS) * time.Millisecond
	return p, nil
}

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var r positionRow
	if err := row.Scan(r.dest()...); err != nil {
		return domain.Position{}, err
	}
	return r.decode()
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new open position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, account_id, symbol, symbol_group, asset_class, direction,
			strategy_tag, entry_price, stop_price, thesis_invalidation_price, target_prices,
			quantity, risk_usd, edge_score_at_entry, expected_window_ms, status,
			max_favorable_r, opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, 'OPEN',
			0, $16, NOW()
		)
		ON CONFLICT (id) DO NOTHING`

	targets := p.TargetPrices
	if targets == nil {
		targets = []float64{}
	}
	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.AccountID, p.Symbol, p.SymbolGroup, string(p.AssetClass), string(p.Direction),
		string(p.StrategyTag), p.EntryPrice, p.StopPrice, p.ThesisInvalidationPrice, targets,
		p.Quantity, p.RiskUSD, p.EdgeScoreAtEntry, p.ExpectedWindow.Milliseconds(),
		p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpen returns every open position, oldest first.
func (s *PositionStore) GetOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'OPEN'
		 ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// UpdateExcursion raises max_favorable_r; a lower value is ignored.
func (s *PositionStore) UpdateExcursion(ctx context.Context, id string, maxFavorableR float64) error {
	const query = `
		UPDATE positions SET
			max_favorable_r = GREATEST(max_favorable_r, $2),
			updated_at      = NOW()
		WHERE id = $1 AND status = 'OPEN'`

	tag, err := s.pool.Exec(ctx, query, id, maxFavorableR)
	if err != nil {
		return fmt.Errorf("postgres: update excursion %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close marks an open position as closed at exitPrice.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice float64, at time.Time) error {
	const query = `
		UPDATE positions SET
			status     = 'CLOSED',
			exit_price = $2,
			closed_at  = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = 'OPEN'`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, at)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
