package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeRecordStore reads closed-trade history for calibration.
type TradeRecordStore interface {
	// ListClosed returns closed trades for a symbol group, newest first.
	ListClosed(ctx context.Context, symbolGroup string, opts ListOpts) ([]EvolutionSample, error)
	ListSymbolGroups(ctx context.Context) ([]string, error)
}

// EvolutionStore persists cycle outputs. Records are append-only.
type EvolutionStore interface {
	Append(ctx context.Context, out EvolutionCycleOutput) error
	// Latest returns the most recent applied output for a group.
	Latest(ctx context.Context, symbolGroup string) (EvolutionCycleOutput, error)
	History(ctx context.Context, symbolGroup string, opts ListOpts) ([]EvolutionCycleOutput, error)
	ListGroups(ctx context.Context) ([]string, error)
}

// PositionStore persists paper positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpen(ctx context.Context) ([]Position, error)
	UpdateExcursion(ctx context.Context, id string, maxFavorableR float64) error
	Close(ctx context.Context, id string, exitPrice float64, at time.Time) error
}

// VerdictStore persists exit verdicts.
type VerdictStore interface {
	Append(ctx context.Context, v StoredVerdict) error
	Latest(ctx context.Context, positionID string) (StoredVerdict, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]StoredVerdict, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AccountStateStore derives the account state from trade records.
type AccountStateStore interface {
	Get(ctx context.Context, accountID string, now time.Time) (AccountState, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
