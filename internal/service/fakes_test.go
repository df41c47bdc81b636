package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAccounts struct {
	state domain.AccountState
	err   error
}

func (f *fakeAccounts) Get(_ context.Context, id string, now time.Time) (domain.AccountState, error) {
	if f.err != nil {
		return domain.AccountState{}, f.err
	}
	st := f.state
	st.AccountID = id
	st.AsOf = now
	return st, nil
}

type fakeMarket struct {
	mu        sync.Mutex
	quotes    map[string]domain.MarketQuote
	health    domain.ProviderHealth
	healthErr error
}

func (f *fakeMarket) Quote(_ context.Context, symbol string) (domain.MarketQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[symbol]
	if !ok {
		return domain.MarketQuote{}, domain.ErrNotFound
	}
	if q.ATR.Missing() {
		return q, domain.ErrNoVolatilityData
	}
	return q, nil
}

func (f *fakeMarket) setPrice(symbol string, price float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.quotes[symbol]
	q.Price = price
	q.AsOf = at
	f.quotes[symbol] = q
}

func (f *fakeMarket) Health(context.Context) (domain.ProviderHealth, error) {
	return f.health, f.healthErr
}

type fakeRegimes map[string]domain.RegimeReading

func (f fakeRegimes) Reading(_ context.Context, symbol string) (domain.RegimeReading, error) {
	r, ok := f[symbol]
	if !ok {
		return domain.RegimeReading{}, domain.ErrNotFound
	}
	return r, nil
}

type fakeSnapshots struct {
	mu   sync.Mutex
	m    map[string]domain.PermissionSnapshot
	sets int
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{m: map[string]domain.PermissionSnapshot{}}
}

func (f *fakeSnapshots) Get(_ context.Context, key string) (domain.PermissionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.m[key]
	if !ok {
		return domain.PermissionSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeSnapshots) Set(_ context.Context, key string, snap domain.PermissionSnapshot, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[key] = snap
	f.sets++
	return nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAudit) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

type fakeBus struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func newFakeBus() *fakeBus { return &fakeBus{sent: map[string][][]byte{}} }

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[channel] = append(f.sent[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (f *fakeBus) Recent(context.Context, string, int) ([][]byte, error) { return nil, nil }

func (f *fakeBus) count(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[channel])
}

type fakePositions struct {
	mu sync.Mutex
	m  map[string]domain.Position
}

func newFakePositions(ps ...domain.Position) *fakePositions {
	f := &fakePositions{m: map[string]domain.Position{}}
	for _, p := range ps {
		f.m[p.ID] = p
	}
	return f
}

func (f *fakePositions) Create(_ context.Context, p domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.m[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	f.m[p.ID] = p
	return nil
}

func (f *fakePositions) GetByID(_ context.Context, id string) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.m[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePositions) GetOpen(context.Context) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for _, p := range f.m {
		if p.Status == domain.TradeOpen {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (f *fakePositions) UpdateExcursion(_ context.Context, id string, r float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r > p.MaxFavorableR {
		p.MaxFavorableR = r
	}
	f.m[id] = p
	return nil
}

func (f *fakePositions) Close(_ context.Context, id string, exitPrice float64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.m[id]
	if !ok || p.Status != domain.TradeOpen {
		return domain.ErrNotFound
	}
	p.Status = domain.TradeClosed
	p.ExitPrice = &exitPrice
	p.ClosedAt = &at
	f.m[id] = p
	return nil
}

type fakeVerdicts struct {
	mu   sync.Mutex
	rows []domain.StoredVerdict
}

func (f *fakeVerdicts) Append(_ context.Context, v domain.StoredVerdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, v)
	return nil
}

func (f *fakeVerdicts) Latest(_ context.Context, positionID string) (domain.StoredVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].PositionID == positionID {
			return f.rows[i], nil
		}
	}
	return domain.StoredVerdict{}, domain.ErrNotFound
}

func (f *fakeVerdicts) ListBefore(context.Context, time.Time, int) ([]domain.StoredVerdict, error) {
	return nil, nil
}

func (f *fakeVerdicts) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeTrades struct {
	samples map[string][]domain.EvolutionSample
	calls   int
	block   chan struct{}
	mu      sync.Mutex
}

func (f *fakeTrades) ListClosed(ctx context.Context, group string, opts domain.ListOpts) ([]domain.EvolutionSample, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	all := f.samples[group]
	if opts.Offset >= len(all) {
		return nil, nil
	}
	end := min(opts.Offset+opts.Limit, len(all))
	return all[opts.Offset:end], nil
}

func (f *fakeTrades) ListSymbolGroups(context.Context) ([]string, error) {
	out := make([]string, 0, len(f.samples))
	for g := range f.samples {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

type fakeEvolution struct {
	mu      sync.Mutex
	outputs []domain.EvolutionCycleOutput
	failFor string
}

func (f *fakeEvolution) Append(_ context.Context, out domain.EvolutionCycleOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if out.SymbolGroup == f.failFor {
		return domain.ErrDataUnavailable
	}
	f.outputs = append(f.outputs, out)
	return nil
}

func (f *fakeEvolution) Latest(_ context.Context, group string) (domain.EvolutionCycleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.outputs) - 1; i >= 0; i-- {
		if o := f.outputs[i]; o.SymbolGroup == group && o.Applied {
			return o, nil
		}
	}
	return domain.EvolutionCycleOutput{}, domain.ErrNotFound
}

func (f *fakeEvolution) History(_ context.Context, group string, _ domain.ListOpts) ([]domain.EvolutionCycleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.EvolutionCycleOutput
	for i := len(f.outputs) - 1; i >= 0; i-- {
		if f.outputs[i].SymbolGroup == group {
			out = append(out, f.outputs[i])
		}
	}
	return out, nil
}

func (f *fakeEvolution) ListGroups(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, o := range f.outputs {
		if !seen[o.SymbolGroup] {
			seen[o.SymbolGroup] = true
			out = append(out, o.SymbolGroup)
		}
	}
	return out, nil
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = map[string]bool{}
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

type fakeParamCache struct {
	mu  sync.Mutex
	set []domain.ParameterSet
	err error
}

func (f *fakeParamCache) Get(_ context.Context, group string) (domain.ParameterSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ParameterSet{}, f.err
	}
	for i := len(f.set) - 1; i >= 0; i-- {
		if f.set[i].SymbolGroup == group {
			return f.set[i].Clone(), nil
		}
	}
	return domain.ParameterSet{}, domain.ErrNotFound
}

func (f *fakeParamCache) Set(_ context.Context, p domain.ParameterSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = append(f.set, p)
	return nil
}

type fakeArchiver struct {
	mu     sync.Mutex
	cycles int
}

func (f *fakeArchiver) ArchiveCycles(_ context.Context, outs []domain.EvolutionCycleOutput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles += len(outs)
	return "archive/evolution/2026-03/part-0001.jsonl", nil
}

func (f *fakeArchiver) ArchiveVerdicts(context.Context, time.Time) (int64, error) { return 0, nil }
