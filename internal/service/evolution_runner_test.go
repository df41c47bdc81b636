package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/evolution"
	"github.com/wesso80/marketscannerpros-sub008/internal/params"
)

var evoNow = time.Date(2026, 3, 13, 22, 0, 0, 0, time.UTC)

func makeSamples(group string, n int) []domain.EvolutionSample {
	out := make([]domain.EvolutionSample, n)
	for i := range out {
		outcome := domain.OutcomeWin
		r := 1.8
		scores := domain.SubScores{0.8, 0.7, 0.6, 0.7, 0.5}
		if i%3 == 0 {
			outcome = domain.OutcomeLoss
			r = -1
			scores = domain.SubScores{0.4, 0.5, 0.6, 0.3, 0.5}
		}
		session := domain.SessionOpen
		if i%2 == 0 {
			session = domain.SessionMidday
		}
		out[i] = domain.EvolutionSample{
			ID:             fmt.Sprintf("%s-%d", group, i),
			Symbol:         "SYM",
			SymbolGroup:    group,
			TransitionPath: "COMPRESSION>IGNITION>EXPANSION",
			Trigger:        "BREAKOUT",
			Outcome:        outcome,
			RMultiple:      r,
			HoldingMinutes: 45,
			Session:        session,
			Scores:         scores,
			ClosedAt:       evoNow.Add(-time.Duration(i) * time.Hour),
		}
	}
	return out
}

type evoFixture struct {
	runner   *EvolutionRunner
	trades   *fakeTrades
	store    *fakeEvolution
	registry *params.Registry
	cache    *fakeParamCache
	archiver *fakeArchiver
	bus      *fakeBus
}

func newEvoFixture(trades *fakeTrades, settings EvolutionSettings) *evoFixture {
	f := &evoFixture{
		trades:   trades,
		store:    &fakeEvolution{},
		registry: params.NewRegistry(),
		cache:    &fakeParamCache{},
		archiver: &fakeArchiver{},
		bus:      newFakeBus(),
	}
	if settings.Calibration.Windows == nil {
		settings.Calibration = evolution.DefaultConfig()
	}
	f.runner = NewEvolutionRunner(EvolutionDeps{
		Trades:   f.trades,
		Store:    f.store,
		Registry: f.registry,
		Cache:    f.cache,
		Locks:    &fakeLocks{},
		Archiver: f.archiver,
		Events:   NewEmitter(f.bus, nil, Topics{}, discardLogger()),
	}, settings, discardLogger())
	f.runner.now = func() time.Time { return evoNow }
	return f
}

func TestRunAppliesAndPublishes(t *testing.T) {
	t.Parallel()
	f := newEvoFixture(&fakeTrades{samples: map[string][]domain.EvolutionSample{
		"us-megacap": makeSamples("us-megacap", 60),
		"thin":       makeSamples("thin", 5),
	}}, EvolutionSettings{PageSize: 25})

	report, err := f.runner.Run(context.Background(), domain.CadenceDaily)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Zero(t, report.Failed())

	byGroup := map[string]*domain.EvolutionCycleOutput{}
	for _, r := range report.Results {
		byGroup[r.Group] = r.Cycle
	}

	mega := byGroup["us-megacap"]
	require.NotNil(t, mega)
	assert.True(t, mega.Applied)
	assert.Equal(t, 60, mega.SampleCount)
	assert.Equal(t, int64(1), mega.Parameters.Version)

	thin := byGroup["thin"]
	require.NotNil(t, thin)
	assert.True(t, thin.Skipped)
	assert.False(t, thin.Applied)

	live, ok := f.registry.Get("us-megacap")
	require.True(t, ok)
	assert.Equal(t, mega.ID, live.SourceCycleID)
	_, ok = f.registry.Get("thin")
	assert.False(t, ok)

	assert.Len(t, f.cache.set, 1)
	assert.Len(t, f.store.outputs, 2)
	assert.Equal(t, 2, f.archiver.cycles)
	assert.NotEmpty(t, report.ArchivePath)
	assert.Equal(t, 2, f.bus.count(domain.ChannelCycles))
}

func TestRunChainsPriorVersion(t *testing.T) {
	t.Parallel()
	f := newEvoFixture(&fakeTrades{samples: map[string][]domain.EvolutionSample{
		"fx": makeSamples("fx", 40),
	}}, EvolutionSettings{})
	ctx := context.Background()

	first, err := f.runner.RunGroup(ctx, "fx", domain.CadenceDaily)
	require.NoError(t, err)
	second, err := f.runner.RunGroup(ctx, "fx", domain.CadenceWeekly)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.PriorID)
	assert.Equal(t, first.Parameters.Version+1, second.Parameters.Version)

	latest, err := f.runner.Latest(ctx, "fx")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	hist, err := f.runner.History(ctx, "fx", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestRunIsolatesGroupFailures(t *testing.T) {
	t.Parallel()
	f := newEvoFixture(&fakeTrades{samples: map[string][]domain.EvolutionSample{
		"good": makeSamples("good", 30),
		"bad":  makeSamples("bad", 30),
	}}, EvolutionSettings{})
	f.store.failFor = "bad"

	report, err := f.runner.Run(context.Background(), domain.CadenceDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())

	for _, r := range report.Results {
		switch r.Group {
		case "bad":
			assert.Nil(t, r.Cycle)
			assert.Contains(t, r.Error, "append output")
		case "good":
			assert.NotNil(t, r.Cycle)
		}
	}
	_, ok := f.registry.Get("bad")
	assert.False(t, ok)
	_, ok = f.registry.Get("good")
	assert.True(t, ok)
}

func TestRunGroupTimeoutLeavesPriorIntact(t *testing.T) {
	t.Parallel()
	trades := &fakeTrades{
		samples: map[string][]domain.EvolutionSample{"slow": makeSamples("slow", 30)},
		block:   make(chan struct{}),
	}
	f := newEvoFixture(trades, EvolutionSettings{GroupTimeout: 20 * time.Millisecond})

	_, err := f.runner.RunGroup(context.Background(), "slow", domain.CadenceDaily)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
	assert.Empty(t, f.store.outputs)
	_, ok := f.registry.Get("slow")
	assert.False(t, ok)
}

func TestRunGroupSharesConcurrentCalls(t *testing.T) {
	t.Parallel()
	trades := &fakeTrades{
		samples: map[string][]domain.EvolutionSample{"g": makeSamples("g", 30)},
		block:   make(chan struct{}),
	}
	f := newEvoFixture(trades, EvolutionSettings{})

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.runner.RunGroup(context.Background(), "g", domain.CadenceDaily)
			if err == nil {
				ids[i] = out.ID
			}
		}()
	}
	// Let every caller reach the flight before releasing the store.
	time.Sleep(50 * time.Millisecond)
	close(trades.block)
	wg.Wait()

	assert.Len(t, f.store.outputs, 1)
	for _, id := range ids {
		assert.Equal(t, f.store.outputs[0].ID, id)
	}
}

func TestRunGroupSerialisesCadences(t *testing.T) {
	t.Parallel()
	trades := &fakeTrades{
		samples: map[string][]domain.EvolutionSample{"g": makeSamples("g", 30)},
		block:   make(chan struct{}),
	}
	f := newEvoFixture(trades, EvolutionSettings{})

	var (
		wg            sync.WaitGroup
		daily, weekly domain.EvolutionCycleOutput
		dErr, wErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		daily, dErr = f.runner.RunGroup(context.Background(), "g", domain.CadenceDaily)
	}()
	time.Sleep(30 * time.Millisecond)
	go func() {
		defer wg.Done()
		weekly, wErr = f.runner.RunGroup(context.Background(), "g", domain.CadenceWeekly)
	}()
	time.Sleep(30 * time.Millisecond)
	close(trades.block)
	wg.Wait()

	require.NoError(t, dErr)
	require.NoError(t, wErr)
	assert.Equal(t, domain.CadenceDaily, daily.Cadence)
	assert.Equal(t, domain.CadenceWeekly, weekly.Cadence)
	assert.NotEqual(t, daily.ID, weekly.ID)
	require.Len(t, f.store.outputs, 2)
	// The weekly cycle starts only after the daily one has been stored.
	assert.Equal(t, daily.ID, f.store.outputs[0].ID)
	assert.Equal(t, daily.ID, weekly.PriorID)
}

func TestRefreshPullsParametersPublishedElsewhere(t *testing.T) {
	t.Parallel()
	evolve := newEvoFixture(&fakeTrades{samples: map[string][]domain.EvolutionSample{
		"fx": makeSamples("fx", 40),
	}}, EvolutionSettings{})

	// A serving process shares the store and the cache but has its own
	// registry.
	live := params.NewRegistry()
	serve := NewEvolutionRunner(EvolutionDeps{
		Trades:   &fakeTrades{},
		Store:    evolve.store,
		Registry: live,
		Cache:    evolve.cache,
	}, EvolutionSettings{Groups: []string{"crypto"}, RefreshInterval: 5 * time.Millisecond}, discardLogger())

	out, err := evolve.runner.RunGroup(context.Background(), "fx", domain.CadenceDaily)
	require.NoError(t, err)
	require.True(t, out.Applied)
	_, ok := live.Get("fx")
	require.False(t, ok)

	n, err := serve.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, ok := live.Get("fx")
	require.True(t, ok)
	assert.Equal(t, out.Parameters.Version, got.Version)
	assert.Equal(t, out.ID, got.SourceCycleID)

	n, err = serve.Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "same version is not republished")

	// An older mirrored version never rolls the live set back.
	old := domain.DefaultParameterSet("fx")
	old.Version = 0
	old.ArmedThreshold = 0.6
	evolve.cache.set = append(evolve.cache.set, old)
	n, err = serve.Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	got, _ = live.Get("fx")
	assert.Equal(t, out.Parameters.ArmedThreshold, got.ArmedThreshold)

	// Configured groups are pulled even before they have stored cycles.
	crypto := domain.DefaultParameterSet("crypto")
	crypto.Version = 4
	evolve.cache.mu.Lock()
	evolve.cache.set = append(evolve.cache.set, crypto)
	evolve.cache.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve.Watch(ctx) }()
	assert.Eventually(t, func() bool {
		p, ok := live.Get("crypto")
		return ok && p.Version == 4
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRefreshSkipsCacheFailures(t *testing.T) {
	t.Parallel()
	f := newEvoFixture(&fakeTrades{}, EvolutionSettings{Groups: []string{"fx"}})
	f.cache.err = errors.New("redis down")

	n, err := f.runner.Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok := f.registry.Get("fx")
	assert.False(t, ok)
}

func TestHydratePublishesLatest(t *testing.T) {
	t.Parallel()
	f := newEvoFixture(&fakeTrades{}, EvolutionSettings{})
	p := domain.DefaultParameterSet("crypto")
	p.Version = 7
	f.store.outputs = []domain.EvolutionCycleOutput{
		{ID: "c7", SymbolGroup: "crypto", Applied: true, Parameters: p},
		{ID: "s1", SymbolGroup: "idle", Skipped: true, Parameters: domain.DefaultParameterSet("idle")},
	}

	n, err := f.runner.Hydrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := f.runner.Parameters("crypto")
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Version)
	_, ok = f.runner.Parameters("idle")
	assert.False(t, ok)
}

func TestRunRejectsUnknownCadence(t *testing.T) {
	t.Parallel()
	f := newEvoFixture(&fakeTrades{}, EvolutionSettings{})
	_, err := f.runner.Run(context.Background(), "HOURLY")
	assert.Error(t, err)
}
