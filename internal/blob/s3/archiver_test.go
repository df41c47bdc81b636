package s3blob

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

type memBlobs struct {
	mu        sync.Mutex
	objects   map[string]string
	multipart int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string]string{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = string(b)
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multipart++
	m.mu.Unlock()
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memVerdicts struct {
	rows []domain.StoredVerdict // oldest first
}

func (m *memVerdicts) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.StoredVerdict, error) {
	var out []domain.StoredVerdict
	for _, v := range m.rows {
		if v.EvaluatedAt.Before(before) && len(out) < limit {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memVerdicts) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	kept := m.rows[:0]
	var n int64
	for _, v := range m.rows {
		if v.EvaluatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, v)
	}
	m.rows = kept
	return n, nil
}

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func newTestArchiver(v *memVerdicts) (*ArchiveImpl, *memBlobs, *memAudit) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	return NewArchiver(blobs, blobs, v, audit, slog.New(slog.NewTextHandler(io.Discard, nil))), blobs, audit
}

func TestArchiveCyclesWritesNewPart(t *testing.T) {
	t.Parallel()

	a, blobs, audit := newTestArchiver(&memVerdicts{})
	created := time.Date(2026, 3, 6, 22, 0, 0, 0, time.UTC)
	outs := []domain.EvolutionCycleOutput{
		{ID: "c1", SymbolGroup: "fx", Cadence: domain.CadenceWeekly, CreatedAt: created},
		{ID: "c2", SymbolGroup: "crypto", Cadence: domain.CadenceWeekly, CreatedAt: created},
	}

	path, err := a.ArchiveCycles(context.Background(), outs)
	require.NoError(t, err)
	assert.Equal(t, "archive/evolution_cycles/2026-03/part-0000.jsonl", path)
	assert.Equal(t, 2, strings.Count(blobs.objects[path], "\n"))

	// A second run never overwrites the first part.
	path2, err := a.ArchiveCycles(context.Background(), outs[:1])
	require.NoError(t, err)
	assert.Equal(t, "archive/evolution_cycles/2026-03/part-0001.jsonl", path2)
	assert.Equal(t, []string{"archive.evolution_cycles", "archive.evolution_cycles"}, audit.events)

	empty, err := a.ArchiveCycles(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestArchiveVerdictsMovesOldRows(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	v := &memVerdicts{}
	for i := 0; i < 5; i++ {
		v.rows = append(v.rows, domain.StoredVerdict{
			ID:          "v" + string(rune('a'+i)),
			PositionID:  "p1",
			Verdict:     domain.ExitVerdict{Action: domain.ExitHold},
			EvaluatedAt: base.Add(time.Duration(i) * 24 * time.Hour),
		})
	}
	a, blobs, _ := newTestArchiver(v)

	n, err := a.ArchiveVerdicts(context.Background(), base.Add(3*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Len(t, v.rows, 2)

	body := blobs.objects["archive/exit_verdicts/2026-01/part-0000.jsonl"]
	assert.Equal(t, 3, strings.Count(body, "\n"))
	assert.Contains(t, body, `"exit_action":"HOLD"`)
	assert.Zero(t, blobs.multipart)

	n, err = a.ArchiveVerdicts(context.Background(), base)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchivePrefix(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 2, 1, 1, 0, 0, 0, time.FixedZone("x", 5*3600))
	assert.Equal(t, "archive/exit_verdicts/2026-01/", archivePrefix("exit_verdicts", ts))
	assert.Equal(t, "p/part-0012.jsonl", partPath("p/", 12))
}
