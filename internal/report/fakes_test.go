package report

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emandor/labscan_service/internal/extract"
	"github.com/emandor/labscan_service/internal/img"
	"github.com/emandor/labscan_service/internal/model"
	"github.com/emandor/labscan_service/internal/pdf"
	"github.com/emandor/labscan_service/internal/providers"
	"github.com/emandor/labscan_service/internal/quota"
	"github.com/emandor/labscan_service/internal/ws"
)

type memStore struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]Report
	history map[int64][]State
	quotas  map[int64]*quota.UserQuota
	failOn  State
}

func newMemStore() *memStore {
	return &memStore{
		rows:    map[int64]Report{},
		history: map[int64][]State{},
		quotas:  map[int64]*quota.UserQuota{},
	}
}

func (m *memStore) Create(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == r.State {
		return fmt.Errorf("db down")
	}
	m.nextID++
	r.ID = m.nextID
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.rows[r.ID] = *r
	m.history[r.ID] = append(m.history[r.ID], r.State)
	return nil
}

func (m *memStore) Update(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == r.State {
		return fmt.Errorf("db down")
	}
	r.UpdatedAt = time.Now()
	m.rows[r.ID] = *r
	m.history[r.ID] = append(m.history[r.ID], r.State)
	return nil
}

func (m *memStore) Get(_ context.Context, userID, id int64) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.UserID != userID {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *memStore) ListByUser(_ context.Context, userID int64, limit int) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Report{}
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Quota(_ context.Context, userID int64) (quota.UserQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.quotas[userID]; ok {
		return *q, nil
	}
	return quota.UserQuota{ReportQuota: 20}, nil
}

func (m *memStore) IncrementUsed(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[userID]
	if !ok {
		q = &quota.UserQuota{ReportQuota: 20}
		m.quotas[userID] = q
	}
	return q.IncrementUsed()
}

type fakeCache struct {
	mu    sync.Mutex
	texts map[string]string
	locks map[string]bool
	sets  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{texts: map[string]string{}, locks: map[string]bool{}}
}

func (f *fakeCache) GetText(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.texts[key]
	return v, ok, nil
}

func (f *fakeCache) SetText(_ context.Context, key, text string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[key] = text
	f.sets++
	return nil
}

func (f *fakeCache) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[key] {
		return false, nil
	}
	f.locks[key] = true
	return true, nil
}

func (f *fakeCache) Unlock(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, key)
	return nil
}

type published struct {
	room  string
	event ws.Event
	data  StateEvent
}

type recNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recNotifier) Publish(room string, event ws.Event, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{room: room, event: event, data: data.(StateEvent)})
}

func (n *recNotifier) states() []State {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]State, len(n.events))
	for i, e := range n.events {
		out[i] = e.data.State
	}
	return out
}

// pageEngine answers with fixed lines per page number, or lines for any page.
type pageEngine struct {
	mu     sync.Mutex
	byPage map[int][]string
	lines  []string
	calls  []int
}

func (e *pageEngine) Name() string { return "fake" }

func (e *pageEngine) Lines(_ context.Context, page model.PageImage) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, page.Number)
	if l, ok := e.byPage[page.Number]; ok {
		return l, nil
	}
	return e.lines, nil
}

type fakeDiagnosis struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
}

func (d *fakeDiagnosis) Name() providers.SourceName { return providers.SourceGemini }

func (d *fakeDiagnosis) Diagnose(_ context.Context, prompt string) (providers.Diagnosis, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prompts = append(d.prompts, prompt)
	if d.err != nil {
		return providers.Diagnosis{}, d.err
	}
	return providers.Diagnosis{Source: providers.SourceGemini, Text: d.text, LatencyMs: 12}, nil
}

type fixture struct {
	store  *memStore
	cache  *fakeCache
	notify *recNotifier
	engine *pageEngine
	diag   *fakeDiagnosis
	svc    *Service
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		store:  newMemStore(),
		cache:  newFakeCache(),
		notify: &recNotifier{},
		engine: &pageEngine{},
		diag:   &fakeDiagnosis{text: "## Disease / Condition\nMild anemia.\n"},
	}
	pipe := extract.New(extract.PDF(pdf.NewRasterizer(pdf.DefaultDPI)), f.engine, img.Options{})
	f.svc = NewService(f.store, f.cache, pipe, f.diag, f.notify, opts)
	return f
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	m := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, m))
	return buf.Bytes()
}
