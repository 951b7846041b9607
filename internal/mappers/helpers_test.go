package mappers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathan/ats-sync/internal/db/memdb"
	"github.com/jonathan/ats-sync/internal/events"
	"github.com/jonathan/ats-sync/internal/jsonapi"
	"github.com/jonathan/ats-sync/internal/teamtailor"
)

// fakeFetcher serves canned documents keyed by path plus any filter[...]
// parameter. Unknown keys answer 404.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]string
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string][]string), calls: make(map[string]int)}
}

func (f *fakeFetcher) on(key string, pages ...string) *fakeFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[key] = pages
	return f
}

func (f *fakeFetcher) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func fetchKey(path string, params url.Values) string {
	for k, v := range params {
		if strings.HasPrefix(k, "filter[") && len(v) > 0 {
			return path + "?" + k + "=" + v[0]
		}
	}
	return path
}

func (f *fakeFetcher) lookup(path string, params url.Values) ([]string, error) {
	key := fetchKey(path, params)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	pages, ok := f.pages[key]
	if !ok {
		return nil, &teamtailor.APIError{Method: http.MethodGet, URL: key, StatusCode: http.StatusNotFound}
	}
	return pages, nil
}

func (f *fakeFetcher) Get(_ context.Context, path string, params url.Values) (*jsonapi.Document, error) {
	pages, err := f.lookup(path, params)
	if err != nil {
		return nil, err
	}
	return jsonapi.Decode([]byte(pages[0]))
}

func (f *fakeFetcher) Paginate(_ context.Context, path string, params url.Values, visit jsonapi.Visitor) error {
	pages, err := f.lookup(path, params)
	if err != nil {
		return err
	}
	for _, p := range pages {
		doc, err := jsonapi.Decode([]byte(p))
		if err != nil {
			return err
		}
		step, err := visit(doc)
		if err != nil || step == jsonapi.Stop {
			return err
		}
	}
	return nil
}

var testNow = time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

func newTestMapper(t *testing.T, f Fetcher) (*Mapper, *memdb.Store, *events.Recorder) {
	t.Helper()
	store := memdb.New()
	store.Now = func() time.Time { return testNow }
	rec := &events.Recorder{}
	if f == nil {
		f = newFakeFetcher()
	}
	m := New(store, f, WithPublisher(rec), WithClock(func() time.Time { return testNow }))
	return m, store, rec
}

func mustDoc(t *testing.T, body string) *jsonapi.Document {
	t.Helper()
	doc, err := jsonapi.Decode([]byte(body))
	require.NoError(t, err)
	return doc
}

func mustResource(t *testing.T, body string) *jsonapi.Resource {
	t.Helper()
	doc := mustDoc(t, `{"data":`+body+`}`)
	require.NotNil(t, doc.Data.One)
	return doc.Data.One
}
