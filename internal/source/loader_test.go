package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/kueccha/poimap/internal/fetcher"
	"github.com/kueccha/poimap/internal/kvstore"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("POIs")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, v := range rowData {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "pois.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func testFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, BackoffBase: time.Millisecond})
}

func TestLoader_LocalFilesInOrder(t *testing.T) {
	csvPath := writeFile(t, "a.csv", "id,name,category\nc1,Castle,history\n")
	jsonPath := writeFile(t, "b.json", `[{"id":"j1","name":"Gallery","district":5}]`)
	xlsxPath := writeXLSX(t, [][]string{{"id", "name"}, {"x1", "Market"}})

	pois, err := NewLoader().Load(context.Background(), csvPath, jsonPath, xlsxPath)
	require.NoError(t, err)
	require.Len(t, pois, 3)
	assert.Equal(t, "c1", pois[0].ID)
	assert.Equal(t, "j1", pois[1].ID)
	assert.Equal(t, "5", string(pois[1].District))
	assert.Equal(t, "x1", pois[2].ID)
}

func TestLoader_DuplicateAcrossLocationsKeepsFirst(t *testing.T) {
	a := writeFile(t, "a.csv", "id,name\n1,first\n")
	b := writeFile(t, "b.csv", "id,name\n1,second\n2,other\n")

	pois, err := NewLoader().Load(context.Background(), a, b)
	require.NoError(t, err)
	require.Len(t, pois, 2)
	assert.Equal(t, "first", pois[0].Name)
}

func TestLoader_SkipsInvalidRows(t *testing.T) {
	path := writeFile(t, "a.csv", "id,name\n1,ok\n,missing id\n")

	pois, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, pois, 1)
}

func TestLoader_MissingFileFails(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestLoader_UnsupportedExtension(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), writeFile(t, "a.txt", "id,name\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported source file")
}

func TestLoader_URLWithCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("id,name,district\n1,Remote,9\n"))
	}))
	defer srv.Close()

	clock := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	store := kvstore.New(kvstore.NewMemory(), kvstore.NewMemory(), kvstore.WithClock(func() time.Time { return clock }))
	l := NewLoader(WithFetcher(testFetcher()), WithCache(store, time.Hour))
	url := srv.URL + "/pub?output=csv"
	ctx := context.Background()

	pois, err := l.Load(ctx, url)
	require.NoError(t, err)
	require.Len(t, pois, 1)
	assert.Equal(t, "Remote", pois[0].Name)
	assert.True(t, store.Has(ctx, "source:"+url))

	pois, err = l.Load(ctx, url)
	require.NoError(t, err)
	require.Len(t, pois, 1)
	assert.Equal(t, "9", string(pois[0].District))
	assert.Equal(t, int32(1), calls.Load())

	clock = clock.Add(2 * time.Hour)
	_, err = l.Load(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoader_URLRevalidatesWithETag(t *testing.T) {
	var calls, full atomic.Int32
	var version atomic.Value
	version.Store("v1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		etag := `"` + version.Load().(string) + `"`
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		full.Add(1)
		w.Header().Set("ETag", etag)
		w.Write([]byte("id,name\n1,Remote " + version.Load().(string) + "\n"))
	}))
	defer srv.Close()

	clock := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	store := kvstore.New(kvstore.NewMemory(), nil, kvstore.WithClock(func() time.Time { return clock }))
	l := NewLoader(WithFetcher(testFetcher()), WithCache(store, time.Hour))
	url := srv.URL + "/pois.csv"
	ctx := context.Background()

	load := func() string {
		t.Helper()
		pois, err := l.Load(ctx, url)
		require.NoError(t, err)
		require.Len(t, pois, 1)
		return pois[0].Name
	}

	assert.Equal(t, "Remote v1", load())
	assert.Equal(t, "Remote v1", load())
	assert.Equal(t, int32(1), calls.Load())

	clock = clock.Add(2 * time.Hour)
	assert.Equal(t, "Remote v1", load())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), full.Load(), "expired entry is revalidated, not refetched")

	assert.Equal(t, "Remote v1", load())
	assert.Equal(t, int32(2), calls.Load(), "a 304 refreshes the entry")

	version.Store("v2")
	clock = clock.Add(2 * time.Hour)
	assert.Equal(t, "Remote v2", load())
	assert.Equal(t, int32(2), full.Load())
}

func TestLoader_CacheWriteFailureStillLoads(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("id,name\n1,Remote\n"))
	}))
	defer srv.Close()

	l := NewLoader(WithFetcher(testFetcher()), WithCache(kvstore.New(kvstore.Disabled(), nil), time.Hour))
	for range 2 {
		pois, err := l.Load(context.Background(), srv.URL+"/pois.csv")
		require.NoError(t, err)
		require.Len(t, pois, 1)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoader_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("id,name\n" + r.URL.Path[1:] + ",n\n"))
	}))
	defer srv.Close()

	l := NewLoader(WithFetcher(testFetcher()), WithConcurrency(1))
	assert.Equal(t, 1, l.concurrency)

	pois, err := l.Load(context.Background(), srv.URL+"/a", srv.URL+"/b", srv.URL+"/c")
	require.NoError(t, err)
	require.Len(t, pois, 3)
	assert.Equal(t, "a", pois[0].ID)
	assert.Equal(t, "c", pois[2].ID)
	assert.Equal(t, int32(1), peak.Load())

	assert.Equal(t, 4, NewLoader(WithConcurrency(0)).concurrency)
}

func TestLoader_URLWithoutCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`[{"id":"1","name":"n"}]`))
	}))
	defer srv.Close()

	l := NewLoader(WithFetcher(testFetcher()))
	for range 2 {
		pois, err := l.Load(context.Background(), srv.URL+"/pois.json")
		require.NoError(t, err)
		require.Len(t, pois, 1)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoader_RemoteXLSX(t *testing.T) {
	data, err := os.ReadFile(writeXLSX(t, [][]string{{"id", "name"}, {"1", "From sheet"}}))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	pois, err := NewLoader(WithFetcher(testFetcher())).Load(context.Background(), srv.URL+"/export?format=xlsx")
	require.NoError(t, err)
	require.Len(t, pois, 1)
	assert.Equal(t, "From sheet", pois[0].Name)
}

func TestLoader_RemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewLoader(WithFetcher(testFetcher())).Load(context.Background(), srv.URL+"/x.csv")
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		loc    string
		want   Format
		remote bool
	}{
		{"pois.xlsx", FormatXLSX, false},
		{"data/POIS.CSV", FormatCSV, false},
		{"pois.json", FormatJSON, false},
		{"https://example.com/pois.json", FormatJSON, true},
		{"https://docs.google.com/spreadsheets/d/e/x/pub?output=csv", FormatCSV, true},
		{"https://docs.google.com/spreadsheets/d/x/export?format=xlsx", FormatXLSX, true},
		{"https://example.com/feed", FormatCSV, true},
	}
	for _, tt := range tests {
		t.Run(tt.loc, func(t *testing.T) {
			got, remote, err := DetectFormat(tt.loc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.remote, remote)
		})
	}

	_, _, err := DetectFormat("pois")
	assert.Error(t, err)
}
