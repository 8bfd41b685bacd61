package source

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kueccha/poimap/internal/fetcher"
	"github.com/kueccha/poimap/internal/kvstore"
	"github.com/kueccha/poimap/internal/poi"
)

// Format is a source file format.
type Format string

// Supported formats.
const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

const (
	cacheKeyPrefix = "source:"
	freshKeyPrefix = "source-fresh:"
)

// cachedSource is the cache entry for a remote location. It outlives the
// cache TTL so that an expired entry can be revalidated with its ETag.
type cachedSource struct {
	ETag string           `json:"etag,omitempty"`
	Rows []map[string]any `json:"rows"`
}

// Loader reads POIs from local files and URLs.
type Loader struct {
	fetcher     fetcher.Fetcher
	cache       *kvstore.Store
	cacheTTL    time.Duration
	sheet       fetcher.SheetOptions
	concurrency int
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFetcher sets the Fetcher used for URLs.
func WithFetcher(f fetcher.Fetcher) LoaderOption {
	return func(l *Loader) {
		l.fetcher = f
	}
}

// WithCache caches downloaded rows in store. Rows are served from the cache
// for ttl, then revalidated with the ETag the server sent. A non-positive ttl
// disables caching.
func WithCache(store *kvstore.Store, ttl time.Duration) LoaderOption {
	return func(l *Loader) {
		l.cache = store
		l.cacheTTL = ttl
	}
}

// WithSheet selects the worksheet read from XLSX sources.
func WithSheet(opts fetcher.SheetOptions) LoaderOption {
	return func(l *Loader) {
		l.sheet = opts
	}
}

// WithConcurrency limits how many locations load at once. n <= 0 keeps the
// default of 4.
func WithConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// NewLoader creates a Loader. Without WithFetcher it uses a default HTTPFetcher.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{concurrency: 4}
	for _, opt := range opts {
		opt(l)
	}
	if l.fetcher == nil {
		l.fetcher = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{RateLimiters: fetcher.DefaultRateLimiters()})
	}
	return l
}

// Load reads every location and decodes the combined rows in location
// order. Invalid rows are logged and skipped; a location that cannot be
// read fails the whole load.
func (l *Loader) Load(ctx context.Context, locations ...string) ([]*poi.PointOfInterest, error) {
	results := make([][]map[string]any, len(locations))

	g, gctx := errgroup.WithContext(ctx)
	if l.concurrency > 0 {
		g.SetLimit(l.concurrency)
	}
	for i, loc := range locations {
		g.Go(func() error {
			rows, err := l.loadRows(gctx, loc)
			if err != nil {
				return eris.Wrapf(err, "source: load %s", loc)
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []map[string]any
	for _, rows := range results {
		all = append(all, rows...)
	}
	pois, errs := Decode(all)
	for _, err := range errs {
		zap.L().Warn("source: skipped row", zap.Error(err))
	}
	zap.L().Info("source: loaded pois",
		zap.Int("locations", len(locations)),
		zap.Int("rows", len(all)),
		zap.Int("pois", len(pois)),
		zap.Int("skipped", len(errs)),
	)
	return pois, nil
}

func (l *Loader) loadRows(ctx context.Context, loc string) ([]map[string]any, error) {
	format, remote, err := DetectFormat(loc)
	if err != nil {
		return nil, err
	}
	if !remote {
		return l.readFile(ctx, loc, format)
	}

	if !l.cacheEnabled() {
		body, err := l.fetcher.Download(ctx, loc)
		if err != nil {
			return nil, err
		}
		defer body.Close() //nolint:errcheck
		return l.parse(ctx, body, format)
	}
	return l.loadCached(ctx, loc, format)
}

// loadCached serves loc from the cache while it is fresh, and otherwise
// downloads it conditionally on the cached ETag.
func (l *Loader) loadCached(ctx context.Context, loc string, format Format) ([]map[string]any, error) {
	cached := kvstore.Get[*cachedSource](ctx, l.cache, cacheKeyPrefix+loc, nil)
	if cached != nil && l.cache.Has(ctx, freshKeyPrefix+loc) {
		zap.L().Debug("source: cache hit", zap.String("url", loc))
		return cached.Rows, nil
	}

	etag := ""
	if cached != nil {
		etag = cached.ETag
	}
	body, newETag, changed, err := l.fetcher.DownloadIfChanged(ctx, loc, etag)
	if err != nil {
		return nil, err
	}
	if !changed {
		if cached == nil {
			return nil, eris.Errorf("source: %s not modified but nothing is cached", loc)
		}
		zap.L().Debug("source: not modified", zap.String("url", loc), zap.String("etag", etag))
		l.markFresh(ctx, loc)
		return cached.Rows, nil
	}
	defer body.Close() //nolint:errcheck

	rows, err := l.parse(ctx, body, format)
	if err != nil {
		return nil, err
	}
	if !l.cache.Set(ctx, cacheKeyPrefix+loc, cachedSource{ETag: newETag, Rows: rows}) {
		zap.L().Debug("source: cache write failed", zap.String("url", loc))
		return rows, nil
	}
	l.markFresh(ctx, loc)
	return rows, nil
}

func (l *Loader) markFresh(ctx context.Context, loc string) {
	if !l.cache.Set(ctx, freshKeyPrefix+loc, true, kvstore.WithExpiry(l.cacheTTL)) {
		zap.L().Debug("source: cache freshness write failed", zap.String("url", loc))
	}
}

func (l *Loader) cacheEnabled() bool {
	return l.cache != nil && l.cacheTTL > 0
}

func (l *Loader) readFile(ctx context.Context, name string, format Format) ([]map[string]any, error) {
	if format == FormatXLSX {
		recs, err := fetcher.ReadSheet(name, l.sheet)
		if err != nil {
			return nil, err
		}
		return RecordsToRows(recs), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, eris.Wrap(err, "open file")
	}
	defer f.Close() //nolint:errcheck
	return l.parse(ctx, f, format)
}

func (l *Loader) parse(ctx context.Context, r io.Reader, format Format) ([]map[string]any, error) {
	switch format {
	case FormatCSV:
		recs, err := fetcher.ReadCSV(ctx, r, fetcher.CSVOptions{LazyQuotes: true})
		if err != nil {
			return nil, err
		}
		return RecordsToRows(recs), nil
	case FormatJSON:
		return fetcher.ReadJSONObjects(ctx, r)
	case FormatXLSX:
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, r); err != nil {
			return nil, eris.Wrap(err, "read xlsx body")
		}
		recs, err := fetcher.ReadSheetBytes(buf.Bytes(), l.sheet)
		if err != nil {
			return nil, err
		}
		return RecordsToRows(recs), nil
	default:
		return nil, eris.Errorf("unsupported format %q", format)
	}
}

// DetectFormat picks the format of a location from its extension. URLs
// with no recognizable extension are read as CSV, the format of a
// published spreadsheet export; "output" or "format" query parameters
// override the extension.
func DetectFormat(loc string) (Format, bool, error) {
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		u, err := url.Parse(loc)
		if err != nil {
			return "", true, eris.Wrap(err, "parse url")
		}
		q := u.Query()
		for _, key := range []string{"output", "format"} {
			if f, ok := formatFromExt(q.Get(key)); ok {
				return f, true, nil
			}
		}
		if f, ok := formatFromExt(path.Ext(u.Path)); ok {
			return f, true, nil
		}
		return FormatCSV, true, nil
	}
	if f, ok := formatFromExt(filepath.Ext(loc)); ok {
		return f, false, nil
	}
	return "", false, eris.Errorf("unsupported source file %q", loc)
}

func formatFromExt(ext string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "xlsx":
		return FormatXLSX, true
	case "csv":
		return FormatCSV, true
	case "json":
		return FormatJSON, true
	default:
		return "", false
	}
}
