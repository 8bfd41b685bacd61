package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kueccha/poimap/internal/kvstore"
	"github.com/kueccha/poimap/internal/metrics"
	"github.com/kueccha/poimap/internal/poi"
)

const maxValueBytes = 1 << 20

// api serves the POI collection and the key-value store.
type api struct {
	pois    []*poi.PointOfInterest
	store   *kvstore.Store
	metrics *metrics.Metrics

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

func newAPI(pois []*poi.PointOfInterest, store *kvstore.Store, m *metrics.Metrics) *api {
	if m == nil {
		m = metrics.New()
	}
	m.SetPOIsLoaded(len(pois))
	return &api{pois: pois, store: store, metrics: m, nowFunc: time.Now}
}

// buildRouter wires middleware and routes.
func buildRouter(a *api, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(a.metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/pois", a.listPOIs)
	r.Route("/kv", func(r chi.Router) {
		r.Get("/", a.listKeys)
		r.Delete("/", a.clearKeys)
		r.Post("/clean", a.cleanExpired)
		r.Get("/{key}", a.getKey)
		r.Put("/{key}", a.putKey)
		r.Delete("/{key}", a.removeKey)
	})
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *api) listPOIs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := filterParams{
		Categories: q["category"],
		Districts:  q["district"],
		Open:       q.Get("open"),
		Keyword:    q.Get("q"),
		Where:      q.Get("where"),
		BBox:       q.Get("bbox"),
		Date:       q.Get("date"),
	}
	if s := q.Get("holiday"); s != "" {
		params.Holiday = s == "1" || s == "true"
	}
	if s := q.Get("keep_uncategorized"); s != "" {
		params.KeepUncategorized = s == "1" || s == "true"
	}

	opts, err := params.options(a.nowFunc())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items := poi.FilterPOIs(a.pois, opts)
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// kvOptions parses the expiry, area and prefix query parameters.
func kvOptions(r *http.Request) ([]kvstore.CallOption, error) {
	q := r.URL.Query()
	var opts []kvstore.CallOption

	if q.Has("area") {
		area, err := kvstore.ParseArea(q.Get("area"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, kvstore.WithArea(area))
	}
	if q.Has("prefix") {
		opts = append(opts, kvstore.WithPrefix(q.Get("prefix")))
	}
	if s := q.Get("expiry"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid expiry %q", s)
		}
		opts = append(opts, kvstore.WithExpiry(d))
	}
	return opts, nil
}

// parseKVOptions writes a 400 and returns false when the kv query
// parameters are invalid.
func parseKVOptions(w http.ResponseWriter, r *http.Request) ([]kvstore.CallOption, bool) {
	opts, err := kvOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return opts, true
}

func (a *api) listKeys(w http.ResponseWriter, r *http.Request) {
	opts, ok := parseKVOptions(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": a.store.Keys(r.Context(), opts...)})
}

func (a *api) clearKeys(w http.ResponseWriter, r *http.Request) {
	opts, ok := parseKVOptions(w, r)
	if !ok {
		return
	}
	if !a.store.Clear(r.Context(), opts...) {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) cleanExpired(w http.ResponseWriter, r *http.Request) {
	opts, ok := parseKVOptions(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": a.store.CleanExpired(r.Context(), opts...)})
}

func (a *api) getKey(w http.ResponseWriter, r *http.Request) {
	opts, ok := parseKVOptions(w, r)
	if !ok {
		return
	}
	raw, found := a.store.GetRaw(r.Context(), chi.URLParam(r, "key"), opts...)
	if !found {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw) //nolint:errcheck
}

func (a *api) putKey(w http.ResponseWriter, r *http.Request) {
	opts, ok := parseKVOptions(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(body) > maxValueBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "value too large")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}
	if !a.store.Set(r.Context(), chi.URLParam(r, "key"), json.RawMessage(body), opts...) {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) removeKey(w http.ResponseWriter, r *http.Request) {
	opts, ok := parseKVOptions(w, r)
	if !ok {
		return
	}
	if !a.store.Remove(r.Context(), chi.URLParam(r, "key"), opts...) {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sweep removes expired entries from both areas.
func (a *api) sweep(ctx context.Context) {
	for _, area := range []kvstore.Area{kvstore.AreaLocal, kvstore.AreaSession} {
		n := a.store.CleanExpired(ctx, kvstore.WithArea(area))
		a.metrics.ExpiredRemoved(string(area), n)
		if n > 0 {
			zap.L().Info("sweeper removed expired entries",
				zap.String("area", string(area)),
				zap.Int("removed", n),
			)
		}
	}
}

// startSweeper schedules sweep on schedule. An empty schedule returns a nil
// scheduler.
func startSweeper(ctx context.Context, a *api, schedule string) (*cron.Cron, error) {
	if schedule == "" {
		return nil, nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { a.sweep(ctx) }); err != nil {
		return nil, eris.Wrapf(err, "schedule sweeper %q", schedule)
	}
	c.Start()
	zap.L().Info("sweeper started", zap.String("schedule", schedule))
	return c, nil
}

var (
	servePort    int
	serveSources []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the POI filter and key-value store over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		store, closeStore, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer closeStore()

		var pois []*poi.PointOfInterest
		paths := serveSources
		if len(paths) == 0 {
			paths = cfg.Source.Paths
		}
		if len(paths) > 0 {
			pois, err = initLoader(cfg, store).Load(ctx, paths...)
			if err != nil {
				return err
			}
		} else {
			zap.L().Warn("no sources configured, serving an empty POI collection")
		}

		a := newAPI(pois, store, metrics.New())
		sweeper, err := startSweeper(ctx, a, cfg.Sweep.Schedule)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(a, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 5 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			if sweeper != nil {
				<-sweeper.Stop().Done()
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port), zap.Int("pois", len(pois)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringArrayVar(&serveSources, "source", nil, "POI source file or URL (repeatable, default from config)")
	rootCmd.AddCommand(serveCmd)
}
