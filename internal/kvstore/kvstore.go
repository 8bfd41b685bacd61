package kvstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPrefix namespaces keys written without an explicit prefix.
const DefaultPrefix = "kueccha:"

// Store adds JSON envelopes and expiry on top of one Storage per Area.
type Store struct {
	mu            sync.Mutex
	areas         map[Area]Storage
	defaultPrefix string
	defaultArea   Area

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for created timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// WithDefaultPrefix sets the prefix used when a call does not pass WithPrefix.
func WithDefaultPrefix(prefix string) Option {
	return func(s *Store) {
		s.defaultPrefix = prefix
	}
}

// WithDefaultArea sets the area used when a call does not pass WithArea.
func WithDefaultArea(area Area) Option {
	return func(s *Store) {
		s.defaultArea = area
	}
}

// New creates a Store over the local and session areas. A nil area is
// treated as unavailable.
func New(local, session Storage, opts ...Option) *Store {
	s := &Store{
		areas:         map[Area]Storage{},
		defaultPrefix: DefaultPrefix,
		defaultArea:   AreaLocal,
		nowFunc:       time.Now,
	}
	if local != nil {
		s.areas[AreaLocal] = local
	}
	if session != nil {
		s.areas[AreaSession] = session
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CallOption configures a single Store operation.
type CallOption func(*callOpts)

type callOpts struct {
	expiry *time.Duration
	area   Area
	prefix string
}

// WithExpiry makes written entries expire d after they are written.
func WithExpiry(d time.Duration) CallOption {
	return func(o *callOpts) {
		o.expiry = &d
	}
}

// NoExpiry makes written entries never expire. This is the default.
func NoExpiry() CallOption {
	return func(o *callOpts) {
		o.expiry = nil
	}
}

// WithArea selects the storage area.
func WithArea(area Area) CallOption {
	return func(o *callOpts) {
		o.area = area
	}
}

// WithPrefix selects the key namespace. An empty prefix addresses bare keys.
func WithPrefix(prefix string) CallOption {
	return func(o *callOpts) {
		o.prefix = prefix
	}
}

func (s *Store) resolve(opts []CallOption) callOpts {
	o := callOpts{area: s.defaultArea, prefix: s.defaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (s *Store) storage(area Area) (Storage, bool) {
	st, ok := s.areas[area]
	return st, ok
}

func warn(msg string, key string, o callOpts, err error) {
	zap.L().Warn(msg,
		zap.String("key", key),
		zap.String("area", string(o.area)),
		zap.String("prefix", o.prefix),
		zap.Error(err),
	)
}

// Set writes value under key. It returns false if the area is unavailable,
// the value cannot be encoded, or the write fails.
func (s *Store) Set(ctx context.Context, key string, value any, opts ...CallOption) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(ctx, key, value, s.resolve(opts))
}

func (s *Store) set(ctx context.Context, key string, value any, o callOpts) bool {
	st, ok := s.storage(o.area)
	if !ok {
		warn("kvstore: set skipped", key, o, ErrUnavailable)
		return false
	}
	raw, err := newEntry(value, s.nowFunc(), o.expiry)
	if err != nil {
		warn("kvstore: set encode failed", key, o, err)
		return false
	}
	if err := st.Set(ctx, o.prefix+key, raw); err != nil {
		warn("kvstore: set failed", key, o, err)
		return false
	}
	return true
}

// load returns the valid entry under key, or nil. An expired entry is
// removed before returning nil.
func (s *Store) load(ctx context.Context, key string, o callOpts) *entry {
	st, ok := s.storage(o.area)
	if !ok {
		return nil
	}
	full := o.prefix + key
	raw, found, err := st.Get(ctx, full)
	if err != nil {
		warn("kvstore: get failed", key, o, err)
		return nil
	}
	if !found {
		return nil
	}
	e, err := parseEntry(raw)
	if err != nil {
		warn("kvstore: get decode failed", key, o, err)
		return nil
	}
	if e.expired(s.nowFunc()) {
		if err := st.Remove(ctx, full); err != nil {
			warn("kvstore: evict expired failed", key, o, err)
		}
		return nil
	}
	return e
}

// Get returns the value stored under key, or def when the area is
// unavailable, the key is absent or expired, or the value does not decode into T.
func Get[T any](ctx context.Context, s *Store, key string, def T, opts ...CallOption) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.resolve(opts)
	e := s.load(ctx, key, o)
	if e == nil {
		return def
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		warn("kvstore: get decode value failed", key, o, err)
		return def
	}
	return v
}

// GetRaw returns the stored JSON for key and whether a valid entry exists.
func (s *Store) GetRaw(ctx context.Context, key string, opts ...CallOption) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.load(ctx, key, s.resolve(opts))
	if e == nil {
		return nil, false
	}
	return e.Data, true
}

// Has reports whether a valid, unexpired entry exists under key.
func (s *Store) Has(ctx context.Context, key string, opts ...CallOption) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, key, s.resolve(opts)) != nil
}

// Update reads the current value under key, passes it to fn (nil when no
// valid entry exists), and writes the result back with a fresh created
// timestamp and the call's expiry.
func Update[T any](ctx context.Context, s *Store, key string, fn func(current *T) T, opts ...CallOption) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.resolve(opts)
	if _, ok := s.storage(o.area); !ok {
		warn("kvstore: update skipped", key, o, ErrUnavailable)
		return false
	}

	var current *T
	if e := s.load(ctx, key, o); e != nil {
		var v T
		if err := json.Unmarshal(e.Data, &v); err == nil {
			current = &v
		} else {
			warn("kvstore: update decode value failed", key, o, err)
		}
	}
	return s.set(ctx, key, fn(current), o)
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string, opts ...CallOption) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.resolve(opts)
	st, ok := s.storage(o.area)
	if !ok {
		warn("kvstore: remove skipped", key, o, ErrUnavailable)
		return false
	}
	if err := st.Remove(ctx, o.prefix+key); err != nil {
		warn("kvstore: remove failed", key, o, err)
		return false
	}
	return true
}

// Clear deletes every key under the prefix, or the whole area when the
// prefix is empty.
func (s *Store) Clear(ctx context.Context, opts ...CallOption) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.resolve(opts)
	st, ok := s.storage(o.area)
	if !ok {
		warn("kvstore: clear skipped", "", o, ErrUnavailable)
		return false
	}
	if o.prefix == "" {
		if err := st.Clear(ctx); err != nil {
			warn("kvstore: clear failed", "", o, err)
			return false
		}
		return true
	}
	keys, err := st.Keys(ctx)
	if err != nil {
		warn("kvstore: clear list failed", "", o, err)
		return false
	}
	for _, k := range keys {
		if !strings.HasPrefix(k, o.prefix) {
			continue
		}
		if err := st.Remove(ctx, k); err != nil {
			warn("kvstore: clear remove failed", k, o, err)
			return false
		}
	}
	return true
}

// Keys lists the keys under the prefix with the prefix stripped, sorted.
func (s *Store) Keys(ctx context.Context, opts ...CallOption) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.resolve(opts)
	keys := s.keys(ctx, o)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, o.prefix))
	}
	sort.Strings(out)
	return out
}

// keys returns the full storage keys under o.prefix.
func (s *Store) keys(ctx context.Context, o callOpts) []string {
	st, ok := s.storage(o.area)
	if !ok {
		return nil
	}
	all, err := st.Keys(ctx)
	if err != nil {
		warn("kvstore: list keys failed", "", o, err)
		return nil
	}
	var out []string
	for _, k := range all {
		if strings.HasPrefix(k, o.prefix) {
			out = append(out, k)
		}
	}
	return out
}

// CleanExpired removes every expired entry under the prefix and returns
// how many were removed. Entries that fail to decode are left alone.
func (s *Store) CleanExpired(ctx context.Context, opts ...CallOption) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.resolve(opts)
	st, ok := s.storage(o.area)
	if !ok {
		return 0
	}

	now := s.nowFunc()
	removed := 0
	for _, k := range s.keys(ctx, o) {
		raw, found, err := st.Get(ctx, k)
		if err != nil || !found {
			continue
		}
		e, err := parseEntry(raw)
		if err != nil || !e.expired(now) {
			continue
		}
		if err := st.Remove(ctx, k); err != nil {
			warn("kvstore: clean remove failed", k, o, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		zap.L().Debug("kvstore: removed expired entries",
			zap.String("area", string(o.area)),
			zap.String("prefix", o.prefix),
			zap.Int("removed", removed),
		)
	}
	return removed
}
