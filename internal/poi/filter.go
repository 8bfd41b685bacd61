package poi

import (
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// FilterOptions selects a subset of POIs. Every non-empty field is an active
// predicate; active predicates combine with logical AND.
type FilterOptions struct {
	// Categories allows records tagged with at least one listed category.
	Categories []string `json:"categories,omitempty"`

	// Districts allows records in a listed district. Records without a
	// district pass.
	Districts []string `json:"districts,omitempty"`

	// IsOpen is tri-state: nil disables the status filter, true keeps open
	// records, false keeps closed ones.
	IsOpen *bool `json:"is_open,omitempty"`

	// Keyword is a case-insensitive substring matched against name,
	// address, genre, and search text.
	Keyword string `json:"keyword,omitempty"`

	// Bounds keeps records located inside the box (XY = lon, lat).
	Bounds *geom.Bounds `json:"-"`

	// Match is an extra caller-supplied predicate, e.g. from CompileWhere.
	Match func(*PointOfInterest) bool `json:"-"`

	// At is the instant the status filter is evaluated at. Zero means now.
	At time.Time `json:"-"`

	// Holiday ORs each record's holiday closure flag into the closed check.
	Holiday bool `json:"holiday,omitempty"`

	// KeepUncategorized lets records with no category data pass an active
	// category filter.
	KeepUncategorized bool `json:"keep_uncategorized,omitempty"`
}

// IsZero reports whether no predicate is active.
func (o FilterOptions) IsZero() bool {
	return len(o.Categories) == 0 &&
		len(o.Districts) == 0 &&
		o.IsOpen == nil &&
		NormalizeKeyword(o.Keyword) == "" &&
		o.Bounds == nil &&
		o.Match == nil
}

// Bool returns a pointer to b, for FilterOptions.IsOpen.
func Bool(b bool) *bool {
	return &b
}

// compiled is FilterOptions prepared for evaluation against many records.
type compiled struct {
	opts       FilterOptions
	categories map[string]struct{}
	districts  map[string]struct{}
	keyword    string
	weekday    time.Weekday
	norm       *normalizer
}

func compile(opts FilterOptions) *compiled {
	c := &compiled{
		opts:    opts,
		keyword: NormalizeKeyword(opts.Keyword),
		norm:    newNormalizer(),
	}
	if len(opts.Categories) > 0 {
		c.categories = toSet(opts.Categories)
	}
	if len(opts.Districts) > 0 {
		c.districts = toSet(opts.Districts)
	}
	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}
	c.weekday = at.Weekday()
	return c
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}

// FilterPOIs returns the records of pois that satisfy every active predicate
// in opts, in input order. Inputs are never mutated. With no active
// predicate it returns a shallow copy of pois.
func FilterPOIs(pois []*PointOfInterest, opts FilterOptions) []*PointOfInterest {
	if len(pois) == 0 {
		return []*PointOfInterest{}
	}
	if opts.IsZero() {
		out := make([]*PointOfInterest, len(pois))
		copy(out, pois)
		return out
	}

	c := compile(opts)
	out := make([]*PointOfInterest, 0, len(pois))
	for i, p := range pois {
		if c.safeMatch(i, p) {
			out = append(out, p)
		}
	}
	return out
}

// safeMatch evaluates one record, treating a panic as a non-match so a
// single malformed record cannot abort the rest of the collection.
func (c *compiled) safeMatch(i int, p *PointOfInterest) (ok bool) {
	if p == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("poi: record evaluation panicked, skipping",
				zap.Int("index", i),
				zap.String("id", p.ID),
				zap.Any("panic", r),
			)
			ok = false
		}
	}()
	return c.match(p)
}

func (c *compiled) match(p *PointOfInterest) bool {
	return c.matchCategory(p) &&
		c.matchDistrict(p) &&
		c.matchStatus(p) &&
		c.matchKeyword(p) &&
		c.matchBounds(p) &&
		(c.opts.Match == nil || c.opts.Match(p))
}

func (c *compiled) matchCategory(p *PointOfInterest) bool {
	if c.categories == nil {
		return true
	}
	cats := p.AllCategories()
	if len(cats) == 0 {
		return c.opts.KeepUncategorized
	}
	for _, cat := range cats {
		if _, ok := c.categories[cat]; ok {
			return true
		}
	}
	return false
}

func (c *compiled) matchDistrict(p *PointOfInterest) bool {
	if c.districts == nil || p.District == "" {
		return true
	}
	_, ok := c.districts[string(p.District)]
	return ok
}

func (c *compiled) matchStatus(p *PointOfInterest) bool {
	if c.opts.IsOpen == nil {
		return true
	}
	closed := p.ClosedOn(c.weekday, c.opts.Holiday)
	return closed != *c.opts.IsOpen
}

func (c *compiled) matchKeyword(p *PointOfInterest) bool {
	if c.keyword == "" {
		return true
	}
	return strings.Contains(c.norm.haystack(p), c.keyword)
}

func (c *compiled) matchBounds(p *PointOfInterest) bool {
	if c.opts.Bounds == nil {
		return true
	}
	if !p.HasLocation() {
		return false
	}
	return c.opts.Bounds.OverlapsPoint(geom.XY, p.Coord())
}
