package poi

import (
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// exprEnv is the variable set visible to a where-expression.
type exprEnv struct {
	ID         string   `expr:"id"`
	Name       string   `expr:"name"`
	Address    string   `expr:"address"`
	Genre      string   `expr:"genre"`
	Categories []string `expr:"categories"`
	District   string   `expr:"district"`
	Closed     bool     `expr:"closed"`
	Open       bool     `expr:"open"`
}

func newExprEnv(p *PointOfInterest, day time.Weekday, holiday bool) exprEnv {
	closed := p.ClosedOn(day, holiday)
	return exprEnv{
		ID:         p.ID,
		Name:       p.Name,
		Address:    p.Address,
		Genre:      p.Genre,
		Categories: p.AllCategories(),
		District:   string(p.District),
		Closed:     p.IsClosed,
		Open:       !closed,
	}
}

// CompileWhere compiles a boolean expr-lang expression into a predicate for
// FilterOptions.Match, e.g. `"parking" in categories && district == "3"`.
// `open` is evaluated against the weekday of at, or of the local time at
// call time when at is zero, with holiday closures applied when holiday is
// set. A record whose evaluation fails does not match.
func CompileWhere(src string, at time.Time, holiday bool) (func(*PointOfInterest) bool, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, eris.Wrapf(err, "poi: compile where %q", src)
	}
	return func(p *PointOfInterest) bool {
		day := at
		if day.IsZero() {
			day = time.Now()
		}
		return runWhere(program, p, day.Weekday(), holiday)
	}, nil
}

func runWhere(program *vm.Program, p *PointOfInterest, day time.Weekday, holiday bool) bool {
	out, err := expr.Run(program, newExprEnv(p, day, holiday))
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// ParseBounds parses "minLon,minLat,maxLon,maxLat" into XY bounds.
func ParseBounds(s string) (*geom.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, eris.Errorf("poi: bounds %q: want minLon,minLat,maxLon,maxLat", s)
	}
	vals := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "poi: bounds %q", s)
		}
		vals[i] = v
	}
	if vals[0] > vals[2] || vals[1] > vals[3] {
		return nil, eris.Errorf("poi: bounds %q: min exceeds max", s)
	}
	return geom.NewBounds(geom.XY).Set(vals...), nil
}
