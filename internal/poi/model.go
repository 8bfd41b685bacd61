// Package poi holds the point-of-interest model and the pure filter engine
// that reduces a POI collection to the subset matching a FilterOptions value.
package poi

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// District identifies an administrative district. Spreadsheet exports carry
// it as either text or a number, so it unmarshals from both.
type District string

// UnmarshalJSON accepts a JSON string, number, or null.
func (d *District) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = District(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return eris.Wrapf(err, "poi: district %s", string(b))
	}
	*d = District(n.String())
	return nil
}

// WeekdayClosures flags the days a POI is regularly closed.
type WeekdayClosures struct {
	Sunday    bool `json:"sunday,omitempty" yaml:"sunday,omitempty" mapstructure:"closed_sunday"`
	Monday    bool `json:"monday,omitempty" yaml:"monday,omitempty" mapstructure:"closed_monday"`
	Tuesday   bool `json:"tuesday,omitempty" yaml:"tuesday,omitempty" mapstructure:"closed_tuesday"`
	Wednesday bool `json:"wednesday,omitempty" yaml:"wednesday,omitempty" mapstructure:"closed_wednesday"`
	Thursday  bool `json:"thursday,omitempty" yaml:"thursday,omitempty" mapstructure:"closed_thursday"`
	Friday    bool `json:"friday,omitempty" yaml:"friday,omitempty" mapstructure:"closed_friday"`
	Saturday  bool `json:"saturday,omitempty" yaml:"saturday,omitempty" mapstructure:"closed_saturday"`
	Holiday   bool `json:"holiday,omitempty" yaml:"holiday,omitempty" mapstructure:"closed_holiday"`
}

// On reports the closure flag for the given weekday. A missing flag reads as open.
func (w WeekdayClosures) On(day time.Weekday) bool {
	switch day {
	case time.Sunday:
		return w.Sunday
	case time.Monday:
		return w.Monday
	case time.Tuesday:
		return w.Tuesday
	case time.Wednesday:
		return w.Wednesday
	case time.Thursday:
		return w.Thursday
	case time.Friday:
		return w.Friday
	case time.Saturday:
		return w.Saturday
	default:
		return false
	}
}

// PointOfInterest is one row of the spreadsheet export.
type PointOfInterest struct {
	ID         string          `json:"id" yaml:"id" mapstructure:"id"`
	Name       string          `json:"name" yaml:"name" mapstructure:"name"`
	Address    string          `json:"address" yaml:"address" mapstructure:"address"`
	Category   string          `json:"category,omitempty" yaml:"category,omitempty" mapstructure:"category"`
	Categories []string        `json:"categories,omitempty" yaml:"categories,omitempty" mapstructure:"categories"`
	District   District        `json:"district,omitempty" yaml:"district,omitempty" mapstructure:"district"`
	IsClosed   bool            `json:"is_closed" yaml:"is_closed" mapstructure:"is_closed"`
	Genre      string          `json:"genre,omitempty" yaml:"genre,omitempty" mapstructure:"genre"`
	SearchText string          `json:"search_text,omitempty" yaml:"-" mapstructure:"search_text"`
	Closures   WeekdayClosures `json:"closures" yaml:"closures" mapstructure:",squash"`
	Latitude   float64         `json:"latitude,omitempty" yaml:"latitude,omitempty" mapstructure:"latitude"`
	Longitude  float64         `json:"longitude,omitempty" yaml:"longitude,omitempty" mapstructure:"longitude"`
}

// AllCategories returns the category tags, falling back to the legacy
// singular field. Returns nil when the record has no category data.
func (p *PointOfInterest) AllCategories() []string {
	if len(p.Categories) > 0 {
		return p.Categories
	}
	if p.Category != "" {
		return []string{p.Category}
	}
	return nil
}

// HasLocation reports whether the record carries coordinates.
func (p *PointOfInterest) HasLocation() bool {
	return p.Latitude != 0 || p.Longitude != 0
}

// Coord returns the location as an XY coordinate (lon, lat).
func (p *PointOfInterest) Coord() geom.Coord {
	return geom.Coord{p.Longitude, p.Latitude}
}

// ClosedOn reports whether the POI is closed on the given day: permanently,
// by its weekday flag, or by its holiday flag when holiday is set.
func (p *PointOfInterest) ClosedOn(day time.Weekday, holiday bool) bool {
	if p.IsClosed {
		return true
	}
	if holiday && p.Closures.Holiday {
		return true
	}
	return p.Closures.On(day)
}

// IsOpenAt reports whether p is open at the local date of at.
func IsOpenAt(p *PointOfInterest, at time.Time, holiday bool) bool {
	return !p.ClosedOn(at.Weekday(), holiday)
}
