// Package source turns spreadsheet, CSV and JSON rows into PointOfInterest
// records.
package source

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/rotisserie/eris"

	"github.com/kueccha/poimap/internal/fetcher"
	"github.com/kueccha/poimap/internal/poi"
)

// headerAliases maps alternative column names onto PointOfInterest fields.
var headerAliases = map[string]string{
	"lat":        "latitude",
	"lng":        "longitude",
	"lon":        "longitude",
	"long":       "longitude",
	"closed":     "is_closed",
	"isclosed":   "is_closed",
	"tags":       "categories",
	"searchtext": "search_text",
}

var categorySeparators = []string{",", "、", "/"}

var (
	trueFlags  = map[string]bool{"true": true, "yes": true, "y": true, "1": true, "○": true, "◯": true, "x": true, "closed": true}
	falseFlags = map[string]bool{"": true, "false": true, "no": true, "n": true, "0": true, "-": true, "×": true, "open": true}
)

var stringSliceType = reflect.TypeOf([]string{})

// RecordsToRows widens header-keyed string records to generic rows.
func RecordsToRows(recs []fetcher.Record) []map[string]any {
	rows := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		row := make(map[string]any, len(rec))
		for k, v := range rec {
			row[k] = v
		}
		rows = append(rows, row)
	}
	return rows
}

// Decode converts rows to POIs. Rows without an id or name and rows whose
// id repeats an earlier row are skipped, and one error per skipped row is
// returned alongside the decoded POIs.
func Decode(rows []map[string]any) ([]*poi.PointOfInterest, []error) {
	pois := make([]*poi.PointOfInterest, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	var errs []error

	for i, row := range rows {
		p, err := decodeRow(row)
		if err != nil {
			errs = append(errs, eris.Wrapf(err, "source: row %d", i+1))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, eris.Errorf("source: row %d: duplicate id %q", i+1, p.ID))
			continue
		}
		seen[p.ID] = true
		pois = append(pois, p)
	}
	return pois, errs
}

func decodeRow(row map[string]any) (*poi.PointOfInterest, error) {
	p := &poi.PointOfInterest{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			categoriesHook,
			flagHook,
		),
	})
	if err != nil {
		return nil, eris.Wrap(err, "new decoder")
	}
	if err := dec.Decode(canonicalize(row)); err != nil {
		return nil, eris.Wrap(err, "decode")
	}

	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.ID == "" {
		return nil, eris.New("missing id")
	}
	if p.Name == "" {
		return nil, eris.Errorf("id %q: missing name", p.ID)
	}
	if p.SearchText == "" {
		p.SearchText = poi.BuildSearchText(p)
	}
	return p, nil
}

// canonicalize lowercases keys, replaces spaces with underscores and applies
// headerAliases. A nested "closures" object, as written by the JSON and
// YAML output, is flattened into closed_<day> keys. A canonical key already
// present wins over its alias or nested form.
func canonicalize(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	aliased := map[string]any{}
	var closures map[string]any
	for k, v := range row {
		key := canonicalKey(k)
		if canon, ok := headerAliases[key]; ok {
			aliased[canon] = v
			continue
		}
		if key == "closures" {
			if m, ok := v.(map[string]any); ok {
				closures = m
				continue
			}
		}
		out[key] = v
	}
	for day, v := range closures {
		aliased["closed_"+canonicalKey(day)] = v
	}
	for k, v := range aliased {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func canonicalKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), " ", "_")
}

// categoriesHook splits a delimited category cell into tags.
func categoriesHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != stringSliceType || from.Kind() != reflect.String {
		return data, nil
	}
	return SplitCategories(reflect.ValueOf(data).String()), nil
}

// flagHook maps spreadsheet flag cells onto bools.
func flagHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Bool || from.Kind() != reflect.String {
		return data, nil
	}
	s := strings.ToLower(strings.TrimSpace(reflect.ValueOf(data).String()))
	switch {
	case trueFlags[s]:
		return true, nil
	case falseFlags[s]:
		return false, nil
	default:
		return nil, eris.Errorf("unrecognized flag %q", s)
	}
}

// SplitCategories splits s on ",", "、" and "/", trimming each tag and
// dropping empty ones.
func SplitCategories(s string) []string {
	for _, sep := range categorySeparators[1:] {
		s = strings.ReplaceAll(s, sep, categorySeparators[0])
	}
	var tags []string
	for _, part := range strings.Split(s, categorySeparators[0]) {
		if part = strings.TrimSpace(part); part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}
