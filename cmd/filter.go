package main

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kueccha/poimap/internal/poi"
)

// filterParams is the textual form of a filter request, shared by the
// filter command flags and the /pois query string.
type filterParams struct {
	Categories        []string
	Districts         []string
	Open              string
	Holiday           bool
	Keyword           string
	Where             string
	BBox              string
	Date              string
	KeepUncategorized bool
}

// options parses p into FilterOptions. now is used when no date is given.
func (p filterParams) options(now time.Time) (poi.FilterOptions, error) {
	opts := poi.FilterOptions{
		Categories:        nonEmpty(p.Categories),
		Districts:         nonEmpty(p.Districts),
		Keyword:           p.Keyword,
		Holiday:           p.Holiday,
		At:                now,
		KeepUncategorized: p.KeepUncategorized,
	}

	if s := strings.TrimSpace(p.Open); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return opts, eris.Errorf("invalid open value %q: want true or false", p.Open)
		}
		opts.IsOpen = poi.Bool(b)
	}

	if s := strings.TrimSpace(p.Date); s != "" {
		at, err := time.ParseInLocation(time.DateOnly, s, now.Location())
		if err != nil {
			return opts, eris.Errorf("invalid date %q: want YYYY-MM-DD", p.Date)
		}
		opts.At = at
	}

	if s := strings.TrimSpace(p.BBox); s != "" {
		b, err := poi.ParseBounds(s)
		if err != nil {
			return opts, err
		}
		opts.Bounds = b
	}

	match, err := poi.CompileWhere(p.Where, opts.At, opts.Holiday)
	if err != nil {
		return opts, err
	}
	opts.Match = match

	return opts, nil
}

// nonEmpty drops blank entries and splits comma-joined values.
func nonEmpty(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// writePOIs encodes pois to w as indented JSON or YAML.
func writePOIs(w io.Writer, format string, pois []*poi.PointOfInterest) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return eris.Wrap(enc.Encode(pois), "encode json")
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(pois); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "close yaml encoder")
	default:
		return eris.Errorf("unsupported format %q: want json or yaml", format)
	}
}

var (
	filterSources []string
	filterFlags   filterParams
	filterFormat  string
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Load POIs and print the ones matching the filter flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		paths, err := sourcePaths(filterSources, cfg)
		if err != nil {
			return err
		}
		cfg.Source.Paths = paths
		if err := cfg.Validate("filter"); err != nil {
			return err
		}
		opts, err := filterFlags.options(time.Now())
		if err != nil {
			return err
		}

		store, closeStore, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer closeStore()

		pois, err := initLoader(cfg, store).Load(ctx, paths...)
		if err != nil {
			return err
		}

		return writePOIs(cmd.OutOrStdout(), filterFormat, poi.FilterPOIs(pois, opts))
	},
}

func init() {
	f := filterCmd.Flags()
	f.StringArrayVar(&filterSources, "source", nil, "POI source file or URL (repeatable, default from config)")
	f.StringArrayVar(&filterFlags.Categories, "category", nil, "category to include (repeatable)")
	f.StringArrayVar(&filterFlags.Districts, "district", nil, "district to include (repeatable)")
	f.StringVar(&filterFlags.Open, "open", "", "true for open POIs only, false for closed only")
	f.BoolVar(&filterFlags.Holiday, "holiday", false, "treat the day as a public holiday")
	f.StringVar(&filterFlags.Date, "date", "", "day to evaluate opening status for (YYYY-MM-DD, default today)")
	f.StringVar(&filterFlags.Keyword, "keyword", "", "case-insensitive substring of name, address or genre")
	f.StringVar(&filterFlags.Where, "where", "", `boolean expression, e.g. 'district == "3" && open'`)
	f.StringVar(&filterFlags.BBox, "bbox", "", "viewport minLon,minLat,maxLon,maxLat")
	f.BoolVar(&filterFlags.KeepUncategorized, "keep-uncategorized", false, "keep POIs without categories when filtering by category")
	f.StringVar(&filterFormat, "format", "json", "output format: json or yaml")
	rootCmd.AddCommand(filterCmd)
}
