package source

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kueccha/poimap/internal/fetcher"
	"github.com/kueccha/poimap/internal/poi"
)

func TestDecode_SpreadsheetRow(t *testing.T) {
	rows := RecordsToRows([]fetcher.Record{{
		"id":            "p1",
		"name":          " Tenmangu ",
		"address":       "Dazaifu 4-7-1",
		"categories":    "shrine、history / sightseeing,",
		"district":      "3",
		"genre":         "Shinto",
		"closed_monday": "○",
		"closed":        "no",
		"lat":           "33.5215",
		"lng":           "130.5349",
	}})

	pois, errs := Decode(rows)
	require.Empty(t, errs)
	require.Len(t, pois, 1)

	p := pois[0]
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "Tenmangu", p.Name)
	assert.Equal(t, []string{"shrine", "history", "sightseeing"}, p.Categories)
	assert.Equal(t, poi.District("3"), p.District)
	assert.True(t, p.Closures.Monday)
	assert.False(t, p.Closures.Sunday)
	assert.False(t, p.IsClosed)
	assert.InDelta(t, 33.5215, p.Latitude, 1e-9)
	assert.InDelta(t, 130.5349, p.Longitude, 1e-9)
	assert.Equal(t, poi.BuildSearchText(p), p.SearchText)
}

func TestDecode_JSONObject(t *testing.T) {
	rows := []map[string]any{{
		"id":             json.Number("42"),
		"name":           "Suzume Cafe",
		"categories":     []any{"cafe", "food"},
		"district":       json.Number("7"),
		"is_closed":      true,
		"closed_holiday": json.Number("1"),
		"latitude":       json.Number("33.5"),
		"longitude":      130.4,
		"search_text":    "precomputed",
	}}

	pois, errs := Decode(rows)
	require.Empty(t, errs)
	require.Len(t, pois, 1)

	p := pois[0]
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, []string{"cafe", "food"}, p.Categories)
	assert.Equal(t, poi.District("7"), p.District)
	assert.True(t, p.IsClosed)
	assert.True(t, p.Closures.Holiday)
	assert.Equal(t, "precomputed", p.SearchText)
}

func TestDecode_CachedRowNumbers(t *testing.T) {
	// Rows read back from the kvstore cache carry float64 numbers.
	pois, errs := Decode([]map[string]any{{"id": float64(3), "name": "n", "district": float64(12)}})
	require.Empty(t, errs)
	require.Len(t, pois, 1)
	assert.Equal(t, "3", pois[0].ID)
	assert.Equal(t, poi.District("12"), pois[0].District)
}

func TestDecode_HeaderNormalization(t *testing.T) {
	pois, errs := Decode([]map[string]any{{"ID": "a", " Name ": "n", "Closed Sunday": "yes", "Lon": "1.5"}})
	require.Empty(t, errs)
	require.Len(t, pois, 1)
	assert.True(t, pois[0].Closures.Sunday)
	assert.InDelta(t, 1.5, pois[0].Longitude, 1e-9)
}

func TestDecode_CanonicalKeyBeatsAlias(t *testing.T) {
	pois, errs := Decode([]map[string]any{{"id": "a", "name": "n", "latitude": "10", "lat": "20"}})
	require.Empty(t, errs)
	assert.InDelta(t, 10.0, pois[0].Latitude, 1e-9)
}

func TestDecode_RejectsAndDuplicates(t *testing.T) {
	rows := []map[string]any{
		{"id": "a", "name": "first"},
		{"id": "", "name": "no id"},
		{"id": "b", "name": "  "},
		{"id": "a", "name": "second"},
		{"id": "c", "name": "bad flag", "closed": "maybe"},
		{"id": "d", "name": "ok"},
	}

	pois, errs := Decode(rows)
	require.Len(t, pois, 2)
	assert.Equal(t, "first", pois[0].Name)
	assert.Equal(t, "d", pois[1].ID)
	require.Len(t, errs, 4)
	assert.Contains(t, errs[0].Error(), "row 2")
	assert.Contains(t, errs[0].Error(), "missing id")
	assert.Contains(t, errs[1].Error(), "missing name")
	assert.Contains(t, errs[2].Error(), "duplicate id")
	assert.Contains(t, errs[3].Error(), "unrecognized flag")
}

func TestDecode_EmptyCells(t *testing.T) {
	pois, errs := Decode([]map[string]any{{"id": "a", "name": "n", "latitude": "", "categories": "", "closed_friday": ""}})
	require.Empty(t, errs)
	require.Len(t, pois, 1)
	assert.Nil(t, pois[0].Categories)
	assert.False(t, pois[0].HasLocation())
	assert.False(t, pois[0].Closures.Friday)
}

func TestSplitCategories(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c", "d"}, SplitCategories("a, b、c/d"))
	assert.Nil(t, SplitCategories(" , / "))
}

func TestDecode_RoundTripsJSONOutput(t *testing.T) {
	in := []*poi.PointOfInterest{
		{ID: "1", Name: "Cafe", Categories: []string{"cafe"}, District: "3", Closures: poi.WeekdayClosures{Monday: true, Holiday: true}, Latitude: 35.5, Longitude: 139.5},
		{ID: "2", Name: "Inn", IsClosed: true},
	}
	for _, p := range in {
		p.SearchText = poi.BuildSearchText(p)
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	rows, err := fetcher.ReadJSONObjects(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	out, errs := Decode(rows)
	require.Empty(t, errs)
	assert.Equal(t, in, out)
}

func TestDecode_FlatClosureBeatsNested(t *testing.T) {
	pois, errs := Decode([]map[string]any{{
		"id":            "1",
		"name":          "n",
		"closed_monday": "no",
		"closures":      map[string]any{"monday": true, "friday": true},
	}})
	require.Empty(t, errs)
	require.Len(t, pois, 1)
	assert.False(t, pois[0].Closures.Monday)
	assert.True(t, pois[0].Closures.Friday)
}
