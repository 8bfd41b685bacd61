package poi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistrict_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want District
	}{
		{`{"district":"3"}`, "3"},
		{`{"district":3}`, "3"},
		{`{"district":null}`, ""},
		{`{}`, ""},
	}
	for _, tt := range tests {
		var p PointOfInterest
		require.NoError(t, json.Unmarshal([]byte(tt.in), &p), tt.in)
		assert.Equal(t, tt.want, p.District, tt.in)
	}

	var p PointOfInterest
	assert.Error(t, json.Unmarshal([]byte(`{"district":true}`), &p))
}

func TestAllCategories(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, (&PointOfInterest{Categories: []string{"a", "b"}, Category: "c"}).AllCategories())
	assert.Equal(t, []string{"c"}, (&PointOfInterest{Category: "c"}).AllCategories())
	assert.Nil(t, (&PointOfInterest{}).AllCategories())
}

func TestClosedOn_Holiday(t *testing.T) {
	p := &PointOfInterest{Closures: WeekdayClosures{Holiday: true}}
	assert.False(t, p.ClosedOn(0, false))
	assert.True(t, p.ClosedOn(0, true))
}

func TestNormalizeKeyword(t *testing.T) {
	assert.Equal(t, "", NormalizeKeyword("   "))
	assert.Equal(t, "sado", NormalizeKeyword(" ＳＡＤＯ "))
	assert.Equal(t, "cafe 12", NormalizeKeyword("Cafe １２"))
}
