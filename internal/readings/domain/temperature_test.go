package readings

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestTenthsFromFloatRoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in   float64
		want Tenths
	}{
		{41, 410},
		{38.25, 383},
		{-18.25, -183},
		{0.04, 0},
		{3.75, 38},
	}
	for _, tc := range cases {
		if got := TenthsFromFloat(tc.in); got != tc.want {
			t.Fatalf("TenthsFromFloat(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestConvertFahrenheitCelsius(t *testing.T) {
	if got := Convert(32, Fahrenheit, Celsius); got != 0 {
		t.Fatalf("expected 0C, got %v", got)
	}
	if got := Convert(100, Celsius, Fahrenheit); got != 212 {
		t.Fatalf("expected 212F, got %v", got)
	}
	if got := Convert(40, Fahrenheit, Fahrenheit); got != 40 {
		t.Fatalf("expected identity, got %v", got)
	}
}

func TestWithinPhysicalRange(t *testing.T) {
	if !WithinPhysicalRange(41, Fahrenheit) {
		t.Fatalf("expected 41F plausible")
	}
	if WithinPhysicalRange(400, Fahrenheit) {
		t.Fatalf("expected 400F rejected")
	}
	if WithinPhysicalRange(math.NaN(), Celsius) {
		t.Fatalf("expected NaN rejected")
	}
}

func TestTenthsJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		T Tenths `json:"t"`
	}{T: 385})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"t":38.5}` {
		t.Fatalf("unexpected json %s", data)
	}
	var out struct {
		T Tenths `json:"t"`
	}
	if err := json.Unmarshal([]byte(`{"t":-2.25}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.T != -23 {
		t.Fatalf("expected -23, got %d", out.T)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 5000, time.UTC)
	cursor := EncodeCursor(Reading{ID: "r-1", RecordedAt: at})
	gotAt, gotID, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !gotAt.Equal(at) || gotID != "r-1" {
		t.Fatalf("unexpected cursor position %v %s", gotAt, gotID)
	}
	if _, _, err := DecodeCursor("%%%"); err != ErrInvalidCursor {
		t.Fatalf("expected invalid cursor, got %v", err)
	}
}

func TestQueryPageLimit(t *testing.T) {
	if (Query{}).PageLimit() != DefaultPageSize {
		t.Fatalf("expected default page size")
	}
	if (Query{Limit: 5000}).PageLimit() != MaxPageSize {
		t.Fatalf("expected cap at max page size")
	}
	if (Query{Limit: 10}).PageLimit() != 10 {
		t.Fatalf("expected requested limit")
	}
}
