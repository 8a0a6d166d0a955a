package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/marcus/gridsync/internal/syncclient"
	"github.com/marcus/gridsync/internal/syncconfig"
)

var testFields = []syncclient.Field{
	{Name: "title", Kind: "text"},
	{Name: "n", Kind: "number"},
	{Name: "done", Kind: "bool"},
	{Name: "due", Kind: "time"},
	{Name: "meta"},
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments(testFields, []string{"title=42", "n=3.5", "done=true", "due=2024-01-02T03:04:05Z", "meta=[1,2]", "n="})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["title"] != "42" {
		t.Errorf("text keeps digits as text: %#v", got["title"])
	}
	if got["n"] != nil {
		t.Errorf("last assignment wins and empty clears: %#v", got["n"])
	}
	if got["done"] != true {
		t.Errorf("bool: %#v", got["done"])
	}
	if got["due"] != "2024-01-02T03:04:05Z" {
		t.Errorf("time: %#v", got["due"])
	}
	if list, ok := got["meta"].([]any); !ok || len(list) != 2 {
		t.Errorf("untyped JSON: %#v", got["meta"])
	}
}

func TestParseAssignmentsErrors(t *testing.T) {
	tests := []struct {
		arg  string
		want string
	}{
		{"title", "expected field=value"},
		{"=x", "expected field=value"},
		{"nope=1", "unknown field"},
		{"n=many", "not a number"},
		{"done=maybe", "not a bool"},
	}
	for _, tc := range tests {
		_, err := parseAssignments(testFields, []string{tc.arg})
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%q: got %v, want %q", tc.arg, err, tc.want)
		}
	}
}

func TestParseValueUntypedFallsBackToString(t *testing.T) {
	v, err := parseValue("", "hello world")
	if err != nil || v != "hello world" {
		t.Errorf("got %#v, %v", v, err)
	}
	v, _ = parseValue("", "12")
	if v != float64(12) {
		t.Errorf("got %#v", v)
	}
}

func TestFormatInputRoundTrips(t *testing.T) {
	tests := []struct {
		kind  string
		value any
	}{
		{"", nil},
		{"text", "x"},
		{"number", 2.5},
		{"number", float64(1e6)},
		{"bool", true},
	}
	for _, tc := range tests {
		back, err := parseValue(tc.kind, formatInput(tc.value))
		if err != nil || back != tc.value {
			t.Errorf("%#v -> %q -> %#v (%v)", tc.value, formatInput(tc.value), back, err)
		}
	}
}

func TestParseFieldSpecs(t *testing.T) {
	fields, err := parseFieldSpecs([]string{"title", "size:number:bytes", "due:time"})
	if err != nil {
		t.Fatal(err)
	}
	want := []syncclient.Field{{Name: "title"}, {Name: "size", Kind: "number", Transform: "bytes"}, {Name: "due", Kind: "time"}}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d: got %+v, want %+v", i, fields[i], want[i])
		}
	}
	if _, err := parseFieldSpecs([]string{":text"}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestSeederIDsAreMonotonic(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newSeeder(testFields, now, bytes.NewReader(bytes.Repeat([]byte{7}, 4096)))
	recs := append(s.batch(0, 50), s.batch(50, 50)...)

	prev := ""
	for i, r := range recs {
		id, err := ulid.ParseStrict(r.ID)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if id.Time() != ulid.Timestamp(now) {
			t.Errorf("record %d: timestamp %d", i, id.Time())
		}
		if r.ID <= prev {
			t.Fatalf("record %d: %s not after %s", i, r.ID, prev)
		}
		prev = r.ID
	}
	if recs[0].Values["title"] != "title 1" || recs[99].Values["title"] != "title 100" {
		t.Errorf("titles: %v, %v", recs[0].Values["title"], recs[99].Values["title"])
	}
	if _, ok := recs[3].Values["n"].(float64); !ok {
		t.Errorf("number field: %#v", recs[3].Values["n"])
	}
}

func TestSetConfigKey(t *testing.T) {
	cfg := &syncconfig.Config{}
	if err := setConfigKey(cfg, "url", "http://grid:1"); err != nil || cfg.URL != "http://grid:1" {
		t.Errorf("url: %v %q", err, cfg.URL)
	}
	if err := setConfigKey(cfg, "cache_margin", "8"); err != nil || cfg.CacheMargin == nil || *cfg.CacheMargin != 8 {
		t.Errorf("cache_margin: %v", err)
	}
	if err := setConfigKey(cfg, "cache_margin", "-1"); err == nil {
		t.Error("negative margin accepted")
	}
	if err := setConfigKey(cfg, "colour", "red"); err == nil {
		t.Error("unknown key accepted")
	}
}
