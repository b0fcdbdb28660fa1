package pypi

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestToSlice(t *testing.T) {
	if got := toSlice(nil); got != nil {
		t.Errorf("expected nil for nil input, got %v", got)
	}
	if got := toSlice("1.0"); !reflect.DeepEqual(got, []any{"1.0"}) {
		t.Errorf("expected scalar wrapped, got %v", got)
	}
	in := []any{"a", "b"}
	if got := toSlice(in); !reflect.DeepEqual(got, in) {
		t.Errorf("expected sequence passed through, got %v", got)
	}
}

func TestToMappings_BareMappingWrapped(t *testing.T) {
	m := map[string]any{"url": "http://example.com/f.tar.gz"}
	got, err := toMappings("release_urls", m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0], m) {
		t.Errorf("expected one-element wrap, got %v", got)
	}
}

func TestToMappings_Sequence(t *testing.T) {
	in := []any{
		map[string]any{"url": "a"},
		map[string]any{"url": "b"},
	}
	got, err := toMappings("release_urls", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected two mappings, got %v", got)
	}
}

func TestToMappings_ProtocolError(t *testing.T) {
	_, err := toMappings("release_urls", 42)
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if pe.Method != "release_urls" {
		t.Errorf("expected method in error, got %q", pe.Method)
	}
}

func TestToTime(t *testing.T) {
	want := time.Date(2012, 7, 1, 10, 30, 0, 0, time.UTC)

	if got := toTime(want); !got.Equal(want) {
		t.Errorf("expected time passed through, got %v", got)
	}
	if got := toTime("2012-07-01T10:30:00"); !got.Equal(want) {
		t.Errorf("expected ISO string parsed, got %v", got)
	}
	if got := toTime(nil); !got.IsZero() {
		t.Errorf("expected zero time for nil, got %v", got)
	}
}

func TestToInt64(t *testing.T) {
	cases := map[string]struct {
		in   any
		want int64
	}{
		"int":     {42, 42},
		"int64":   {int64(42), 42},
		"float64": {42.0, 42},
		"string":  {"42", 42},
		"nil":     {nil, 0},
	}
	for name, c := range cases {
		if got := toInt64(c.in); got != c.want {
			t.Errorf("%s: toInt64(%v) = %d, want %d", name, c.in, got, c.want)
		}
	}
}
