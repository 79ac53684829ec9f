package frame

import (
	"errors"
	"testing"
)

func TestParse_WellFormed(t *testing.T) {
	f, err := Parse("{1,4061,1,6010,0,0,0,0}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Len() != 8 {
		t.Fatalf("expected 8 values, got %d", f.Len())
	}
	want := []int64{1, 4061, 1, 6010, 0, 0, 0, 0}
	for i, w := range want {
		v, err := f.At(i)
		if err != nil || v != w {
			t.Fatalf("position %d: got %d (%v), want %d", i, v, err, w)
		}
	}
}

func TestParse_CountMatchesCommaSeparatedValues(t *testing.T) {
	cases := map[string]int{
		"{1}":             1,
		"{1,4061,1}":      3,
		"{1,4061,1,6010}": 4,
		" {0,0}\r\n":      2,
		"1,2,3":           3,
		"{ 1 , 2 , 3 }":   3,
	}
	for in, n := range cases {
		f, err := Parse(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if f.Len() != n {
			t.Fatalf("%q: expected %d values, got %d", in, n, f.Len())
		}
	}
}

func TestParse_Empty(t *testing.T) {
	for _, in := range []string{"", "{}", "   "} {
		f, err := Parse(in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", in, err)
		}
		if f.Len() != 0 {
			t.Fatalf("%q: expected empty frame, got %d", in, f.Len())
		}
	}
}

func TestParse_HTMLIsNotTelemetry(t *testing.T) {
	inputs := []string{
		"<!DOCTYPE html><html><body>404</body></html>",
		"  <html>{1,2,3}</html>",
		"<?xml version=\"1.0\"?>",
	}
	for _, in := range inputs {
		f, err := Parse(in)
		if !errors.Is(err, ErrNotTelemetry) {
			t.Fatalf("%q: expected ErrNotTelemetry, got %v", in, err)
		}
		if f.Len() != 0 {
			t.Fatalf("%q: expected no values on NotTelemetry, got %d", in, f.Len())
		}
	}
}

func TestParse_GarbageIsNotTelemetry(t *testing.T) {
	if _, err := Parse("service unavailable"); !errors.Is(err, ErrNotTelemetry) {
		t.Fatalf("expected ErrNotTelemetry, got %v", err)
	}
}

func TestFrame_AtDefensive(t *testing.T) {
	f, err := Parse("{1,x,3.0}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := f.At(5); !errors.Is(err, ErrFrameTooShort) {
		t.Fatalf("expected ErrFrameTooShort, got %v", err)
	}
	if _, err := f.At(-1); !errors.Is(err, ErrFrameTooShort) {
		t.Fatalf("expected ErrFrameTooShort for negative index, got %v", err)
	}
	if _, err := f.At(1); !errors.Is(err, ErrBadField) {
		t.Fatalf("expected ErrBadField, got %v", err)
	}
	if v, err := f.At(2); err != nil || v != 3 {
		t.Fatalf("expected integral float to parse to 3, got %d (%v)", v, err)
	}
}

func TestFrame_HeadAndValues(t *testing.T) {
	f := New(5, 6, 7)
	if h := f.Head(2); len(h) != 2 || h[1] != 6 {
		t.Fatalf("unexpected head %v", h)
	}
	if h := f.Head(10); len(h) != 3 {
		t.Fatalf("head beyond length should clamp, got %v", h)
	}
	v := f.Values()
	v[0] = 99
	if got, _ := f.At(0); got != 5 {
		t.Fatalf("Values must return a copy")
	}
}
