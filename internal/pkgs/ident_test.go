package pkgs

import (
	"errors"
	"testing"
)

func TestParseIdent(t *testing.T) {
	cases := []struct {
		in      string
		want    Ident
		wantErr bool
	}{
		{in: "core/redis", want: Ident{Origin: "core", Name: "redis"}},
		{in: "core/redis/7.2.4", want: Ident{Origin: "core", Name: "redis", Version: "7.2.4"}},
		{in: "core/redis/7.2.4/20240101120000", want: Ident{Origin: "core", Name: "redis", Version: "7.2.4", Release: "20240101120000"}},
		{in: "redis", wantErr: true},
		{in: "core//7.2", wantErr: true},
		{in: "a/b/c/d/e", wantErr: true},
		{in: "core/../x", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseIdent(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidIdent) {
				t.Fatalf("%q: expected ErrInvalidIdent, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %+v want %+v", tc.in, got, tc.want)
		}
		if got.String() != tc.in {
			t.Fatalf("round trip: got %q want %q", got.String(), tc.in)
		}
	}
}

func TestIdentNewer(t *testing.T) {
	mk := func(v, r string) Ident { return Ident{Origin: "core", Name: "app", Version: v, Release: r} }
	cases := []struct {
		a, b  Ident
		newer bool
	}{
		{mk("1.0.1", "1"), mk("1.0.0", "1"), true},
		{mk("1.0.0", "2"), mk("1.0.0", "1"), true},
		{mk("1.0.0", "1"), mk("1.0.0", "1"), false},
		{mk("1.10.0", "1"), mk("1.9.0", "1"), true},
		{mk("1.2.1", "1"), mk("1.2", "9"), true},
		{mk("1.0.0", "20240102000000"), mk("1.0.0", "20240101000000"), true},
		{mk("0.9", "1"), mk("1.0", "1"), false},
		{Ident{Origin: "other", Name: "app", Version: "9", Release: "9"}, mk("1", "1"), false},
	}
	for _, tc := range cases {
		if got := tc.a.Newer(tc.b); got != tc.newer {
			t.Fatalf("%s newer than %s: got %v want %v", tc.a, tc.b, got, tc.newer)
		}
	}
}

func TestIdentSatisfies(t *testing.T) {
	full := Ident{Origin: "core", Name: "app", Version: "1.0", Release: "5"}
	if !full.Satisfies(Ident{Origin: "core", Name: "app"}) {
		t.Fatal("expected partial ident to be satisfied")
	}
	if !full.Satisfies(Ident{Origin: "core", Name: "app", Version: "1.0"}) {
		t.Fatal("expected version ident to be satisfied")
	}
	if full.Satisfies(Ident{Origin: "core", Name: "app", Version: "2.0"}) {
		t.Fatal("did not expect other version to be satisfied")
	}
}
