package geoip

import (
	"errors"
	"testing"
)

func TestNewResolverEmptyPath(t *testing.T) {
	r, err := NewResolver("  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != nil {
		t.Fatalf("expected nil resolver for empty path")
	}
	if _, err := r.CountryCode("8.8.8.8"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close on nil resolver: %v", err)
	}
}

func TestNewResolverMissingFile(t *testing.T) {
	if _, err := NewResolver("/nonexistent/GeoLite2-Country.mmdb"); err == nil {
		t.Fatal("expected error opening missing database")
	}
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "203.0.113.7", want: "203.0.113.7"},
		{in: " 203.0.113.7:54321 ", want: "203.0.113.7"},
		{in: "[2001:db8::1]:443", want: "2001:db8::1"},
		{in: "2001:db8::1", want: "2001:db8::1"},
		{in: "not-an-ip", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		ip, err := parseAddr(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseAddr(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseAddr(%q): %v", tc.in, err)
		}
		if ip.String() != tc.want {
			t.Fatalf("parseAddr(%q) = %s, want %s", tc.in, ip, tc.want)
		}
	}
}
