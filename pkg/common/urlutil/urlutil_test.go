package urlutil

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"acme.com", "https://acme.com"},
		{"  acme.com  ", "https://acme.com"},
		{"https://acme.com", "https://acme.com"},
		{"http://acme.com", "http://acme.com"},
		{"www.acme.com/contact", "https://www.acme.com/contact"},
		// Only an exact scheme prefix passes through.
		{"httpx://acme.com", "https://httpx://acme.com"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeAllDedupes(t *testing.T) {
	got := NormalizeAll([]string{"acme.com", "https://acme.com", "", "  ", "beta.io"})
	want := []string{"https://acme.com", "https://beta.io"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNormalizeAllIsCaseSensitive(t *testing.T) {
	got := NormalizeAll([]string{"Acme.com", "acme.com"})
	if len(got) != 2 {
		t.Fatalf("expected case-sensitive dedup to keep both, got %v", got)
	}
}
