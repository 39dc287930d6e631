package upstream

import (
	"reflect"
	"testing"

	"github.com/dohrelay/dohrelay/internal/constants"
)

func TestLoadEmptyFallsBackToDefault(t *testing.T) {
	got := Load("")
	want := constants.Get().DefaultUpstreams
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load(\"\") = %v, want default list %v", got, want)
	}
}

func TestLoadBlankFallsBackToDefault(t *testing.T) {
	got := Load("   \n\t  ")
	if len(got) == 0 {
		t.Error("Load() of blank input should fall back to the default list, not return empty")
	}
}

func TestLoadSplitsOnCommasNewlinesAndWhitespace(t *testing.T) {
	got := Load("https://a.example, https://b.example\nhttps://c.example   https://d.example")
	want := []string{
		"https://a.example/dns-query",
		"https://b.example/dns-query",
		"https://c.example/dns-query",
		"https://d.example/dns-query",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %v, want %v", got, want)
	}
}

func TestLoadNormalizesBareHost(t *testing.T) {
	got := Load("https://x.example")
	want := []string{"https://x.example/dns-query"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %v, want %v", got, want)
	}
}

func TestLoadPassesThroughQueryString(t *testing.T) {
	got := Load("https://x.example/custom?foo=1")
	want := []string{"https://x.example/custom?foo=1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %v, want %v", got, want)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"https://x.example",
		"https://x.example/",
		"https://x.example/dns-query",
		"https://x.example/dns-query/",
		"https://x.example/custom?foo=1",
	}
	for _, in := range inputs {
		once := normalize(in)
		twice := normalize(once)
		if once != twice {
			t.Errorf("normalize(%q) = %q, normalize(normalize(%q)) = %q, want idempotent", in, once, in, twice)
		}
	}
}

func TestUnionDedupesNormalizedValues(t *testing.T) {
	base := []string{"https://a.example/dns-query"}
	extra := []string{"https://a.example", "https://b.example/"}
	got := Union(base, extra)
	want := []string{"https://a.example/dns-query", "https://b.example/dns-query"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Union() = %v, want %v", got, want)
	}
}
