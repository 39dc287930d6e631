package region

import (
	"net/http"
	"testing"
)

func TestOfPriorityOrder(t *testing.T) {
	h := http.Header{}
	h.Set("x-vercel-id", "iad1::abcde")
	h.Set("cf-ipcountry", "FR")
	h.Set("x-vercel-ip-country", "de")
	if got := Of(h); got != "DE" {
		t.Errorf("Of() = %q, want %q (highest priority header wins, uppercased)", got, "DE")
	}
}

func TestOfFallsBackThroughHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("x-vercel-id", "iad1::abcde")
	if got := Of(h); got != "IAD1::ABCDE" {
		t.Errorf("Of() = %q, want %q", got, "IAD1::ABCDE")
	}
}

func TestOfDefaultsToGlobal(t *testing.T) {
	h := http.Header{}
	if got := Of(h); got != "GLOBAL" {
		t.Errorf("Of() = %q, want GLOBAL when no region headers are present", got)
	}
}

func TestOfNeverEmpty(t *testing.T) {
	h := http.Header{}
	h.Set("cf-ipcountry", "   ")
	if got := Of(h); len(got) == 0 {
		t.Error("Of() should never return an empty string")
	}
}
