package constants

import (
	"testing"
)

func TestPostGet(t *testing.T) {
	if readOnlyConstants == nil {
		t.Error("Expected readOnlyConstants to be set by init() prior to me")
	}
}

// TestValues tests that at least a few of the constants have been
// initialized. Too tiresome to test them all and obviously of limited
// value.
func TestValues(t *testing.T) {
	consts := Get()
	if len(consts.ServerProgramName) == 0 {
		t.Error("consts.ServerProgramName should be set but it's zero length")
	}
	if len(consts.RFC) == 0 {
		t.Error("consts.RFC should be set but it's zero length")
	}

	if len(consts.HTTPSDefaultPort) == 0 {
		t.Error("consts.HTTPSDefaultPort should be set but it's zero length")
	}
	if len(consts.Rfc8484Path) == 0 {
		t.Error("consts.Rfc8484Path should be set but it's zero length")
	}

	if consts.HedgeDelay <= 0 {
		t.Error("consts.HedgeDelay should be set but it's zero")
	}
	if consts.SafetyTimeout <= consts.HedgeDelay {
		t.Error("consts.SafetyTimeout should comfortably exceed HedgeDelay")
	}
	if len(consts.DefaultUpstreams) == 0 {
		t.Error("consts.DefaultUpstreams should not be empty")
	}
}

func TestGetIsACopy(t *testing.T) {
	a := Get()
	a.RFC = "mutated"
	b := Get()
	if b.RFC == "mutated" {
		t.Error("Get() should return an independent copy, not a shared pointer's contents")
	}
}
