package colorize

import (
	"strings"
	"testing"
)

const doc = `{"version": "035", "classes": 2, "filtered": false}`

func TestJSONDisabled(t *testing.T) {
	t.Setenv("DEXACCESS_NO_COLOR", "1")
	if got := JSON(doc); got != doc {
		t.Errorf("JSON() with color disabled = %q, want input unchanged", got)
	}
}

func TestJSONHighlights(t *testing.T) {
	t.Setenv("DEXACCESS_NO_COLOR", "")
	got := JSON(doc)
	if !strings.Contains(got, "\x1b[") {
		t.Fatalf("JSON() = %q, want ANSI escapes", got)
	}
	for _, want := range []string{`"version"`, `"035"`, "false"} {
		if !strings.Contains(got, want) {
			t.Errorf("JSON() lost %s", want)
		}
	}
}

func TestReportStyleRegistered(t *testing.T) {
	if s := reportStyle(); s.Name != "dexaccess-dark" {
		t.Errorf("reportStyle() = %q, want dexaccess-dark", s.Name)
	}
}
