package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/veridia/adscan/filterspec"
)

const minimalYAML = `
pairs:
  - region: Thailand
    query: properties
`

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Mode != ModeItemsOnly {
		t.Errorf("Mode = %q", c.Mode)
	}
	if c.Target != DefaultTarget {
		t.Errorf("Target = %q", c.Target)
	}
	if c.Limit != 1000 {
		t.Errorf("Limit = %d", c.Limit)
	}
	if c.SettleDelay != 1200*time.Millisecond {
		t.Errorf("SettleDelay = %v", c.SettleDelay)
	}
	if c.OutputID != ModeItemsOnly {
		t.Errorf("OutputID = %q", c.OutputID)
	}
	if got := filepath.Base(c.CheckpointFile); got != "itemsOnly_checkpoint.json" {
		t.Errorf("CheckpointFile = %q", c.CheckpointFile)
	}
	if !*c.AppendResults || !*c.Resume {
		t.Error("AppendResults and Resume should default to true")
	}
	if len(c.Layout.GroupVariants) != 2 || c.Layout.FirstGroup != 2 {
		t.Errorf("Layout = %+v", c.Layout)
	}
}

func TestParse_Full(t *testing.T) {
	raw := `
mode: suggestionsThenItems
pairs:
  - region: Thailand
    query: properties
  - region: Vietnam
    query: loans
filters:
  status: inactive
  languages: [Thai, en]
  platforms: [facebook]
  media_type: video
  start_date: "2026-01-01"
  owners: [Acme, Globex]
limit: 50
max_idle_rounds: 3
gap_tolerance: 8
output_id: southeast-asia
append_results: false
resume: false
log_level: debug
browser:
  headless: false
  cookie_file: cookies.txt
`
	c, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Mode != ModeSuggestionsThenItems {
		t.Errorf("Mode = %q", c.Mode)
	}
	if len(c.Pairs) != 2 || c.Pairs[1].Query != "loans" {
		t.Errorf("Pairs = %+v", c.Pairs)
	}
	if c.Filters.Status != "inactive" || len(c.Filters.Owners) != 2 {
		t.Errorf("Filters = %+v", c.Filters)
	}
	if *c.AppendResults || *c.Resume {
		t.Error("explicit false overridden by defaults")
	}
	if c.Browser.Headless == nil || *c.Browser.Headless {
		t.Error("browser.headless false not honoured")
	}
	if c.Browser.CookieFile != "cookies.txt" {
		t.Errorf("CookieFile = %q", c.Browser.CookieFile)
	}
	if c.GapTolerance != 8 {
		t.Errorf("GapTolerance = %d", c.GapTolerance)
	}
}

func TestParse_UnknownMode(t *testing.T) {
	_, err := Parse([]byte("mode: everything\npairs:\n  - {region: A, query: b}\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Fatalf("error = %v", err)
	}
}

func TestParse_NoPairs(t *testing.T) {
	if _, err := Parse([]byte("mode: itemsOnly\n")); err == nil {
		t.Fatal("expected error for missing pairs")
	}
}

func TestParse_FilterValidationPropagates(t *testing.T) {
	raw := minimalYAML + `
filters:
  languages: [klingon]
`
	_, err := Parse([]byte(raw))
	var verr *filterspec.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *filterspec.ValidationError", err)
	}
}

func TestParse_BadYAML(t *testing.T) {
	if _, err := Parse([]byte("pairs: [")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
