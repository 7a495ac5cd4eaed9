// Package config loads and validates the run configuration from YAML,
// filling defaults for everything the file leaves out.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veridia/adscan/browser"
	"github.com/veridia/adscan/filterspec"
	"github.com/veridia/adscan/probe"
	"github.com/veridia/adscan/tasks"
)

// Run modes.
const (
	ModeItemsOnly            = "itemsOnly"
	ModeSuggestionsOnly      = "suggestionsOnly"
	ModeSuggestionsThenItems = "suggestionsThenItems"
)

// DefaultTarget is the listing entry point before filters are applied.
const DefaultTarget = "https://www.facebook.com/ads/library/" +
	"?active_status=active&ad_type=all&country=ALL" +
	"&is_targeted_country=false&media_type=all"

// listingHead is the stable path prefix of the listing container.
const listingHead = "/html/body/div[1]/div/div/div/div/div/div/div[1]/div/div/div/div[5]/div[2]"

// DefaultLayout returns the positional layout of the listing's content
// groups, newest page shape first.
func DefaultLayout() probe.Layout {
	return probe.Layout{
		GroupVariants: []string{
			listingHead + "/div[%d]/div[4]/div[1]",
			listingHead + "/div[%d]/div[3]/div[1]",
		},
		Item:       "%s/div[%d]/div",
		FirstGroup: 2,
	}
}

// Config is the full run configuration.
type Config struct {
	// Mode selects what each task collects.
	Mode string `yaml:"mode"`

	// Target is the listing URL tasks start from.
	Target string `yaml:"target"`

	// Pairs are the (region, query) combinations to run.
	Pairs []tasks.Pair `yaml:"pairs"`

	// Filters is the declarative filter applied to every task.
	Filters filterspec.Spec `yaml:"filters"`

	// Limit caps items extracted per task. 0 = unbounded. Default 1000.
	Limit int `yaml:"limit"`

	// MaxIdleRounds and GapTolerance tune the extraction loop.
	MaxIdleRounds int `yaml:"max_idle_rounds"`
	GapTolerance  int `yaml:"gap_tolerance"`

	// SettleDelay is the wait after each content trigger. Default 1.2s.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// OutputID names the result collection. Default: the mode.
	OutputID string `yaml:"output_id"`

	// OutputDir holds result, checkpoint and audit files.
	OutputDir string `yaml:"output_dir"`

	// AppendResults keeps one growing collection file; false claims a
	// fresh numbered file per run. Default true.
	AppendResults *bool `yaml:"append_results"`

	// Resume skips tasks recorded in the checkpoint. Default true.
	Resume *bool `yaml:"resume"`

	// CheckpointFile overrides the default checkpoint location.
	CheckpointFile string `yaml:"checkpoint_file"`

	// AuditDB overrides the default audit database location.
	AuditDB string `yaml:"audit_db"`

	LogLevel string `yaml:"log_level"`

	Browser browser.Config `yaml:"browser"`

	// Layout overrides the listing structure; zero value uses
	// DefaultLayout.
	Layout probe.Layout `yaml:"layout"`
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = ModeItemsOnly
	}
	if c.Target == "" {
		c.Target = DefaultTarget
	}
	if c.Limit == 0 {
		c.Limit = 1000
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 1200 * time.Millisecond
	}
	if c.OutputDir == "" {
		c.OutputDir = "results"
	}
	if c.OutputID == "" {
		c.OutputID = c.Mode
	}
	if c.AppendResults == nil {
		t := true
		c.AppendResults = &t
	}
	if c.Resume == nil {
		t := true
		c.Resume = &t
	}
	if c.CheckpointFile == "" {
		c.CheckpointFile = filepath.Join(c.OutputDir, c.Mode+"_checkpoint.json")
	}
	if c.AuditDB == "" {
		c.AuditDB = filepath.Join(c.OutputDir, "audit.db")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Layout.GroupVariants) == 0 {
		c.Layout = DefaultLayout()
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeItemsOnly, ModeSuggestionsOnly, ModeSuggestionsThenItems:
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("config: no (region, query) pairs")
	}
	for i, p := range c.Pairs {
		if p.Region == "" || p.Query == "" {
			return fmt.Errorf("config: pair %d: region and query must be set", i)
		}
	}
	if c.Limit < 0 {
		return fmt.Errorf("config: limit must be >= 0")
	}
	if err := c.Filters.Validate(); err != nil {
		return err
	}
	return nil
}

// Load reads a YAML config file, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	c.defaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
