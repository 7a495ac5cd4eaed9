// Package extract runs the incremental extraction loop: trigger more
// content, re-probe the group structure, parse only the delta, repeat
// until the page stops growing or the limit is reached.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veridia/adscan/driver"
	"github.com/veridia/adscan/probe"
)

// SchemaVersion identifies the Item JSON layout.
const SchemaVersion = 1

// Item is the fixed schema every parsed listing item maps onto.
type Item struct {
	SchemaVersion int      `json:"schema_version"`
	ID            string   `json:"id"`
	Owner         string   `json:"owner"`
	Status        string   `json:"status"`
	Started       string   `json:"started"`
	Body          string   `json:"body"`
	CTA           string   `json:"cta,omitempty"`
	Links         []Link   `json:"links,omitempty"`
	MediaURLs     []string `json:"media_urls,omitempty"`
}

// Link is an outbound link found inside an item.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// Suggestion is one entry harvested from the search suggestion dropdown.
type Suggestion struct {
	PageID  string `json:"page_id"`
	Name    string `json:"name"`
	RawText string `json:"raw_text,omitempty"`
}

// ItemParser turns the element at a locator into an Item. Parsers are
// pluggable; cardparse provides the default.
type ItemParser interface {
	Parse(ctx context.Context, d driver.PageDriver, loc driver.Locator) (Item, error)
}

// ParseError reports a single item that could not be parsed. The loop
// recovers from it by skipping the item.
type ParseError struct {
	Locator driver.Locator
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("extract: parse %s: %v", e.Locator, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

const defaultMaxIdleRounds = 2

// Loop drives one extraction pass over a listing page.
type Loop struct {
	Driver driver.PageDriver
	Prober *probe.Prober
	Parser ItemParser

	// MaxIdleRounds is how many consecutive rounds without new items end
	// the pass. Default 2.
	MaxIdleRounds int

	// SettleDelay is how long to wait after triggering more content
	// before re-probing. Zero waits not at all.
	SettleDelay time.Duration

	Log *slog.Logger
}

func (l *Loop) maxIdle() int {
	if l.MaxIdleRounds > 0 {
		return l.MaxIdleRounds
	}
	return defaultMaxIdleRounds
}

func (l *Loop) log() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

// Run extracts items until the page stops yielding new ones or limit
// items have been parsed. A limit of 0 means unbounded. Items parsed
// before a failure are returned alongside the error.
//
// Parsing is delta-only: a running offset across the newest-first groups
// skips everything parsed in earlier rounds, so items are never parsed
// twice even as group boundaries shift between rounds.
func (l *Loop) Run(ctx context.Context, limit int) ([]Item, error) {
	var items []Item
	seen := 0
	idle := 0

	// Nudge the page so the first batch loads.
	if err := l.Driver.TriggerMoreContent(ctx); err != nil {
		return nil, fmt.Errorf("extract: trigger: %w", err)
	}
	if err := l.settle(ctx); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		prefixes, err := l.Prober.DiscoverGroups(ctx)
		if err != nil {
			return items, fmt.Errorf("extract: %w", err)
		}
		counts := make([]int, len(prefixes))
		total := 0
		for i, p := range prefixes {
			n, err := l.Prober.CountItems(ctx, p)
			if err != nil {
				return items, fmt.Errorf("extract: %w", err)
			}
			counts[i] = n
			total += n
		}

		if total > seen {
			l.log().Debug("extract: new items detected", "new", total-seen, "total", total)
			cumulative := 0
			for i, prefix := range prefixes {
				n := counts[i]
				already := seen - cumulative
				if already < 0 {
					already = 0
				}
				cumulative += n

				for idx := already + 1; idx <= n; idx++ {
					if limit > 0 && len(items) >= limit {
						return items, nil
					}
					loc := l.Prober.ItemLocator(prefix, idx)
					item, err := l.Parser.Parse(ctx, l.Driver, loc)
					if err != nil {
						if ctx.Err() != nil {
							return items, ctx.Err()
						}
						l.log().Warn("extract: item skipped", "locator", string(loc), "error", err)
						continue
					}
					items = append(items, item)
				}
			}
			seen = total
			idle = 0
		} else {
			idle++
			if idle >= l.maxIdle() {
				return items, nil
			}
		}

		if limit > 0 && len(items) >= limit {
			return items, nil
		}
		if err := l.Driver.TriggerMoreContent(ctx); err != nil {
			return items, fmt.Errorf("extract: trigger: %w", err)
		}
		if err := l.settle(ctx); err != nil {
			return items, err
		}
	}
}

func (l *Loop) settle(ctx context.Context) error {
	if l.SettleDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(l.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
