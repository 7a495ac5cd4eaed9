// Package probe discovers the positional structure of an incrementally
// loaded listing: content groups stacked newest-first, each holding a
// run of item slots.
//
// The prober never reads content; it only answers "what exists right
// now", by address. The extraction loop re-probes between content loads
// because group boundaries shift as the page grows.
package probe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veridia/adscan/driver"
)

const (
	defaultFirstGroup   = 2
	defaultGapTolerance = 5
)

// Layout describes how group and item positions map to locators.
// All templates are printf-style.
type Layout struct {
	// GroupVariants are templates taking the group position, ordered
	// newest page shape first. A group exists at position g when any
	// variant's first item slot matches; the first matching variant wins.
	GroupVariants []string `yaml:"group_variants"`

	// Item is a template taking a group prefix and an item position.
	Item string `yaml:"item"`

	// FirstGroup is the position of the newest group. Default 2.
	FirstGroup int `yaml:"first_group"`
}

// Prober walks a Layout over a live page.
type Prober struct {
	Driver driver.PageDriver
	Layout Layout

	// GapTolerance is how many consecutive missing item positions end a
	// group's count. Default 5.
	GapTolerance int

	Log *slog.Logger
}

func (p *Prober) firstGroup() int {
	if p.Layout.FirstGroup > 0 {
		return p.Layout.FirstGroup
	}
	return defaultFirstGroup
}

func (p *Prober) gap() int {
	if p.GapTolerance > 0 {
		return p.GapTolerance
	}
	return defaultGapTolerance
}

// ItemLocator returns the locator of the item at 1-based position idx
// inside the group addressed by prefix.
func (p *Prober) ItemLocator(prefix string, idx int) driver.Locator {
	return driver.Locator(fmt.Sprintf(p.Layout.Item, prefix, idx))
}

// DiscoverGroups returns the prefixes of every group currently present,
// newest first. It walks positions from FirstGroup and stops at the
// first position where no layout variant has a first item.
func (p *Prober) DiscoverGroups(ctx context.Context) ([]string, error) {
	var prefixes []string
	for g := p.firstGroup(); ; g++ {
		found := ""
		for _, v := range p.Layout.GroupVariants {
			prefix := fmt.Sprintf(v, g)
			ok, err := p.Driver.Exists(ctx, p.ItemLocator(prefix, 1))
			if err != nil {
				return nil, fmt.Errorf("probe: group %d: %w", g, err)
			}
			if ok {
				found = prefix
				break
			}
		}
		if found == "" {
			break
		}
		prefixes = append(prefixes, found)
	}
	if p.Log != nil {
		p.Log.Debug("probe: groups discovered", "count", len(prefixes))
	}
	return prefixes, nil
}

// CountItems reports the extent of one group: the highest item position
// currently present. The walk tolerates up to GapTolerance consecutive
// missing positions before concluding the group has ended, so a slot
// that has not rendered yet sits inside the count instead of truncating
// it.
func (p *Prober) CountItems(ctx context.Context, prefix string) (int, error) {
	last, misses := 0, 0
	for idx := 1; misses < p.gap(); idx++ {
		ok, err := p.Driver.Exists(ctx, p.ItemLocator(prefix, idx))
		if err != nil {
			return 0, fmt.Errorf("probe: count %s: %w", prefix, err)
		}
		if ok {
			last = idx
			misses = 0
		} else {
			misses++
		}
	}
	return last, nil
}
