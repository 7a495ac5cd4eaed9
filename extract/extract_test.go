package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/veridia/adscan/driver"
	"github.com/veridia/adscan/driver/drivertest"
	"github.com/veridia/adscan/probe"
)

var testLayout = probe.Layout{
	GroupVariants: []string{"/root/group[%d]/new", "/root/group[%d]/old"},
	Item:          "%s/item[%d]",
	FirstGroup:    2,
}

// textParser maps an item element's scripted text onto Item.ID.
type textParser struct{}

func (textParser) Parse(ctx context.Context, d driver.PageDriver, loc driver.Locator) (Item, error) {
	text, err := d.Text(ctx, loc)
	if err != nil {
		return Item{}, &ParseError{Locator: loc, Err: err}
	}
	if text == "broken" {
		return Item{}, &ParseError{Locator: loc, Err: errors.New("scripted failure")}
	}
	return Item{SchemaVersion: SchemaVersion, ID: text}, nil
}

func addItem(f *drivertest.Fake, group string, idx int, text string) {
	loc := driver.Locator(fmt.Sprintf("%s/item[%d]", group, idx))
	f.Add(loc, drivertest.Element{Text: text})
}

func newLoop(f *drivertest.Fake) *Loop {
	return &Loop{
		Driver: f,
		Prober: &probe.Prober{Driver: f, Layout: testLayout},
		Parser: textParser{},
		Log:    slog.New(slog.DiscardHandler),
	}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestRun_GrowthThenIdle(t *testing.T) {
	f := drivertest.New()
	for i := 1; i <= 3; i++ {
		addItem(f, "/root/group[2]/new", i, fmt.Sprintf("a%d", i))
	}
	f.OnTrigger = func(f *drivertest.Fake, round int) {
		if round == 2 {
			for i := 4; i <= 7; i++ {
				addItem(f, "/root/group[2]/new", i, fmt.Sprintf("a%d", i))
			}
		}
	}

	items, err := newLoop(f).Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7"}
	got := ids(items)
	if len(got) != len(want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_NoDoubleParse(t *testing.T) {
	f := drivertest.New()
	parsed := map[driver.Locator]int{}
	counting := parseCounter{inner: textParser{}, counts: parsed}

	for i := 1; i <= 3; i++ {
		addItem(f, "/root/group[2]/new", i, fmt.Sprintf("a%d", i))
	}
	f.OnTrigger = func(f *drivertest.Fake, round int) {
		if round == 2 {
			addItem(f, "/root/group[2]/new", 4, "a4")
		}
	}

	loop := newLoop(f)
	loop.Parser = counting
	if _, err := loop.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for loc, n := range parsed {
		if n != 1 {
			t.Errorf("locator %s parsed %d times", loc, n)
		}
	}
}

type parseCounter struct {
	inner  ItemParser
	counts map[driver.Locator]int
}

func (p parseCounter) Parse(ctx context.Context, d driver.PageDriver, loc driver.Locator) (Item, error) {
	p.counts[loc]++
	return p.inner.Parse(ctx, d, loc)
}

func TestRun_ShiftingGroupBoundaries(t *testing.T) {
	f := drivertest.New()
	// Round 1: one group with three items.
	for i := 1; i <= 3; i++ {
		addItem(f, "/root/group[2]/new", i, fmt.Sprintf("old%d", i))
	}
	// Round 2: a fresh group is prepended at position 2 and the previous
	// content shifts to position 3 under the older layout shape.
	f.OnTrigger = func(f *drivertest.Fake, round int) {
		if round != 2 {
			return
		}
		for i := 1; i <= 3; i++ {
			f.Remove(driver.Locator(fmt.Sprintf("/root/group[2]/new/item[%d]", i)))
		}
		addItem(f, "/root/group[2]/new", 1, "fresh1")
		addItem(f, "/root/group[2]/new", 2, "fresh2")
		for i := 1; i <= 3; i++ {
			addItem(f, "/root/group[3]/old", i, fmt.Sprintf("old%d", i))
		}
	}

	items, err := newLoop(f).Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The running offset skips the first three slots of the flattened
	// listing, so only the tail beyond position 3 is parsed.
	want := []string{"old1", "old2", "old3", "old2", "old3"}
	got := ids(items)
	if len(got) != len(want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
}

func TestRun_LimitExact(t *testing.T) {
	f := drivertest.New()
	for i := 1; i <= 9; i++ {
		addItem(f, "/root/group[2]/new", i, fmt.Sprintf("a%d", i))
	}

	items, err := newLoop(f).Run(context.Background(), 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("len(items) = %d, want exactly 5", len(items))
	}
}

func TestRun_ParseFailureSkipped(t *testing.T) {
	f := drivertest.New()
	addItem(f, "/root/group[2]/new", 1, "a1")
	addItem(f, "/root/group[2]/new", 2, "broken")
	addItem(f, "/root/group[2]/new", 3, "a3")

	items, err := newLoop(f).Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := ids(items)
	if len(got) != 2 || got[0] != "a1" || got[1] != "a3" {
		t.Fatalf("items = %v, want [a1 a3]", got)
	}
}

func TestRun_HoleInsideGroupSkipped(t *testing.T) {
	f := drivertest.New()
	// position 4 never renders; the count still extends to 8 and the
	// unrendered slot costs only itself
	for _, i := range []int{1, 2, 3, 5, 6, 7, 8} {
		addItem(f, "/root/group[2]/new", i, fmt.Sprintf("a%d", i))
	}

	items, err := newLoop(f).Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"a1", "a2", "a3", "a5", "a6", "a7", "a8"}
	got := ids(items)
	if len(got) != len(want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_EmptyPage(t *testing.T) {
	f := drivertest.New()
	items, err := newLoop(f).Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items = %v, want none", items)
	}
	// one nudge plus one trigger before the final idle round
	if f.Rounds() != 2 {
		t.Fatalf("Rounds = %d, want 2", f.Rounds())
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := drivertest.New()
	addItem(f, "/root/group[2]/new", 1, "a1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newLoop(f).Run(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestParseError_Unwrap(t *testing.T) {
	cause := errors.New("cause")
	err := &ParseError{Locator: "/x", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("ParseError does not unwrap to its cause")
	}
}
