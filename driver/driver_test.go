package driver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veridia/adscan/driver"
	"github.com/veridia/adscan/driver/drivertest"
)

func TestChain_FirstMatchWins(t *testing.T) {
	f := drivertest.New()
	f.AddAll("#new-layout", "#old-layout")

	c := driver.Chain{"#missing", "#new-layout", "#old-layout"}
	loc, err := c.First(context.Background(), f)
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if loc != "#new-layout" {
		t.Fatalf("First = %q, want #new-layout", loc)
	}
}

func TestChain_NoMatch(t *testing.T) {
	f := drivertest.New()
	c := driver.Chain{"#a", "#b"}
	_, err := c.First(context.Background(), f)
	if !errors.Is(err, driver.ErrNoMatch) {
		t.Fatalf("error = %v, want ErrNoMatch", err)
	}
}

func TestChain_ClickFallback(t *testing.T) {
	f := drivertest.New()
	f.AddAll("#fallback")

	c := driver.Chain{"#preferred", "#fallback"}
	if err := c.Click(context.Background(), f); err != nil {
		t.Fatalf("Click: %v", err)
	}
	clicks := f.Clicks()
	if len(clicks) != 1 || clicks[0] != "#fallback" {
		t.Fatalf("Clicks = %v, want [#fallback]", clicks)
	}
}

func TestChain_WaitAny(t *testing.T) {
	f := drivertest.New()
	f.AddAll("#b")

	c := driver.Chain{"#a", "#b"}
	loc, err := c.WaitAny(context.Background(), f, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitAny: %v", err)
	}
	if loc != "#b" {
		t.Fatalf("WaitAny = %q, want #b", loc)
	}
}

func TestChain_CancelledContext(t *testing.T) {
	f := drivertest.New()
	f.AddAll("#a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := driver.Chain{"#a"}
	if _, err := c.First(ctx, f); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
