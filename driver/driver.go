// Package driver defines the engine's view of a remote-controlled page.
//
// Locators are opaque strings interpreted by the concrete driver; the
// rod-backed implementation dispatches on shape (XPath expressions start
// with "/" or "("), and the engine never inspects them.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Locator addresses an element on the page.
type Locator string

// ErrNoMatch is returned when no locator of a Chain matched.
var ErrNoMatch = errors.New("driver: no locator matched")

// PageDriver is the minimal surface the engine needs from a live page.
// Every call honours ctx for cancellation; drivers apply their own
// per-call deadlines on top where noted.
type PageDriver interface {
	// Navigate loads the given URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error

	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)

	// Exists reports whether loc currently matches an element. It never
	// waits: absence is an answer, not an error.
	Exists(ctx context.Context, loc Locator) (bool, error)

	// WaitVisible blocks until loc matches a visible element or the
	// timeout elapses.
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error

	// Click clicks the element at loc.
	Click(ctx context.Context, loc Locator) error

	// Type focuses loc and types text into it, without submitting.
	Type(ctx context.Context, loc Locator, text string) error

	// Submit sends a form-submitting keystroke to the element at loc.
	Submit(ctx context.Context, loc Locator) error

	// Text returns the rendered text content of the element at loc.
	Text(ctx context.Context, loc Locator) (string, error)

	// HTML returns the outer HTML of the element at loc.
	HTML(ctx context.Context, loc Locator) (string, error)

	// Attribute returns the value of an attribute on the element at loc,
	// or "" when the attribute is absent.
	Attribute(ctx context.Context, loc Locator, name string) (string, error)

	// TriggerMoreContent asks the page to reveal more content, e.g. by
	// scrolling towards the bottom.
	TriggerMoreContent(ctx context.Context) error
}

// Chain is an ordered list of locator strategies for one logical target.
// The first locator that matches wins; later entries are fallbacks for
// older page layouts.
type Chain []Locator

// First returns the first locator in the chain that currently matches.
func (c Chain) First(ctx context.Context, d PageDriver) (Locator, error) {
	for _, loc := range c {
		ok, err := d.Exists(ctx, loc)
		if err != nil {
			return "", fmt.Errorf("driver: probe %q: %w", loc, err)
		}
		if ok {
			return loc, nil
		}
	}
	return "", ErrNoMatch
}

// Click clicks the first matching locator of the chain.
func (c Chain) Click(ctx context.Context, d PageDriver) error {
	loc, err := c.First(ctx, d)
	if err != nil {
		return err
	}
	return d.Click(ctx, loc)
}

// WaitAny waits until any locator of the chain becomes visible, trying
// each in order with a per-locator share of patience.
func (c Chain) WaitAny(ctx context.Context, d PageDriver, timeout time.Duration) (Locator, error) {
	if len(c) == 0 {
		return "", ErrNoMatch
	}
	per := timeout / time.Duration(len(c))
	for _, loc := range c {
		if err := d.WaitVisible(ctx, loc, per); err == nil {
			return loc, nil
		} else if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", ErrNoMatch
}
