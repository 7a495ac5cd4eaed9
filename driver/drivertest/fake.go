// Package drivertest provides a scripted in-memory PageDriver for tests.
package drivertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veridia/adscan/driver"
)

// Fake is a PageDriver whose page content is set by the test. All
// methods are safe for concurrent use.
//
// OnTrigger, when set, runs on each TriggerMoreContent call with the
// 1-based round number; tests use it to make content appear gradually.
type Fake struct {
	mu sync.Mutex

	url      string
	elements map[driver.Locator]*Element

	NavigateErr error
	OnTrigger   func(f *Fake, round int)

	navigations []string
	clicks      []driver.Locator
	typed       map[driver.Locator]string
	submitted   []driver.Locator
	rounds      int
}

// Element is the scripted state of one locator.
type Element struct {
	Text  string
	HTML  string
	Attrs map[string]string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		elements: make(map[driver.Locator]*Element),
		typed:    make(map[driver.Locator]string),
	}
}

// Add makes loc exist with the given scripted content.
func (f *Fake) Add(loc driver.Locator, el Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := el
	f.elements[loc] = &e
}

// AddAll makes each locator exist with empty content.
func (f *Fake) AddAll(locs ...driver.Locator) {
	for _, loc := range locs {
		f.Add(loc, Element{})
	}
}

// Remove makes loc stop existing.
func (f *Fake) Remove(loc driver.Locator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.elements, loc)
}

// Navigations returns every URL passed to Navigate, in order.
func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// Clicks returns every locator passed to Click, in order.
func (f *Fake) Clicks() []driver.Locator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.Locator(nil), f.clicks...)
}

// Typed returns the last text typed into loc.
func (f *Fake) Typed(loc driver.Locator) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typed[loc]
}

// Submitted returns every locator passed to Submit, in order.
func (f *Fake) Submitted() []driver.Locator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.Locator(nil), f.submitted...)
}

// Rounds returns how many times TriggerMoreContent ran.
func (f *Fake) Rounds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rounds
}

// SetURL sets the current location without recording a navigation.
func (f *Fake) SetURL(u string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = u
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NavigateErr != nil {
		return f.NavigateErr
	}
	f.url = url
	f.navigations = append(f.navigations, url)
	return nil
}

func (f *Fake) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *Fake) Exists(ctx context.Context, loc driver.Locator) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.elements[loc]
	return ok, nil
}

func (f *Fake) WaitVisible(ctx context.Context, loc driver.Locator, timeout time.Duration) error {
	ok, err := f.Exists(ctx, loc)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("drivertest: %q not visible", loc)
	}
	return nil
}

func (f *Fake) Click(ctx context.Context, loc driver.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.elements[loc]; !ok {
		return fmt.Errorf("drivertest: click %q: no such element", loc)
	}
	f.clicks = append(f.clicks, loc)
	return nil
}

func (f *Fake) Type(ctx context.Context, loc driver.Locator, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.elements[loc]; !ok {
		return fmt.Errorf("drivertest: type into %q: no such element", loc)
	}
	f.typed[loc] = text
	return nil
}

func (f *Fake) Submit(ctx context.Context, loc driver.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.elements[loc]; !ok {
		return fmt.Errorf("drivertest: submit %q: no such element", loc)
	}
	f.submitted = append(f.submitted, loc)
	return nil
}

func (f *Fake) Text(ctx context.Context, loc driver.Locator) (string, error) {
	el, err := f.element(ctx, loc)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (f *Fake) HTML(ctx context.Context, loc driver.Locator) (string, error) {
	el, err := f.element(ctx, loc)
	if err != nil {
		return "", err
	}
	return el.HTML, nil
}

func (f *Fake) Attribute(ctx context.Context, loc driver.Locator, name string) (string, error) {
	el, err := f.element(ctx, loc)
	if err != nil {
		return "", err
	}
	return el.Attrs[name], nil
}

func (f *Fake) TriggerMoreContent(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.rounds++
	round := f.rounds
	hook := f.OnTrigger
	f.mu.Unlock()
	if hook != nil {
		hook(f, round)
	}
	return nil
}

func (f *Fake) element(ctx context.Context, loc driver.Locator) (*Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.elements[loc]
	if !ok {
		return nil, fmt.Errorf("drivertest: %q: no such element", loc)
	}
	return el, nil
}

var _ driver.PageDriver = (*Fake)(nil)
