package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/veridia/adscan/driver"
)

// elementTimeout bounds every element lookup so a vanished element never
// stalls the whole run.
const elementTimeout = 10 * time.Second

// Session is one stealth page implementing driver.PageDriver.
type Session struct {
	page            *rod.Page
	navigateTimeout time.Duration
	log             *slog.Logger
}

var _ driver.PageDriver = (*Session)(nil)

// isXPath reports whether a locator is an XPath expression rather than
// a CSS selector.
func isXPath(loc driver.Locator) bool {
	return strings.HasPrefix(string(loc), "/") || strings.HasPrefix(string(loc), "(")
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navigateTimeout)
	defer cancel()

	p := s.page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.log.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

func (s *Session) Exists(ctx context.Context, loc driver.Locator) (bool, error) {
	p := s.page.Context(ctx)
	var (
		ok  bool
		err error
	)
	if isXPath(loc) {
		ok, _, err = p.HasX(string(loc))
	} else {
		ok, _, err = p.Has(string(loc))
	}
	if err != nil {
		return false, fmt.Errorf("browser: has %s: %w", loc, err)
	}
	return ok, nil
}

func (s *Session) WaitVisible(ctx context.Context, loc driver.Locator, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := s.element(waitCtx, loc, timeout)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("browser: wait visible %s: %w", loc, err)
	}
	return nil
}

func (s *Session) Click(ctx context.Context, loc driver.Locator) error {
	el, err := s.element(ctx, loc, elementTimeout)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", loc, err)
	}
	return nil
}

func (s *Session) Type(ctx context.Context, loc driver.Locator, text string) error {
	el, err := s.element(ctx, loc, elementTimeout)
	if err != nil {
		return err
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("browser: input %s: %w", loc, err)
	}
	return nil
}

func (s *Session) Submit(ctx context.Context, loc driver.Locator) error {
	el, err := s.element(ctx, loc, elementTimeout)
	if err != nil {
		return err
	}
	if err := el.Type(input.Enter); err != nil {
		return fmt.Errorf("browser: submit %s: %w", loc, err)
	}
	return nil
}

func (s *Session) Text(ctx context.Context, loc driver.Locator) (string, error) {
	el, err := s.element(ctx, loc, elementTimeout)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("browser: text %s: %w", loc, err)
	}
	return text, nil
}

func (s *Session) HTML(ctx context.Context, loc driver.Locator) (string, error) {
	el, err := s.element(ctx, loc, elementTimeout)
	if err != nil {
		return "", err
	}
	html, err := el.HTML()
	if err != nil {
		return "", fmt.Errorf("browser: html %s: %w", loc, err)
	}
	return html, nil
}

func (s *Session) Attribute(ctx context.Context, loc driver.Locator, name string) (string, error) {
	el, err := s.element(ctx, loc, elementTimeout)
	if err != nil {
		return "", err
	}
	val, err := el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("browser: attribute %s %s: %w", loc, name, err)
	}
	if val == nil {
		return "", nil
	}
	return *val, nil
}

func (s *Session) TriggerMoreContent(ctx context.Context) error {
	_, err := s.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	if err != nil {
		return fmt.Errorf("browser: scroll: %w", err)
	}
	return nil
}

// Close closes the underlying page.
func (s *Session) Close() error {
	if s.page != nil {
		return s.page.Close()
	}
	return nil
}

func (s *Session) element(ctx context.Context, loc driver.Locator, timeout time.Duration) (*rod.Element, error) {
	p := s.page.Context(ctx).Timeout(timeout)
	var (
		el  *rod.Element
		err error
	)
	if isXPath(loc) {
		el, err = p.ElementX(string(loc))
	} else {
		el, err = p.Element(string(loc))
	}
	if err != nil {
		return nil, fmt.Errorf("browser: element %s: %w", loc, err)
	}
	return el, nil
}
