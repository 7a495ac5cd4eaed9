// Package cardparse is the default ItemParser for ad-library cards. It
// maps a card's outer HTML onto the fixed Item schema: identity and
// status from labelled spans, the creative body from the text after the
// "Sponsored" marker, a call-to-action from a known phrase list, and
// outbound links and media sources from the card's anchors and images.
package cardparse

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/veridia/adscan/driver"
	"github.com/veridia/adscan/extract"
)

// defaultSourceDomains are hosts owned by the source platform; links
// pointing at them are navigation, not ad destinations.
var defaultSourceDomains = []string{
	"facebook.com", "fb.com", "facebookw.com", "fb.me", "fb.watch",
}

// ctaPhrases are the call-to-action labels the platform renders on card
// footers, most common first.
var ctaPhrases = []string{
	"Learn More", "Learn more", "Shop Now", "Shop now", "Book Now",
	"Book now", "Donate", "Donate now", "Apply Now", "Apply now",
	"Get offer", "Get Offer", "Get quote", "Sign Up", "Sign up",
	"Contact us", "Send message", "Send Message", "Subscribe",
	"Read more", "Send WhatsApp message", "Send WhatsApp Message",
	"Watch video", "Watch Video",
}

var (
	urlLineRe    = regexp.MustCompile(`(?i)^https?://`)
	domainLineRe = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+\.[A-Z]{2,}$`)
	ctaStopRe    = regexp.MustCompile(`^\w.*\b(Shop|Learn|Contact|Apply|Sign)\b`)
)

// Parser parses ad cards. The zero value is not usable; construct with
// New.
type Parser struct {
	sourceDomains map[string]bool
	sanitize      *bluemonday.Policy
	md            *converter.Converter
}

// New returns a Parser for the default source platform.
func New() *Parser {
	domains := make(map[string]bool, len(defaultSourceDomains))
	for _, d := range defaultSourceDomains {
		domains[d] = true
	}
	return &Parser{
		sourceDomains: domains,
		sanitize:      bluemonday.UGCPolicy(),
		md: converter.NewConverter(converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		)),
	}
}

// Parse fetches the card's outer HTML through the driver and parses it.
func (p *Parser) Parse(ctx context.Context, d driver.PageDriver, loc driver.Locator) (extract.Item, error) {
	outer, err := d.HTML(ctx, loc)
	if err != nil {
		return extract.Item{}, &extract.ParseError{Locator: loc, Err: err}
	}
	item, err := p.ParseHTML(outer)
	if err != nil {
		return extract.Item{}, &extract.ParseError{Locator: loc, Err: err}
	}
	return item, nil
}

// ParseHTML parses one card's outer HTML into an Item.
func (p *Parser) ParseHTML(outer string) (extract.Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(outer))
	if err != nil {
		return extract.Item{}, fmt.Errorf("cardparse: parse html: %w", err)
	}

	item := extract.Item{SchemaVersion: extract.SchemaVersion}

	doc.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := ownText(s)
		switch {
		case item.Status == "" && (strings.Contains(text, "Active") || strings.Contains(text, "Inactive")):
			item.Status = text
		case item.ID == "" && strings.Contains(text, "Library ID"):
			if _, after, ok := strings.Cut(text, ":"); ok {
				item.ID = strings.TrimSpace(after)
			}
		case item.Started == "" && strings.Contains(text, "Started running"):
			item.Started = text
		}
		return item.Status == "" || item.ID == "" || item.Started == ""
	})

	item.Owner = strings.TrimSpace(doc.Find(`a[href^="https://www.facebook.com/"]`).First().Text())

	raw := p.renderText(outer)
	item.Body = bodyAfterSponsored(raw)
	item.CTA = findCTA(raw)
	item.Links = p.outboundLinks(doc)
	item.MediaURLs = mediaURLs(doc)
	return item, nil
}

// renderText renders the card HTML to markdown after sanitising it, to
// recover the line structure of the on-screen text.
func (p *Parser) renderText(outer string) string {
	clean := p.sanitize.Sanitize(outer)
	md, err := p.md.ConvertString(clean)
	if err != nil {
		// Fall back to the flat text with no line structure.
		return clean
	}
	return md
}

// bodyAfterSponsored returns the creative text: the lines following the
// "Sponsored" marker, stopping at a destination URL, a bare domain, or a
// short call-to-action line.
func bodyAfterSponsored(raw string) string {
	_, after, ok := strings.Cut(raw, "Sponsored")
	if !ok {
		return ""
	}
	var lines []string
	for _, ln := range strings.Split(strings.TrimLeft(after, " \t\r\n"), "\n") {
		ln = strings.TrimRight(ln, " \t\r")
		trimmed := strings.TrimSpace(ln)
		if urlLineRe.MatchString(trimmed) || domainLineRe.MatchString(trimmed) {
			break
		}
		if len(trimmed) < 40 && ctaStopRe.MatchString(trimmed) {
			break
		}
		lines = append(lines, ln)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// findCTA returns the first known call-to-action phrase appearing alone
// on a line.
func findCTA(raw string) string {
	for _, ln := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(ln)
		for _, phrase := range ctaPhrases {
			if trimmed == phrase {
				return phrase
			}
		}
	}
	return ""
}

// outboundLinks collects anchors whose host is not the source platform.
func (p *Parser) outboundLinks(doc *goquery.Document) []extract.Link {
	var links []extract.Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		u, err := url.Parse(href)
		if err != nil || u.Host == "" {
			return
		}
		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		if p.sourceDomains[host] {
			return
		}
		links = append(links, extract.Link{
			URL:  href,
			Text: strings.TrimSpace(s.Text()),
		})
	})
	return links
}

// mediaURLs collects image sources, preferring src over lazy-loading
// attributes.
func mediaURLs(doc *goquery.Document) []string {
	var urls []string
	doc.Find("img, image").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"src", "data-src", "xlink:href"} {
			src := s.AttrOr(attr, "")
			if strings.HasPrefix(src, "http:") || strings.HasPrefix(src, "https:") {
				urls = append(urls, src)
				return
			}
		}
	})
	return urls
}

// ownText returns the direct text of a selection's first node, without
// descendant elements.
func ownText(s *goquery.Selection) string {
	if len(s.Nodes) == 0 {
		return ""
	}
	var b strings.Builder
	for c := s.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}
