// Package filterspec validates declarative result filters and compiles
// them into the query encoding the ad library understands.
//
// Compilation is deterministic and idempotent: filter dimensions replace
// any value they own in the target URL, never append to it, and unset
// dimensions leave the URL untouched.
package filterspec

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Status values accepted for the active_status dimension.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusAll      = "all"
)

// Spec is a declarative filter over the ad library listing. Zero values
// mean "not set": Compile resolves Status, Category and MediaType to
// their defaults and leaves every other unset dimension alone.
type Spec struct {
	// Category is an ad category name or alias ("issues", "politics",
	// "properties", "employment", "financial"). Unknown or empty
	// categories resolve to "all".
	Category string `yaml:"category" json:"category"`

	// Status is one of active, inactive or all. Empty resolves to active.
	Status string `yaml:"status" json:"status"`

	// Languages holds language names ("Thai") or ISO-639-1 codes ("th").
	Languages []string `yaml:"languages" json:"languages"`

	// Platforms holds publisher platform identifiers.
	Platforms []string `yaml:"platforms" json:"platforms"`

	// MediaType narrows results by media kind. Empty resolves to all.
	MediaType string `yaml:"media_type" json:"media_type"`

	// StartDate and EndDate bound the delivery start date, YYYY-MM-DD.
	StartDate string `yaml:"start_date" json:"start_date"`
	EndDate   string `yaml:"end_date" json:"end_date"`

	// Owners is the owner allowlist. It never reaches the URL; the
	// engine crosses it into the task dimensions and filters extracted
	// items against it.
	Owners []string `yaml:"owners" json:"owners"`
}

// ValidationError reports a spec field that failed validation.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("filterspec: %s %q: %s", e.Field, e.Value, e.Reason)
}

var statusSet = map[string]bool{
	StatusActive:   true,
	StatusInactive: true,
	StatusAll:      true,
}

var platformSet = map[string]bool{
	"facebook":         true,
	"instagram":        true,
	"audience_network": true,
	"messenger":        true,
	"threads":          true,
}

var mediaTypeSet = map[string]bool{
	"all":            true,
	"image":          true,
	"video":          true,
	"meme":           true,
	"image_and_meme": true,
	"none":           true,
}

// categoryAliases maps slugified category names to their query value.
// Anything not listed resolves to "all".
var categoryAliases = map[string]string{
	"all":                        "all",
	"all ads":                    "all",
	"all_ads":                    "all",
	"issues":                     "issue_ads",
	"politics":                   "issue_ads",
	"issues_elections_politics":  "issue_ads",
	"issues elections politics":  "issue_ads",
	"properties":                 "housing_ads",
	"employment":                 "employment_ads",
	"financial":                  "credit_ads",
}

// langNames maps slugified language names to ISO-639-1 codes.
// Two-letter codes pass through langCode without consulting this table.
var langNames = map[string]string{
	"arabic": "ar", "bulgarian": "bg", "burmese": "my", "chinese": "zh",
	"czech": "cs", "dutch": "nl", "danish": "da", "vietnamese": "vi",
	"turkish": "tr", "thai": "th", "swedish": "sv", "spanish": "es",
	"slovak": "sk", "romanian": "ro", "portuguese": "pt", "polish": "pl",
	"norwegian": "nb", "malay": "ms", "italian": "it", "indonesian": "id",
	"hungarian": "hu", "greek": "el", "german": "de", "french": "fr",
	"english": "en", "russian": "ru", "ukrainian": "uk", "amharic": "am",
}

const dateLayout = "2006-01-02"

type resolved struct {
	status    string
	category  string
	mediaType string
}

func (s Spec) resolve() resolved {
	r := resolved{
		status:    s.Status,
		mediaType: s.MediaType,
		category:  "all",
	}
	if r.status == "" {
		r.status = StatusActive
	}
	if r.mediaType == "" {
		r.mediaType = "all"
	}
	if v, ok := categoryAliases[Slugify(s.Category)]; ok {
		r.category = v
	}
	return r
}

// Validate checks every set dimension against its closed set and the
// date range for ordering. It returns a *ValidationError describing the
// first offending field.
func (s Spec) Validate() error {
	r := s.resolve()
	if !statusSet[r.status] {
		return &ValidationError{Field: "status", Value: s.Status, Reason: "must be active, inactive or all"}
	}
	for _, l := range s.Languages {
		if _, ok := langCode(l); !ok {
			return &ValidationError{Field: "languages", Value: l, Reason: "unknown language"}
		}
	}
	for _, p := range s.Platforms {
		if !platformSet[p] {
			return &ValidationError{Field: "platforms", Value: p, Reason: "unknown platform"}
		}
	}
	if !mediaTypeSet[r.mediaType] {
		return &ValidationError{Field: "media_type", Value: s.MediaType, Reason: "unsupported media type"}
	}

	var start, end time.Time
	if s.StartDate != "" {
		t, err := time.Parse(dateLayout, s.StartDate)
		if err != nil {
			return &ValidationError{Field: "start_date", Value: s.StartDate, Reason: "not a YYYY-MM-DD date"}
		}
		start = t
	}
	if s.EndDate != "" {
		t, err := time.Parse(dateLayout, s.EndDate)
		if err != nil {
			return &ValidationError{Field: "end_date", Value: s.EndDate, Reason: "not a YYYY-MM-DD date"}
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return &ValidationError{Field: "end_date", Value: s.EndDate, Reason: "before start_date"}
	}
	return nil
}

// Compile returns target with the spec's dimensions applied to its query
// string. Status, category and media type are always rewritten with their
// resolved values; multi-valued dimensions clear their positional keys
// before re-inserting; query keys owned by no dimension are preserved.
// The output query is canonically ordered, so compiling an already
// compiled URL with the same spec is a no-op.
func Compile(target string, spec Spec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("filterspec: parse target: %w", err)
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return "", fmt.Errorf("filterspec: parse query: %w", err)
	}
	r := spec.resolve()

	q.Set("active_status", r.status)
	q.Set("ad_type", r.category)
	q.Set("media_type", r.mediaType)

	if len(spec.Languages) > 0 {
		clearPositional(q, "content_languages")
		for i, l := range spec.Languages {
			code, _ := langCode(l)
			q.Set(fmt.Sprintf("content_languages[%d]", i), code)
		}
	}
	if len(spec.Platforms) > 0 {
		clearPositional(q, "publisher_platforms")
		for i, p := range spec.Platforms {
			q.Set(fmt.Sprintf("publisher_platforms[%d]", i), p)
		}
	}
	if spec.StartDate != "" || spec.EndDate != "" {
		q.Del("start_date[min]")
		q.Del("start_date[max]")
		if spec.StartDate != "" {
			q.Set("start_date[min]", spec.StartDate)
		}
		if spec.EndDate != "" {
			q.Set("start_date[max]", spec.EndDate)
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func clearPositional(q url.Values, name string) {
	prefix := name + "["
	for k := range q {
		if strings.HasPrefix(k, prefix) {
			delete(q, k)
		}
	}
}

// langCode resolves a language name or ISO-639-1 code to a code.
func langCode(nameOrCode string) (string, bool) {
	s := strings.TrimSpace(nameOrCode)
	if len(s) == 2 && isASCIILetter(s[0]) && isASCIILetter(s[1]) {
		return strings.ToLower(s), true
	}
	code, ok := langNames[Slugify(s)]
	return code, ok
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Slugify lower-cases text, strips combining marks and collapses blanks.
// Used for map look-ups on human-entered names.
func Slugify(text string) string {
	decomposed := norm.NFKD.String(text)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(strings.Join(strings.Fields(b.String()), " "))
}

// MatchOwner reports whether an extracted owner name equals target under
// Unicode normalisation and case folding. Empty names never match.
func MatchOwner(name, target string) bool {
	if name == "" {
		return false
	}
	fold := cases.Fold()
	return fold.String(norm.NFKD.String(name)) == fold.String(norm.NFKD.String(target))
}
