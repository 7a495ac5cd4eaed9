package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

// exportedCookie is one entry of a browser-extension cookie export.
type exportedCookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path"`
	ExpirationDate float64 `json:"expirationDate"`
	Secure         bool    `json:"secure"`
	HTTPOnly       bool    `json:"httpOnly"`
	SameSite       string  `json:"sameSite"`
}

// LoadCookies reads an exported cookie file and converts it to CDP
// cookie parameters. Exports commonly carry sameSite values the browser
// refuses ("no_restriction", "unspecified"); those are coerced to None.
func LoadCookies(path string) ([]*proto.NetworkCookieParam, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("browser: read cookie file: %w", err)
	}
	var exported []exportedCookie
	if err := json.Unmarshal(data, &exported); err != nil {
		return nil, fmt.Errorf("browser: decode cookie file %s: %w", path, err)
	}

	params := make([]*proto.NetworkCookieParam, 0, len(exported))
	for _, c := range exported {
		if c.Name == "" {
			continue
		}
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: normalizeSameSite(c.SameSite),
		}
		if c.ExpirationDate > 0 {
			p.Expires = proto.TimeSinceEpoch(c.ExpirationDate)
		}
		params = append(params, p)
	}
	return params, nil
}

func normalizeSameSite(v string) proto.NetworkCookieSameSite {
	switch strings.ToLower(v) {
	case "strict":
		return proto.NetworkCookieSameSiteStrict
	case "lax":
		return proto.NetworkCookieSameSiteLax
	default:
		return proto.NetworkCookieSameSiteNone
	}
}
