package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// ProxyEntry is one proxy of the pool.
type ProxyEntry struct {
	Scheme string // "http" or "socks5"
	Host   string
	Port   string
	User   string
	Pass   string
}

// Addr returns host:port for the Chrome --proxy-server flag.
func (e *ProxyEntry) Addr() string {
	addr := net.JoinHostPort(e.Host, e.Port)
	if e.Scheme == "socks5" {
		return "socks5://" + addr
	}
	return addr
}

// URL returns the proxy as a URL with credentials.
func (e *ProxyEntry) URL() *url.URL {
	u := &url.URL{Scheme: e.Scheme, Host: net.JoinHostPort(e.Host, e.Port)}
	if e.User != "" {
		u.User = url.UserPassword(e.User, e.Pass)
	}
	return u
}

// ParseProxyEntry parses a "host,port,user,pass" pool entry. The host
// part may carry a scheme prefix ("socks5://host"); the default is http.
func ParseProxyEntry(s string) (*ProxyEntry, error) {
	parts := strings.SplitN(s, ",", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("browser: proxy entry %q: want host,port,user,pass", s)
	}
	e := &ProxyEntry{
		Scheme: "http",
		Host:   strings.TrimSpace(parts[0]),
		Port:   strings.TrimSpace(parts[1]),
		User:   strings.TrimSpace(parts[2]),
		Pass:   strings.TrimSpace(parts[3]),
	}
	if scheme, host, ok := strings.Cut(e.Host, "://"); ok {
		e.Scheme = scheme
		e.Host = host
	}
	if e.Host == "" || e.Port == "" {
		return nil, fmt.Errorf("browser: proxy entry %q: empty host or port", s)
	}
	return e, nil
}

// LoadProxyPool reads a pool file: a JSON list of "host,port,user,pass"
// strings. Malformed entries are skipped with a warning.
func LoadProxyPool(path string, log *slog.Logger) ([]*ProxyEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("browser: read proxy file: %w", err)
	}
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("browser: decode proxy file %s: %w", path, err)
	}
	var pool []*ProxyEntry
	for _, s := range raw {
		e, err := ParseProxyEntry(s)
		if err != nil {
			log.Warn("browser: skipping proxy entry", "error", err)
			continue
		}
		pool = append(pool, e)
	}
	return pool, nil
}

// healthProbeURL is fetched through each candidate proxy; any response,
// including a 403, proves the proxy forwards traffic.
const healthProbeURL = "https://www.facebook.com"

// PickProxy loads the pool at path and returns the first entry that
// passes a health check.
func PickProxy(ctx context.Context, path string, log *slog.Logger) (*ProxyEntry, error) {
	pool, err := LoadProxyPool(path, log)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("browser: proxy pool %s is empty", path)
	}
	for _, e := range pool {
		if err := CheckProxy(ctx, e); err != nil {
			log.Warn("browser: proxy failed health check",
				"proxy", e.Addr(), "error", err)
			continue
		}
		log.Info("browser: proxy selected", "proxy", e.Addr())
		return e, nil
	}
	return nil, fmt.Errorf("browser: no healthy proxy in %s", path)
}

// CheckProxy verifies that a proxy forwards traffic, with a bounded
// timeout.
func CheckProxy(ctx context.Context, e *ProxyEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if e.Scheme == "socks5" {
		return checkSOCKS5(ctx, e)
	}

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(e.URL())},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthProbeURL, nil)
	if err != nil {
		return fmt.Errorf("browser: proxy probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("browser: proxy probe: %w", err)
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusMovedPermanently, http.StatusFound, http.StatusForbidden:
		return nil
	}
	return fmt.Errorf("browser: proxy probe status %d", resp.StatusCode)
}

func checkSOCKS5(ctx context.Context, e *ProxyEntry) error {
	var auth *xproxy.Auth
	if e.User != "" {
		auth = &xproxy.Auth{User: e.User, Password: e.Pass}
	}
	dialer, err := xproxy.SOCKS5("tcp", net.JoinHostPort(e.Host, e.Port), auth, xproxy.Direct)
	if err != nil {
		return fmt.Errorf("browser: socks5 dialer: %w", err)
	}
	cd, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return fmt.Errorf("browser: socks5 dialer has no context support")
	}
	conn, err := cd.DialContext(ctx, "tcp", "www.facebook.com:443")
	if err != nil {
		return fmt.Errorf("browser: socks5 probe: %w", err)
	}
	return conn.Close()
}
