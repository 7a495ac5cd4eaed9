// Package browser manages the Chrome lifecycle behind the page driver:
// launch or connect via Rod, stealth pages per session, proxy wiring,
// cookie restore, and age-based recycling.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string `yaml:"remote_url"`

	// Headless toggles headless mode for locally launched Chrome.
	Headless *bool `yaml:"headless"`

	// RecycleAfter is the maximum lifetime of a Chrome process; the next
	// session request past it relaunches Chrome. Default: 4h.
	RecycleAfter time.Duration `yaml:"recycle_after"`

	// CookieFile is an exported cookie JSON file restored into every
	// session before its first navigation. Empty = no cookies.
	CookieFile string `yaml:"cookie_file"`

	// ProxyFile is a proxy pool file; the first healthy entry is wired
	// into Chrome at launch. Empty = direct connection.
	ProxyFile string `yaml:"proxy_file"`

	// NavigateTimeout bounds each navigation. Default: 30s.
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Headless == nil {
		t := true
		c.Headless = &t
	}
	if c.RecycleAfter <= 0 {
		c.RecycleAfter = 4 * time.Hour
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process and hands out sessions on it.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	proxy   *ProxyEntry
	startAt time.Time
	closed  bool
}

// NewManager creates a Manager. Call Start before requesting sessions.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	if m.cfg.ProxyFile != "" {
		entry, err := PickProxy(ctx, m.cfg.ProxyFile, m.cfg.Logger)
		if err != nil {
			return err
		}
		m.proxy = entry
	}
	return m.launchLocked()
}

func (m *Manager) launchLocked() error {
	log := m.cfg.Logger
	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(*m.cfg.Headless)

		// Anti-detection flags.
		l = l.Set("disable-blink-features", "AutomationControlled")

		if m.proxy != nil {
			l = l.Proxy(m.proxy.Addr())
		}

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "headless", *m.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	if m.proxy != nil && m.proxy.User != "" {
		go b.MustHandleAuth(m.proxy.User, m.proxy.Pass)()
	}

	m.browser = b
	m.startAt = time.Now()
	return nil
}

// NewSession opens a stealth page with cookies restored. Chrome is
// recycled first when it has outlived RecycleAfter.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser == nil {
		return nil, fmt.Errorf("browser: manager not started")
	}

	if time.Since(m.startAt) > m.cfg.RecycleAfter {
		m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startAt))
		m.cleanupLocked()
		if err := m.launchLocked(); err != nil {
			return nil, fmt.Errorf("browser: relaunch: %w", err)
		}
	}

	if m.cfg.CookieFile != "" {
		cookies, err := LoadCookies(m.cfg.CookieFile)
		if err != nil {
			return nil, err
		}
		if err := m.browser.SetCookies(cookies); err != nil {
			return nil, fmt.Errorf("browser: set cookies: %w", err)
		}
	}

	page, err := stealth.Page(m.browser)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	return &Session{
		page:            page,
		navigateTimeout: m.cfg.NavigateTimeout,
		log:             m.cfg.Logger,
	}, nil
}

// Close shuts down Chrome.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanupLocked()
	return nil
}

func (m *Manager) cleanupLocked() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}
