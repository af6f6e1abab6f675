// Package browser owns the shared Chrome session the portal drivers run on.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultProbeTimeout = 4 * time.Second
)

var (
	// ErrNoSelector is returned when an action gets no selector alternatives.
	ErrNoSelector = errors.New("no selector given")

	// ErrClosed is returned after the session has been closed.
	ErrClosed = errors.New("browser session closed")

	// ErrNoNewTab is returned when a click was expected to open a tab and
	// none appeared.
	ErrNoNewTab = errors.New("no new tab opened")
)

// Config controls the Chrome process.
type Config struct {
	Headless      bool
	Timeout       time.Duration
	ProbeTimeout  time.Duration
	UserDataDir   string
	ScreenshotDir string
	WindowWidth   int
	WindowHeight  int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = 1600, 1000
	}
	if c.ScreenshotDir == "" {
		c.ScreenshotDir = os.TempDir()
	}
	return c
}

// AllocatorOptions are the Chrome flags used for cfg.
func AllocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	cfg = cfg.withDefaults()
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}

// Session is one Chrome process with named tabs.
type Session struct {
	cfg    Config
	logger zerolog.Logger

	allocCancel context.CancelFunc
	root        context.Context
	rootCancel  context.CancelFunc

	mu     sync.Mutex
	tabs   map[string]*Tab
	closed bool
}

// New starts Chrome. The session lives until Close, independent of ctx
// once started.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.ScreenshotDir, 0o750); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), AllocatorOptions(cfg)...)
	root, rootCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(f string, args ...any) { logger.Debug().Msgf("chromedp: "+f, args...) }),
	)

	// The first Run allocates Chrome and binds it to the context it is given,
	// so it must be root itself rather than a derived deadline.
	if err := chromedp.Run(root); err != nil {
		rootCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	logger.Info().Bool("headless", cfg.Headless).Msg("browser started")
	return &Session{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		root:        root,
		rootCancel:  rootCancel,
		tabs:        make(map[string]*Tab),
	}, nil
}

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// Tab returns the named tab, opening it on first use. The first tab opened
// reuses the browser's initial page.
func (s *Session) Tab(name string) (*Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if t, ok := s.tabs[name]; ok {
		return t, nil
	}
	var ctx context.Context
	var cancel context.CancelFunc
	if len(s.tabs) == 0 {
		ctx, cancel = s.root, func() {}
	} else {
		ctx, cancel = chromedp.NewContext(s.root)
	}
	t := &Tab{name: name, ctx: ctx, cancel: cancel, s: s}
	s.tabs[name] = t
	return t, nil
}

// HasTab reports whether a named tab is open.
func (s *Session) HasTab(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tabs[name]
	return ok
}

// CloseTab closes a named tab. Closing an unknown tab is a no-op.
func (s *Session) CloseTab(name string) {
	s.mu.Lock()
	t, ok := s.tabs[name]
	delete(s.tabs, name)
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// Close shuts Chrome down.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tabs := s.tabs
	s.tabs = nil
	s.mu.Unlock()

	for _, t := range tabs {
		t.cancel()
	}
	s.rootCancel()
	s.allocCancel()
	s.logger.Info().Msg("browser closed")
}

// adopt registers an existing target as a named tab.
func (s *Session) adopt(name string, ctx context.Context, cancel context.CancelFunc) (*Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cancel()
		return nil, ErrClosed
	}
	if old, ok := s.tabs[name]; ok {
		old.cancel()
	}
	t := &Tab{name: name, ctx: ctx, cancel: cancel, s: s}
	s.tabs[name] = t
	return t, nil
}

// screenshotPath names a screenshot file under the configured directory.
func (s *Session) screenshotPath(label string) string {
	return filepath.Join(s.cfg.ScreenshotDir, fmt.Sprintf("%s_%s.png", label, time.Now().UTC().Format("20060102T150405.000")))
}

// Page is the tab surface the portal drivers use. *Tab implements it.
type Page interface {
	Name() string
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Click(ctx context.Context, sels ...string) error
	Fill(ctx context.Context, value string, sels ...string) error
	SetValue(ctx context.Context, value string, sels ...string) error
	SelectOption(ctx context.Context, label string, sels ...string) (bool, error)
	Text(ctx context.Context, sels ...string) (string, error)
	Value(ctx context.Context, sels ...string) (string, error)
	Visible(ctx context.Context, sels ...string) bool
	Count(ctx context.Context, sel string) (int, error)
	Table(ctx context.Context, rowSel string) ([][]string, error)
	Labels(ctx context.Context, rowSel string) (map[string]string, error)
	Evaluate(ctx context.Context, js string, out any) error
	AcceptDialogs(ctx context.Context) error
	Upload(ctx context.Context, path string, sels ...string) error
	Screenshot(ctx context.Context, label string) (string, error)
}

// Pages opens, follows and closes named pages. *Session implements it.
type Pages interface {
	Page(name string) (Page, error)
	Follow(ctx context.Context, from, name string, sels ...string) (Page, error)
	HasPage(name string) bool
	ClosePage(name string)
}

// Page implements Pages.
func (s *Session) Page(name string) (Page, error) {
	t, err := s.Tab(name)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Follow clicks sels on the from page and returns the tab it opens.
func (s *Session) Follow(ctx context.Context, from, name string, sels ...string) (Page, error) {
	t, err := s.Tab(from)
	if err != nil {
		return nil, err
	}
	nt, err := t.Follow(ctx, name, sels...)
	if err != nil {
		return nil, err
	}
	return nt, nil
}

// HasPage implements Pages.
func (s *Session) HasPage(name string) bool { return s.HasTab(name) }

// ClosePage implements Pages.
func (s *Session) ClosePage(name string) { s.CloseTab(name) }
