// File: internal/browser/backend.go
// Description: Chrome DevTools Protocol implementation of the automation
// backend. One Backend owns one browser process; every run gets its own tab
// via NewSession, so concurrent runs never observe each other's pages. The
// engine's context cancels in-flight actions, the backend's own contexts
// govern the process lifetime.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
	"github.com/knowledgepa3/warden/internal/config"
)

// Backend manages a single headless Chrome process and hands out one
// isolated tab per run.
type Backend struct {
	cfg config.Interface
	log *zap.Logger

	// browserCtx is the bootstrap tab context that keeps the process alive;
	// session tabs are derived from it.
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
}

// NewBackend launches the browser eagerly so startup failures surface at
// composition time instead of mid-run.
func NewBackend(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Backend, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	log := logger.Named("browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg.Browser())...)

	var ctxOpts []chromedp.ContextOption
	if cfg.Browser().Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(log.Sugar().Debugf))
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	log.Info("Browser launched", zap.Bool("headless", cfg.Browser().Headless))

	return &Backend{
		cfg:           cfg,
		log:           log,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

// NewSession opens a fresh tab in the shared browser process. Sessions are
// independent: navigation and captures in one tab never touch another, so a
// run's evidence can only show that run's page.
func (b *Backend) NewSession(ctx context.Context) (schemas.AutomationSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}
	b.log.Debug("Browser tab opened")
	return &Session{
		cfg:       b.cfg,
		log:       b.log,
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
	}, nil
}

// Close tears down the browser process and every tab with it. Safe to call
// twice.
func (b *Backend) Close(context.Context) error {
	b.closeOnce.Do(func() {
		b.browserCancel()
		b.allocCancel()
		b.log.Info("Browser closed")
	})
	return nil
}

// allocatorOptions translates browser config into exec allocator flags.
func allocatorOptions(bcfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", bcfg.Headless),
		chromedp.Flag("disable-gpu", true),
	)
	if bcfg.ViewportWidth > 0 && bcfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(bcfg.ViewportWidth, bcfg.ViewportHeight))
	}
	if bcfg.DisableCache {
		opts = append(opts, chromedp.Flag("disable-application-cache", true))
	}
	if bcfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if bcfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(bcfg.UserAgent))
	}
	for _, arg := range bcfg.Args {
		name, value := parseFlag(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// parseFlag splits a raw "--name=value" argument; bare flags become boolean.
func parseFlag(arg string) (string, any) {
	trimmed := strings.TrimPrefix(arg, "--")
	if name, value, found := strings.Cut(trimmed, "="); found {
		return name, value
	}
	return trimmed, true
}

// Session drives one tab for one run.
type Session struct {
	cfg config.Interface
	log *zap.Logger

	tabCtx    context.Context
	tabCancel context.CancelFunc
	closeOnce sync.Once
}

// run executes actions on the session's tab, bounded by an optional timeout
// and aborted when the caller's context ends.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	if timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, timeout)
		defer timeoutCancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads the URL, waits for the document to become ready, then sits
// out the configured post-load settle window.
func (s *Session) Navigate(ctx context.Context, url string) error {
	ncfg := s.cfg.Network()
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if ncfg.PostLoadWait > 0 {
		actions = append(actions, chromedp.Sleep(ncfg.PostLoadWait))
	}
	if err := s.run(ctx, ncfg.NavigationTimeout, actions...); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	s.log.Debug("Navigation complete", zap.String("url", url))
	return nil
}

// Screenshot captures the current viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, 0, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

// ReadPage returns the full serialized document.
func (s *Session) ReadPage(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading page: %w", err)
	}
	return html, nil
}

// Find resolves a query (CSS selector, XPath or plain text) to the full
// XPath of the first matching node, which Click and Type accept as a ref.
func (s *Session) Find(ctx context.Context, query string) (string, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, 0, chromedp.Nodes(query, &nodes, chromedp.BySearch, chromedp.AtLeast(1)))
	if err != nil {
		return "", fmt.Errorf("finding %q: %w", query, err)
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("no element matches %q", query)
	}
	return nodes[0].FullXPath(), nil
}

// Click clicks the referenced element.
func (s *Session) Click(ctx context.Context, ref string) error {
	if err := s.run(ctx, 0, chromedp.Click(ref, chromedp.BySearch)); err != nil {
		return fmt.Errorf("clicking %q: %w", ref, err)
	}
	return nil
}

// Type enters text into the referenced element.
func (s *Session) Type(ctx context.Context, ref, text string) error {
	if err := s.run(ctx, 0, chromedp.SendKeys(ref, text, chromedp.BySearch)); err != nil {
		return fmt.Errorf("typing into %q: %w", ref, err)
	}
	return nil
}

// PageText returns the visible text of the document body.
func (s *Session) PageText(ctx context.Context) (string, error) {
	var text string
	if err := s.run(ctx, 0, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("extracting page text: %w", err)
	}
	return text, nil
}

// Close tears down the session's tab; the browser process stays up for other
// runs. Safe to call twice.
func (s *Session) Close(context.Context) error {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.log.Debug("Browser tab closed")
	})
	return nil
}
