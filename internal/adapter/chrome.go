// Package adapter drives headless Chrome for the browser automation strategy
// and the external lead worker.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/strategy"
)

// ChromeConfig configures a Chrome session
type ChromeConfig struct {
	Headless      bool
	UserAgent     string
	ExecPath      string
	ActionTimeout time.Duration // per navigation or DOM call
}

// revealSelectors are tried after the caption scan finds nothing
var revealSelectors = []string{
	`[data-testid*="call"]`,
	`[data-testid*="phone"]`,
	`button[class*="phone"]`,
	`a[class*="phone"]`,
	`button[aria-label*="Call"]`,
}

var consentCaptions = []string{"accept", "agree", "got it", "allow all", "موافق"}

// ChromeBrowser is one tab in its own Chrome instance. It implements
// strategy.BrowserSession.
type ChromeBrowser struct {
	cfg           ChromeConfig
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	current       string
}

// NewChromeBrowser launches Chrome and opens a tab. The browser lives until
// Close, independent of ctx.
func NewChromeBrowser(ctx context.Context, cfg ChromeConfig) (*ChromeBrowser, error) {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 45 * time.Second
	}
	logger := logging.FromContext(ctx).WithField("component", "chrome")

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Debugf))

	b := &ChromeBrowser{
		cfg:           cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}

	// first Run starts the browser
	err := b.run(ctx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9,ar;q=0.8"}),
	)
	if err != nil {
		_ = b.Close()
		return nil, NewAdapterError("Launch", "", err, map[string]interface{}{"headless": cfg.Headless})
	}

	logger.WithField("headless", cfg.Headless).Debug("Chrome session started")
	return b, nil
}

// SessionFactory opens a new Chrome session per job
func SessionFactory(cfg ChromeConfig) strategy.SessionFactory {
	return func(ctx context.Context) (strategy.BrowserSession, error) {
		return NewChromeBrowser(ctx, cfg)
	}
}

// run executes actions on the tab, bounded by the action timeout and by ctx
func (b *ChromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(b.browserCtx, b.cfg.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and dismisses a consent banner if one shows up
func (b *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	if err := b.run(ctx, chromedp.Navigate(url)); err != nil {
		return NewAdapterError("Navigate", url, err, nil)
	}
	b.current = url

	var dismissed bool
	if err := b.run(ctx, chromedp.Evaluate(clickByCaptionScript(consentCaptions, nil), &dismissed)); err != nil {
		logging.FromContext(ctx).WithError(err).Trace("Consent dismissal failed")
	}
	return nil
}

// HTML returns the document's outer HTML
func (b *ChromeBrowser) HTML(ctx context.Context) (string, error) {
	var html string
	if err := b.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", NewAdapterError("HTML", b.current, err, nil)
	}
	return html, nil
}

// ClickReveal clicks the first visible control captioned like a reveal button,
// falling back to known selectors
func (b *ChromeBrowser) ClickReveal(ctx context.Context) (bool, error) {
	var clicked bool
	script := clickByCaptionScript(strategy.RevealLabels(), revealSelectors)
	if err := b.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, NewAdapterError("ClickReveal", b.current, err, nil)
	}
	return clicked, nil
}

// RevealedText returns the rendered text of the page body
func (b *ChromeBrowser) RevealedText(ctx context.Context) (string, error) {
	var text string
	if err := b.run(ctx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
		return "", NewAdapterError("RevealedText", b.current, err, nil)
	}
	return text, nil
}

// Close shuts the tab and the browser process
func (b *ChromeBrowser) Close() error {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}

// clickByCaptionScript builds an expression that clicks the first visible
// button or link whose caption contains one of captions, then the first
// visible match of selectors. It evaluates to whether anything was clicked.
func clickByCaptionScript(captions, selectors []string) string {
	c, _ := json.Marshal(captions)
	s, _ := json.Marshal(selectors)
	if selectors == nil {
		s = []byte("[]")
	}
	return fmt.Sprintf(`(() => {
	const captions = %s;
	const selectors = %s;
	const visible = el => !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
	for (const el of document.querySelectorAll('button, a, [role="button"]')) {
		const text = (el.innerText || el.textContent || '').trim().toLowerCase();
		if (text && captions.some(c => text.includes(c)) && visible(el)) {
			el.click();
			return true;
		}
	}
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (el && visible(el)) {
			el.click();
			return true;
		}
	}
	return false;
})()`, c, s)
}
