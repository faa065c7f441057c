// Package browser runs one Chrome tab per credential group and exposes it to
// the login flow, the response capture and the legacy table reader.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"rms-pricing-scraper/scraper/auth"
	"rms-pricing-scraper/scraper/capture"
	"rms-pricing-scraper/scraper/portal"
	"rms-pricing-scraper/utils"
)

// Options configure the Chrome process.
type Options struct {
	ChromeBin string
	Headless  bool
	UserAgent string
}

// Browser is a Chrome instance with a throwaway profile and a single tab.
type Browser struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	profileDir  string
	traffic     *Traffic
	logger      *utils.Logger
}

var (
	_ auth.Driver        = (*Browser)(nil)
	_ capture.TrafficLog = (*Traffic)(nil)
)

// Open starts Chrome. The caller must Close the browser on every path.
func Open(opts Options, logger *utils.Logger) (*Browser, error) {
	profile, err := os.MkdirTemp("", "rms-chrome-profile-*")
	if err != nil {
		return nil, fmt.Errorf("browser: create profile dir: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserDataDir(profile),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	chromeBin := findChromeBinary(opts.ChromeBin)
	if chromeBin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(chromeBin))
	}
	logger.Info("[browser] Using browser binary: %s (headless: %v)", orDefault(chromeBin, "chromedp default"), opts.Headless)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	// Suppress chromedp log noise
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}),
		chromedp.WithErrorf(func(f string, args ...interface{}) { logger.Debug("[browser] "+f, args...) }),
	)

	b := &Browser{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		profileDir:  profile,
		traffic:     newTraffic(),
		logger:      logger,
	}
	b.traffic.browser = b
	chromedp.ListenTarget(tabCtx, b.traffic.onEvent)

	// The first Run launches the process and attaches to the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("browser: start chrome: %w", err)
	}
	// Record traffic from the start: the pricing call may fire while the
	// login redirect lands, before capture begins.
	if err := b.traffic.Enable(context.Background()); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("browser: enable network: %w", err)
	}
	return b, nil
}

// Close shuts Chrome down and removes the temporary profile.
func (b *Browser) Close() error {
	b.cancelTab()
	b.cancelAlloc()
	if err := os.RemoveAll(b.profileDir); err != nil {
		return fmt.Errorf("browser: remove profile %s: %w", b.profileDir, err)
	}
	b.logger.Debug("[browser] Closed, profile %s removed", b.profileDir)
	return nil
}

// Traffic returns the tab's network log.
func (b *Browser) Traffic() capture.TrafficLog {
	return b.traffic
}

// run executes actions on the tab, bounded by ctx's deadline and cancellation.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		tctx   context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		tctx, cancel = context.WithDeadline(b.ctx, dl)
	} else {
		tctx, cancel = context.WithCancel(b.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()
	return chromedp.Run(tctx, actions...)
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

// selector turns a Locator into a chromedp selector and query option that
// match every element, so callers can probe without waiting.
func selector(loc portal.Locator) (string, chromedp.QueryOption) {
	switch loc.By {
	case portal.ByXPath:
		return loc.Value, chromedp.BySearch
	case portal.ByID:
		return fmt.Sprintf("[id=%q]", loc.Value), chromedp.ByQueryAll
	default:
		return loc.Value, chromedp.ByQueryAll
	}
}

func (b *Browser) nodes(ctx context.Context, loc portal.Locator) ([]*cdp.Node, error) {
	sel, by := selector(loc)
	var nodes []*cdp.Node
	err := b.run(ctx, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0)))
	return nodes, err
}

func (b *Browser) Exists(ctx context.Context, loc portal.Locator) (bool, error) {
	nodes, err := b.nodes(ctx, loc)
	return len(nodes) > 0, err
}

// SendKeys clears the first matching field and types text into it.
func (b *Browser) SendKeys(ctx context.Context, loc portal.Locator, text string) error {
	node, err := b.nth(ctx, loc, 0)
	if err != nil {
		return err
	}
	ids := []cdp.NodeID{node.NodeID}
	return b.run(ctx,
		chromedp.Focus(ids, chromedp.ByNodeID),
		chromedp.SetValue(ids, "", chromedp.ByNodeID),
		chromedp.SendKeys(ids, text, chromedp.ByNodeID),
	)
}

func (b *Browser) Click(ctx context.Context, loc portal.Locator) error {
	return b.ClickNth(ctx, loc, 0)
}

// ClickNth clicks the n-th (0-based) element matching loc.
func (b *Browser) ClickNth(ctx context.Context, loc portal.Locator, n int) error {
	node, err := b.nth(ctx, loc, n)
	if err != nil {
		return err
	}
	return b.run(ctx, chromedp.MouseClickNode(node))
}

func (b *Browser) nth(ctx context.Context, loc portal.Locator, n int) (*cdp.Node, error) {
	nodes, err := b.nodes(ctx, loc)
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= len(nodes) {
		return nil, fmt.Errorf("browser: %s has %d matches, wanted #%d", loc, len(nodes), n)
	}
	return nodes[n], nil
}

// OptionLabels returns each match's aria-label, or its text when unlabelled.
func (b *Browser) OptionLabels(ctx context.Context, loc portal.Locator) ([]string, error) {
	nodes, err := b.nodes(ctx, loc)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if label := n.AttributeValue("aria-label"); label != "" {
			labels = append(labels, label)
			continue
		}
		var text string
		if err := b.run(ctx, chromedp.Text([]cdp.NodeID{n.NodeID}, &text, chromedp.ByNodeID)); err != nil {
			return nil, err
		}
		labels = append(labels, strings.TrimSpace(text))
	}
	return labels, nil
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := b.run(ctx, chromedp.Location(&url))
	return url, err
}

func (b *Browser) ReadyState(ctx context.Context) (string, error) {
	var state string
	err := b.run(ctx, chromedp.Evaluate(`document.readyState`, &state))
	return state, err
}

// Screenshot captures the whole page as PNG.
func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := b.run(ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

// OuterHTML returns the markup of the first element matching loc.
func (b *Browser) OuterHTML(ctx context.Context, loc portal.Locator) (string, error) {
	node, err := b.nth(ctx, loc, 0)
	if err != nil {
		return "", err
	}
	var html string
	err = b.run(ctx, chromedp.OuterHTML([]cdp.NodeID{node.NodeID}, &html, chromedp.ByNodeID))
	return html, err
}

// findChromeBinary locates Chrome/Chromium. An explicit path wins.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
