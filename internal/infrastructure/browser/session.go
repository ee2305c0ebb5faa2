package browser

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"LeadScanner/internal/config"
	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// ErrReplyBoxMissing means the post had no reply box, or the post moved.
var ErrReplyBoxMissing = errors.New("reply box missing")

const (
	historicalProfile = "historical"
	navigateTimeout   = 45 * time.Second
	scrollPause       = 2 * time.Second
)

// Opener launches one Chrome profile per account.
type Opener struct {
	accounts map[string]config.AccountConfig
	dir      string
	headful  bool
	settle   time.Duration
	scrolls  int
	execPath string
	logger   *slog.Logger
}

var (
	_ ports.SessionOpener = (*Opener)(nil)
	_ ports.HistoryOpener = (*Opener)(nil)
	_ ports.GroupSession  = (*Session)(nil)
	_ ports.HistorySource = (*Session)(nil)
)

// NewOpener prepares sessions from the facebook section of the config.
// execPath may be empty to let chromedp locate Chrome.
func NewOpener(cfg config.FacebookConfig, execPath string, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	accounts := make(map[string]config.AccountConfig, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		accounts[acc.Name] = acc
	}
	settle := cfg.PageSettle
	if settle <= 0 {
		settle = 5 * time.Second
	}
	scrolls := cfg.HistoricalScrolls
	if scrolls <= 0 {
		scrolls = 20
	}
	dir := cfg.SessionDir
	if dir == "" {
		dir = "sessions"
	}
	return &Opener{
		accounts: accounts,
		dir:      dir,
		headful:  cfg.Headful,
		settle:   settle,
		scrolls:  scrolls,
		execPath: execPath,
		logger:   logger,
	}
}

// Open starts a browser for account and injects its cookies.
func (o *Opener) Open(ctx context.Context, account string) (ports.GroupSession, error) {
	acc, ok := o.accounts[account]
	if !ok {
		return nil, fmt.Errorf("unknown account %q", account)
	}
	return o.launch(ctx, account, acc.Cookies)
}

// OpenHistory starts the shared profile used for deep scrolling.
func (o *Opener) OpenHistory(ctx context.Context, account string) (ports.HistorySource, error) {
	var cookies []config.CookieConfig
	if acc, ok := o.accounts[account]; ok {
		cookies = acc.Cookies
	}
	return o.launch(ctx, historicalProfile, cookies)
}

func (o *Opener) allocatorOptions(profile string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(filepath.Join(o.dir, profile)),
		chromedp.WindowSize(1920, 1080),
		chromedp.DisableGPU,
		chromedp.Flag("headless", !o.headful),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if o.execPath != "" {
		opts = append(opts, chromedp.ExecPath(o.execPath))
	}
	return opts
}

func (o *Opener) launch(ctx context.Context, profile string, cookies []config.CookieConfig) (*Session, error) {
	if err := os.MkdirAll(filepath.Join(o.dir, profile), 0o700); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}

	// The browser outlives the call that opened it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), o.allocatorOptions(profile)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		account: profile,
		tab:     tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		settle:  o.settle,
		scrolls: o.scrolls,
		logger:  o.logger.With("account", profile),
	}

	// The first Run starts Chrome and binds it to tabCtx, so it gets no timeout.
	if err := chromedp.Run(tabCtx); err != nil {
		s.cancel()
		return nil, &domain.ExternalProcessError{Process: "browser", Err: err}
	}
	if err := s.run(ctx, navigateTimeout, setCookies(cookies)); err != nil {
		s.cancel()
		return nil, &domain.ExternalProcessError{Process: "browser", Err: err}
	}
	return s, nil
}

func setCookies(cookies []config.CookieConfig) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			path := c.Path
			if path == "" {
				path = "/"
			}
			if err := network.SetCookie(c.Name, c.Value).WithDomain(c.Domain).WithPath(path).Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

// Session is one browser tab driven for a single account.
type Session struct {
	account string
	tab     context.Context
	cancel  context.CancelFunc
	settle  time.Duration
	scrolls int
	logger  *slog.Logger
}

// Posts loads the group page and yields its posts top to bottom.
func (s *Session) Posts(ctx context.Context, group string) iter.Seq2[domain.RawItem, error] {
	return s.collect(ctx, group, chromedp.Sleep(s.settle))
}

// History scrolls the group to the bottom repeatedly before collecting.
func (s *Session) History(ctx context.Context, group string) iter.Seq2[domain.RawItem, error] {
	scroll := chromedp.ActionFunc(func(ctx context.Context) error {
		for range s.scrolls {
			if err := chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil).Do(ctx); err != nil {
				return err
			}
			if err := chromedp.Sleep(scrollPause).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	return s.collect(ctx, group, chromedp.Sleep(s.settle), scroll)
}

func (s *Session) collect(ctx context.Context, group string, settle ...chromedp.Action) iter.Seq2[domain.RawItem, error] {
	return func(yield func(domain.RawItem, error) bool) {
		var html string
		actions := append([]chromedp.Action{chromedp.Navigate(group)}, settle...)
		actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

		timeout := navigateTimeout + s.settle + time.Duration(len(settle))*time.Duration(s.scrolls)*scrollPause
		if err := s.run(ctx, timeout, actions...); err != nil {
			yield(domain.RawItem{}, fmt.Errorf("load group %s: %w", group, err))
			return
		}

		posts, err := extractPosts(strings.NewReader(html), group, s.account)
		if err != nil {
			yield(domain.RawItem{}, err)
			return
		}
		s.logger.Debug("group loaded", "group", group, "posts", len(posts))
		for _, p := range posts {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// SubmitReply types text into the post's reply box and presses Enter.
func (s *Session) SubmitReply(ctx context.Context, item domain.RawItem, text string) error {
	script, err := replyTarget(item.Handle, item.Text)
	if err != nil {
		return err
	}

	var found bool
	if err := s.run(ctx, navigateTimeout, chromedp.Evaluate(script, &found)); err != nil {
		return fmt.Errorf("locate reply box: %w", err)
	}
	if !found {
		return ErrReplyBoxMissing
	}

	box := "textarea[" + replyMarker + "]"
	if err := s.run(ctx, navigateTimeout, chromedp.SendKeys(box, text+kb.Enter, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("type reply: %w", err)
	}
	return nil
}

// Close shuts the tab and the browser process down.
func (s *Session) Close() error {
	s.cancel()
	return nil
}

// run executes actions on the tab, aborting them when ctx ends or timeout passes.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
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
