package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"LeadScanner/internal/config"
	"LeadScanner/internal/domain"
	"LeadScanner/internal/generation"
	"LeadScanner/internal/infrastructure/browser"
	"LeadScanner/internal/infrastructure/llm"
	"LeadScanner/internal/infrastructure/scheduler"
	"LeadScanner/internal/infrastructure/storage"
	"LeadScanner/internal/infrastructure/telegram"
	"LeadScanner/internal/infrastructure/whatsapp"
	"LeadScanner/internal/logging"
	"LeadScanner/internal/metrics"
	"LeadScanner/internal/ports"
	"LeadScanner/internal/templates"
	"LeadScanner/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	store      ports.Store
	metrics    *metrics.Metrics
	pool       *templates.Pool
	gateway    *generation.Gateway
	pipeline   *usecase.Pipeline
	scanner    *usecase.LiveScanner
	historical *usecase.HistoricalScraper
	inbox      *usecase.Inbox
	supervisor *whatsapp.Supervisor
	panel      *usecase.Panel
	scheduler  *usecase.Scheduler
}

// New opens the ledger and builds every component. Nothing is started:
// browsers launch on the first pass and the bridge on the first poll.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := storage.FromConfig(ctx, cfg.Database, baseLogger.With("component", "storage"))
	if err != nil {
		return nil, err
	}

	a := &Application{cfg: cfg, logger: baseLogger, store: store, metrics: metrics.New()}

	a.pool, err = templates.Load(cfg.Templates.FacebookPath, cfg.Templates.WhatsAppPath, baseLogger.With("component", "templates"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	// A typed nil would make the gateway believe it has a backend.
	var backend ports.CompletionBackend
	if client := llm.NewCompletionClient(cfg.Generation); client != nil {
		backend = client
	} else {
		baseLogger.Warn("no generation key configured, replies come from templates")
	}
	a.gateway = generation.NewGateway(backend, a.pool, generation.Options{
		Links:    generation.Links{ShopURL: cfg.Links.ShopURL, WhatsAppNumber: cfg.Links.WhatsAppNumber},
		Logger:   baseLogger.With("component", "generation"),
		OnHealth: a.metrics.SetGenerationOnline,
	})

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Ledger:  store,
		Replier: a.gateway,
		Matcher: usecase.NewMatcher(cfg.Keywords),
		Logger:  baseLogger.With("component", "pipeline"),
		Metrics: a.metrics,
	})

	a.buildFacebook()
	a.buildWhatsApp()

	a.panel = usecase.NewPanel(usecase.PanelDeps{
		Store:      store,
		Scanner:    a.scanner,
		Historical: a.historical,
		Replier:    a.gateway,
		Bridge:     a.bridgeMonitor(),
		Logger:     baseLogger.With("component", "panel"),
	})

	var inboxDriver ports.Scheduler
	if a.inbox != nil {
		inboxDriver = scheduler.NewIntervalScheduler(cfg.WhatsApp.PollInterval, nil, true)
	}
	scanDriver := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Interval,
		scheduler.WithLocation(cfg.Scheduler.Location()),
		scheduler.WithName("live-scan"),
	)
	a.scheduler = usecase.NewScheduler(scanDriver, a.scanner, inboxDriver, a.inbox, baseLogger.With("component", "scheduler"))

	return a, nil
}

func (a *Application) buildFacebook() {
	fb := a.cfg.Facebook
	opener := browser.NewOpener(fb, fb.ChromePath, a.logger.With("component", "browser"))

	accounts := make([]string, 0, len(fb.Accounts))
	for _, acc := range fb.Accounts {
		accounts = append(accounts, acc.Name)
	}

	limiter := perMinute(fb.RepliesPerMinute)
	var notifier ports.Notifier
	if tg := a.cfg.Notifications.Telegram; tg.Enabled {
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID, telegram.WithLogger(a.logger.With("component", "telegram")))
	}

	a.scanner = usecase.NewLiveScanner(usecase.LiveScannerDeps{
		Opener:       opener,
		Pipeline:     a.pipeline,
		Notifier:     notifier,
		Logger:       a.logger.With("component", "live-scan"),
		Metrics:      a.metrics,
		Accounts:     accounts,
		Groups:       fb.Groups,
		ReplyPause:   usecase.Pause{Min: fb.ReplyPause.Min, Max: fb.ReplyPause.Max},
		AccountPause: usecase.Pause{Min: fb.AccountPause.Min, Max: fb.AccountPause.Max},
		Channel: func(session ports.GroupSession) usecase.Channel {
			return usecase.Channel{
				Platform:          domain.PlatformFacebook,
				Dispatcher:        session,
				Limiter:           limiter,
				GenerationTimeout: a.cfg.Generation.Timeout,
				DispatchTimeout:   fb.DispatchTimeout,
				Compose:           usecase.PostComposer,
			}
		},
	})

	historyAccount := ""
	if len(accounts) > 0 {
		historyAccount = accounts[0]
	}
	a.historical = usecase.NewHistoricalScraper(opener, a.pipeline, historyAccount, fb.Groups, nil, a.logger.With("component", "historical"))
}

func (a *Application) buildWhatsApp() {
	wa := a.cfg.WhatsApp
	if !wa.Enabled {
		return
	}

	client := whatsapp.NewClient(wa.BridgeURL, wa.SendTimeout)
	a.supervisor = whatsapp.NewSupervisor(whatsapp.SupervisorConfig{
		Command: wa.Command,
		Args:    wa.Args,
		Grace:   wa.StartupGrace,
	}, nil, a.logger.With("component", "bridge"))

	a.inbox = usecase.NewInbox(usecase.InboxDeps{
		Source:        client,
		Bridge:        a.supervisor,
		Pipeline:      a.pipeline,
		Conversations: a.store,
		Channel: usecase.Channel{
			Dispatcher:        client,
			GenerationTimeout: a.cfg.Generation.Timeout,
			DispatchTimeout:   wa.SendTimeout,
			AllLeads:          !wa.KeywordsOnly,
		},
		Limit:   wa.PollLimit,
		Logger:  a.logger.With("component", "inbox"),
		Metrics: a.metrics,
	})
}

func (a *Application) bridgeMonitor() ports.BridgeMonitor {
	if !a.cfg.WhatsApp.Enabled {
		return nil
	}
	return whatsapp.NewClient(a.cfg.WhatsApp.BridgeURL, a.cfg.WhatsApp.SendTimeout)
}

func perMinute(n float64) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(n/60), 1)
}

// Panel exposes the operator surface.
func (a *Application) Panel() *usecase.Panel {
	return a.panel
}

// Run starts schedulers, template watching and the metrics endpoint, and
// blocks until ctx ends or one of them fails.
func (a *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Templates.Watch {
		g.Go(func() error { return a.pool.Watch(gctx) })
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.logger.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := a.scheduler.Start(gctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("lead scanner running",
		"accounts", len(a.cfg.Facebook.Accounts),
		"groups", len(a.cfg.Facebook.Groups),
		"whatsapp", a.cfg.WhatsApp.Enabled,
		"generation", a.gateway.Online(),
	)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		errs := []error{a.scheduler.Stop(shutdownCtx)}
		a.historical.Stop()
		if a.supervisor != nil {
			errs = append(errs, a.supervisor.Stop(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the ledger.
func (a *Application) Close() error {
	return a.store.Close()
}
