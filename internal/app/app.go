// Package app assembles the orchestrator from its configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/whatsapp-automation/orchestrator/internal/api"
	"github.com/whatsapp-automation/orchestrator/internal/autoreply"
	"github.com/whatsapp-automation/orchestrator/internal/cache"
	"github.com/whatsapp-automation/orchestrator/internal/campaign"
	"github.com/whatsapp-automation/orchestrator/internal/completion"
	"github.com/whatsapp-automation/orchestrator/internal/config"
	"github.com/whatsapp-automation/orchestrator/internal/conversation"
	"github.com/whatsapp-automation/orchestrator/internal/logging"
	"github.com/whatsapp-automation/orchestrator/internal/proxy"
	"github.com/whatsapp-automation/orchestrator/internal/salesflow"
	"github.com/whatsapp-automation/orchestrator/internal/session"
	"github.com/whatsapp-automation/orchestrator/internal/store"
	"github.com/whatsapp-automation/orchestrator/internal/telegram"
	"github.com/whatsapp-automation/orchestrator/internal/whatsapp"
)

const (
	mediaTimeout    = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

// App owns every long-lived component. Build it with New, then Run it.
type App struct {
	cfg *config.Config
	log *logrus.Entry

	Store     *store.Store
	Cache     cache.Store
	Proxies   *proxy.Pool
	Transport *whatsapp.Adapter
	Alerts    *telegram.Notifier
	Sessions  *session.Manager
	Campaigns *campaign.Dispatcher
	Leads     *salesflow.Engine
	AutoReply *autoreply.Orchestrator

	handler http.Handler
	closers []func() error
	stopped bool
}

// New opens storage and wires the components. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (_ *App, err error) {
	a := &App{cfg: cfg, log: logging.Component(log, "app")}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Store, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	if err = a.openCache(ctx); err != nil {
		return nil, err
	}

	a.Proxies = proxy.NewPool(a.Store, logging.Component(log, "proxy"), proxy.Options{
		HealthInterval: cfg.Proxy.HealthInterval,
		CheckDelay:     cfg.Proxy.CheckDelay,
		HealthTarget:   cfg.Proxy.HealthTarget,
	})

	a.Transport, err = whatsapp.NewAdapter(whatsapp.Options{
		SessionsDir: cfg.WhatsApp.SessionsDir,
		StoreDriver: cfg.WhatsApp.StoreDriver,
		StoreDSN:    cfg.WhatsApp.StoreDSN,
		DeviceSeed:  cfg.Device.Seed,
		Country:     cfg.Device.Country,
	}, logging.Component(log, "whatsapp"))
	if err != nil {
		return nil, fmt.Errorf("whatsapp adapter: %w", err)
	}
	a.closers = append(a.closers, a.Transport.Close)

	a.Alerts = telegram.NewNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, logging.Component(log, "telegram"))

	a.Sessions = session.NewManager(a.Store, a.Transport, a.Proxies, a.Alerts, logging.Component(log, "session"), session.Options{
		BatchLimit:     cfg.Session.BatchLimit,
		ReconnectDelay: cfg.Session.ReconnectDelay,
	})

	media := campaign.NewHTTPMedia(mediaTimeout)
	a.Campaigns = campaign.NewDispatcher(a.Store, a.Sessions, media, a.Alerts, logging.Component(log, "campaign"), campaign.Options{})

	turns := conversation.New(a.Cache)
	a.Leads = salesflow.NewEngine(a.Store, a.viabilityChecker(log), salesflow.NewViaCEP(salesflow.DefaultLookupTimeout), turns,
		logging.Component(log, "salesflow"))

	llm := completion.New(completion.Options{
		BaseURL:   cfg.Completion.BaseURL,
		APIKey:    cfg.Completion.APIKey,
		Model:     cfg.Completion.Model,
		MaxTokens: cfg.Completion.MaxTokens,
	}, logging.Component(log, "completion"))
	if !llm.Enabled() {
		a.log.Warn("COMPLETION_API_KEY not set, free-form auto-replies are disabled")
	}

	a.AutoReply = autoreply.New(a.Sessions, a.Leads, turns, llm, a.Cache, logging.Component(log, "autoreply"), autoreply.Options{
		DedupTTL:     cfg.AutoReply.DedupTTL,
		SystemPrompt: cfg.Completion.SystemPrompt,
	})
	a.Sessions.OnInbound(a.AutoReply.Receive)

	a.handler = api.NewServer(api.Deps{
		Sessions:  a.Sessions,
		Proxies:   a.Proxies,
		Campaigns: a.Campaigns,
		Leads:     a.Leads,
		Logs:      a.Store,
		Media:     media,
		DB:        a.Store,
	}, logging.Component(log, "api")).Handler()

	return a, nil
}

func (a *App) openCache(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		a.Cache = cache.NewMemoryStore()
		a.log.Info("REDIS_ADDR not set, using in-process cache")
		return nil
	}
	rs, err := cache.NewRedisStore(ctx, cache.RedisOptions{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		Prefix:   a.cfg.Redis.Prefix,
	})
	if err != nil {
		return err
	}
	a.Cache = rs
	a.closers = append(a.closers, rs.Close)
	return nil
}

func (a *App) viabilityChecker(log logrus.FieldLogger) salesflow.Checker {
	var checker salesflow.Checker = salesflow.SimulatedChecker{}
	if a.cfg.Viability.APIURL != "" {
		checker = salesflow.NewAPIChecker(a.cfg.Viability.APIURL, a.cfg.Viability.APIKey, salesflow.DefaultLookupTimeout)
	} else {
		a.log.Warn("VIABILITY_API_URL not set, using simulated coverage")
	}
	return salesflow.NewCachedChecker(checker, a.Cache, logging.Component(log, "viability"))
}

// Handler is the operator HTTP API.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Start loads the proxy pool and restores sessions and running campaigns.
func (a *App) Start(ctx context.Context) error {
	if err := a.Proxies.Load(ctx); err != nil {
		return err
	}
	if n := a.Proxies.Bootstrap(ctx, a.cfg.Proxy.ProxyURLs()); n > 0 {
		a.log.Infof("Bootstrapped %d proxies from PROXY_LIST", n)
	}
	a.Proxies.Start(ctx)

	if err := a.Sessions.Start(ctx); err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	if err := a.Campaigns.StartWorkers(ctx); err != nil {
		return fmt.Errorf("restore campaigns: %w", err)
	}
	return nil
}

// Stop halts background work in dependency order: campaigns first, then
// sessions, then the proxy health loop. Pending alerts are flushed.
func (a *App) Stop() {
	if a.stopped {
		return
	}
	a.stopped = true
	if a.Campaigns != nil {
		a.Campaigns.Stop()
	}
	if a.Sessions != nil {
		a.Sessions.Stop()
	}
	if a.Proxies != nil {
		a.Proxies.Stop()
	}
	if a.Alerts != nil {
		a.Alerts.Wait()
	}
}

// Close stops the app if needed and releases storage and connections.
func (a *App) Close() error {
	a.Stop()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run starts the app and serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      a.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Infof("Orchestrator listening on %s", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.Stop()
	return err
}
