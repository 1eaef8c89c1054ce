package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/gitshopapp/preorder/internal/cache"
	"github.com/gitshopapp/preorder/internal/config"
	"github.com/gitshopapp/preorder/internal/crypto"
	"github.com/gitshopapp/preorder/internal/db"
	"github.com/gitshopapp/preorder/internal/email"
	"github.com/gitshopapp/preorder/internal/filestore"
	"github.com/gitshopapp/preorder/internal/handlers"
	"github.com/gitshopapp/preorder/internal/hoodpay"
	"github.com/gitshopapp/preorder/internal/logging"
	"github.com/gitshopapp/preorder/internal/observability"
	"github.com/gitshopapp/preorder/internal/sellpass"
	"github.com/gitshopapp/preorder/internal/services"
	"github.com/gitshopapp/preorder/internal/session"
	"github.com/gitshopapp/preorder/internal/stripe"
)

type App struct {
	Config         *config.Config
	Logger         *slog.Logger
	DB             *pgxpool.Pool
	CacheProvider  cache.Provider
	SessionManager *session.Manager
	Supervisor     *services.Supervisor
	Recovery       *services.RecoveryManager
	Handlers       *handlers.Handlers

	logFile        io.Closer
	sentryEnabled  bool
	background     *errgroup.Group
	stopBackground context.CancelFunc
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	a.Logger, a.logFile = newLogger(cfg)
	logger := a.Logger

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
		a.sentryEnabled = true
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	invoices, orders, err := a.openStores(startupCtx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.CacheProvider, err = cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	sessionStore, err := session.NewStore(startupCtx, session.Config{
		Provider:              cfg.SessionStoreProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	sealer, err := crypto.NewSealer(cfg.SessionEncryptionKey)
	if err != nil {
		_ = sessionStore.Close()
		a.Close()
		return nil, fmt.Errorf("failed to initialize session sealer: %w", err)
	}
	a.SessionManager = session.NewManager(sessionStore, sealer)

	gateway, err := newGateway(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	backend := sellpass.NewClient(sellpass.Config{
		ShopID:        cfg.SellpassShopID,
		ProductID:     cfg.SellpassProductID,
		APIKey:        cfg.SellpassAPIKey,
		BaseURL:       cfg.SellpassBaseURL,
		PublicBaseURL: cfg.SellpassPublicBaseURL,
	}, sellpass.WithHTTPClient(observability.NewHTTPClient(20*time.Second)))

	alerter, err := newAlerter(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	fulfiller := services.NewFulfiller(invoices, orders, backend, alerter, logger)
	poller := services.NewPoller(invoices, gateway, fulfiller, alerter, cfg.PollInterval, logger)
	a.Supervisor = services.NewSupervisor(poller, logger)
	a.Recovery = services.NewRecoveryManager(invoices, orders, a.Supervisor, logger)

	checkout := services.NewCheckoutService(services.CheckoutDeps{
		Sessions:  a.SessionManager,
		Backend:   backend,
		Gateway:   gateway,
		Invoices:  invoices,
		Orders:    orders,
		Fulfiller: fulfiller,
		Launcher:  a.Supervisor,
		Cache:     a.CacheProvider,
	}, services.CheckoutConfig{
		ProductID:     cfg.SellpassProductID,
		InvoicePrefix: cfg.InvoicePrefix,
		CatalogTTL:    cfg.CatalogCacheTTL,
	}, logger)

	var ping func(context.Context) error
	if a.DB != nil {
		ping = a.DB.Ping
	}

	a.Handlers, err = handlers.New(handlers.Dependencies{
		AdminToken: cfg.AdminAPIToken,
		Checkout:   checkout,
		Queue:      services.NewDeliveryQueue(orders),
		Recovery:   a.Recovery,
		Pollers:    a.Supervisor,
		Sessions:   a.SessionManager,
		OTP:        backend,
		Ping:       ping,
		Logger:     logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return a, nil
}

// Start relaunches pollers for in-flight invoices and starts the background
// workers. It must be called once, before serving requests.
func (a *App) Start(ctx context.Context) error {
	launched, err := a.Recovery.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover invoices: %w", err)
	}
	a.Logger.Info("startup recovery finished", "pollers_launched", launched)

	unreconciled, err := a.Recovery.Unreconciled(ctx)
	if err != nil {
		a.Logger.Warn("failed to list unreconciled invoices", "error", err)
	} else if len(unreconciled) > 0 {
		a.Logger.Warn("paid invoices without orders need reconciliation", "count", len(unreconciled))
	}

	bgCtx, cancel := context.WithCancel(logging.WithLogger(context.Background(), a.Logger))
	group, bgCtx := errgroup.WithContext(bgCtx)
	group.Go(func() error {
		return a.SessionManager.RunSweeper(bgCtx, a.Config.SessionSweepInterval, a.Logger.With("component", "session_sweeper"))
	})

	a.background = group
	a.stopBackground = cancel
	return nil
}

// Shutdown stops every poller and background worker. Pollers persist nothing
// on the way out; recovery picks their invoices up on the next start.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	if a.Supervisor != nil {
		if err := a.Supervisor.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("failed to stop pollers: %w", err)
		}
	}
	if a.stopBackground != nil {
		a.stopBackground()
		if err := a.background.Wait(); err != nil && shutdownErr == nil {
			shutdownErr = fmt.Errorf("background worker failed: %w", err)
		}
	}
	return shutdownErr
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.SessionManager != nil {
		if err := a.SessionManager.Close(); err != nil {
			a.Logger.Warn("failed to close session manager", "error", err)
		}
	}
	if a.CacheProvider != nil {
		if err := a.CacheProvider.Close(); err != nil {
			a.Logger.Warn("failed to close cache provider", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.sentryEnabled {
		sentry.Flush(5 * time.Second)
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

func (a *App) openStores(ctx context.Context) (services.InvoiceStore, services.OrderStore, error) {
	cfg := a.Config
	switch cfg.StoreProvider {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		a.DB = pool
		if err := db.Migrate(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return db.NewInvoiceStore(pool), db.NewOrderStore(pool), nil
	default:
		invoices, err := filestore.NewInvoiceStore(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open invoice store: %w", err)
		}
		orders, err := filestore.NewOrderStore(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open order store: %w", err)
		}
		return invoices, orders, nil
	}
}

func newGateway(cfg *config.Config) (services.PaymentGateway, error) {
	if cfg.GatewayProvider == "stripe" {
		return stripe.NewGateway(cfg.StripeSecretKey, cfg.StripeSuccessURL, cfg.StripeCancelURL,
			stripe.WithCurrency(cfg.StripeCurrency),
		), nil
	}

	methods := hoodpay.DefaultMethods()
	if cfg.PaymentMethodsFile != "" {
		loaded, err := hoodpay.LoadMethods(cfg.PaymentMethodsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load payment methods: %w", err)
		}
		methods = loaded
	}
	return hoodpay.NewClient(cfg.HoodpayBaseURL, methods), nil
}

func newAlerter(cfg *config.Config, logger *slog.Logger) (*services.OperatorAlerter, error) {
	provider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider(),
		APIKey:   cfg.ResendAPIKey,
		From:     cfg.AlertEmailFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	renderer, err := email.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize alert templates: %w", err)
	}
	return services.NewOperatorAlerter(provider, renderer, cfg.AlertEmailTo, logger), nil
}

func newLogger(cfg *config.Config) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var console slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		console = slog.NewJSONHandler(os.Stdout, opts)
	default:
		console = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	if cfg.LogFile == "" {
		return slog.New(console), nil
	}

	file := logging.RotatingFile(cfg.LogFile)
	return slog.New(logging.MultiHandler(console, slog.NewJSONHandler(file, opts))), file
}
