package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/resumeforge/resumeforge/modules/account"
	"github.com/resumeforge/resumeforge/modules/billing"
	"github.com/resumeforge/resumeforge/pkg/config"
	"github.com/resumeforge/resumeforge/pkg/httpserver"
	"github.com/resumeforge/resumeforge/pkg/logger"
	"github.com/resumeforge/resumeforge/pkg/pg"
	"github.com/resumeforge/resumeforge/pkg/redis"
)

type appConfig struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"APP_NAME" envDefault:"resumeforge"`

	DedupTTL time.Duration `env:"BILLING_WEBHOOK_DEDUP_TTL" envDefault:"24h"`

	HTTP   httpserver.Config
	PG     pg.Config
	Redis  redis.Config
	Stripe billing.StripeConfig
	Plans  billing.PlansConfig
}

func main() {
	ctx := context.Background()

	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(logger.WithEnvironment(cfg.Environment, cfg.ServiceName))
	logger.SetAsDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	provider, err := billing.NewStripeProvider(cfg.Stripe)
	if err != nil {
		return err
	}

	priceMap, err := billing.LoadPriceMap(cfg.Plans)
	if err != nil {
		return err
	}

	store := account.NewStore(pool)
	engine := billing.NewEngine(store, billing.NewPlanResolver(priceMap), log)

	prices := map[billing.Plan]string{}
	if cfg.Plans.ProfessionalPriceID != "" {
		prices[billing.PlanProfessional] = cfg.Plans.ProfessionalPriceID
	}
	if cfg.Plans.PremiumPriceID != "" {
		prices[billing.PlanPremium] = cfg.Plans.PremiumPriceID
	}

	service := billing.NewService(provider, store, engine, prices, log)
	deduper := billing.NewEventDeduper(rdb, cfg.DedupTTL, log)
	webhook := billing.NewWebhookHandler(service, deduper, log)
	billingHTTP := billing.NewHTTPHandler(service, webhook, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", httpserver.HealthCheckHandler(log,
		pg.Healthcheck(pool),
		redis.Healthcheck(rdb),
	))
	r.Mount("/billing", billingHTTP.Handle())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
	return srv.Run(ctx, r)
}
