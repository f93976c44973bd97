// Command billingd runs the subscription billing service: it provisions
// the plan catalog against the payment processor on startup, then serves
// the tenant-facing billing endpoints and the processor webhook.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	billingmod "github.com/zumahq/billing/modules/billing"
	"github.com/zumahq/billing/pkg/billing"
	"github.com/zumahq/billing/pkg/billing/postgres"
	"github.com/zumahq/billing/pkg/billing/rediscache"
	"github.com/zumahq/billing/pkg/config"
	"github.com/zumahq/billing/pkg/httpserver"
	"github.com/zumahq/billing/pkg/logger"
	"github.com/zumahq/billing/pkg/pg"
	"github.com/zumahq/billing/pkg/redis"
)

type appConfig struct {
	Environment    string        `env:"APP_ENV" envDefault:"development"`
	StatusCacheTTL time.Duration `env:"STATUS_CACHE_TTL" envDefault:"1s"`
	RedisCache     bool          `env:"STATUS_CACHE_REDIS" envDefault:"false"`
}

// catalog is the plan set provisioned on every start. EnsurePlan is
// idempotent, so restarts and multiple instances are safe.
var catalog = map[string]billing.PlanSpec{
	"zuma_basic": {
		Name:  "Zuma Basic",
		Price: billing.Money{Amount: 1900, Currency: "USD"},
	},
	"zuma_pro": {
		Name:      "Zuma Pro",
		Price:     billing.Money{Amount: 4900, Currency: "USD"},
		TrialDays: 14,
	},
}

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("billingd failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(logger.WithEnvironment(appCfg.Environment, "billingd"))
	slog.SetDefault(log)

	var pgCfg pg.Config
	config.MustLoad(&pgCfg)
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return err
	}

	var paddleCfg billing.PaddleConfig
	config.MustLoad(&paddleCfg)
	processor, err := billing.NewPaddleClient(paddleCfg)
	if err != nil {
		return err
	}

	planStore := postgres.NewPlanStore(pool)
	subStore := postgres.NewSubscriptionStore(pool)
	ledgerStore := postgres.NewLedgerStore(pool)

	provisioner := billing.NewProvisioner(planStore, processor, billing.WithProvisionerLogger(log))
	for key, spec := range catalog {
		result, err := provisioner.EnsurePlan(ctx, key, spec)
		if err != nil {
			// Provisioning retries on the next start; the plan row is
			// durable and the service can still serve existing tenants.
			if errors.Is(err, billing.ErrProvisioningFailed) {
				log.ErrorContext(ctx, "plan provisioning failed, will retry on next start",
					slog.String("plan_key", key), slog.Any("error", err))
				continue
			}
			return err
		}
		log.InfoContext(ctx, "plan ready",
			slog.String("plan_key", key), slog.String("outcome", string(result.Outcome)))
	}

	serviceOpts := []billing.ServiceOption{billing.WithServiceLogger(log)}
	healthchecks := []func(context.Context) error{pg.Healthcheck(pool)}
	if appCfg.RedisCache {
		var redisCfg redis.Config
		config.MustLoad(&redisCfg)
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		serviceOpts = append(serviceOpts,
			billing.WithStatusCache(rediscache.New(client), appCfg.StatusCacheTTL))
		healthchecks = append(healthchecks, redis.Healthcheck(client))
	} else {
		serviceOpts = append(serviceOpts,
			billing.WithStatusCache(billing.NewMemoryStatusCache(), appCfg.StatusCacheTTL))
	}

	gateway := billing.NewService(planStore, subStore, processor, serviceOpts...)
	reconciler := billing.NewReconciler(subStore, ledgerStore, processor,
		billing.WithReconcilerLogger(log))

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Mount("/billing", billingmod.Router(gateway, log))
	r.Mount("/webhooks/processor", billingmod.WebhookRouter(reconciler, log))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range healthchecks {
			if err := check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	var httpCfg httpserver.Config
	config.MustLoad(&httpCfg)
	return httpserver.New(httpCfg, log).Run(ctx, r)
}
