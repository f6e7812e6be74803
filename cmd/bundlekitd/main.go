package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
	"github.com/dmitrymomot/bundlekit/pkg/config"
	"github.com/dmitrymomot/bundlekit/pkg/history"
	"github.com/dmitrymomot/bundlekit/pkg/httpapi"
	"github.com/dmitrymomot/bundlekit/pkg/httpserver"
	"github.com/dmitrymomot/bundlekit/pkg/impact"
	"github.com/dmitrymomot/bundlekit/pkg/ledger"
	"github.com/dmitrymomot/bundlekit/pkg/logger"
	"github.com/dmitrymomot/bundlekit/pkg/mongo"
	"github.com/dmitrymomot/bundlekit/pkg/pg"
	"github.com/dmitrymomot/bundlekit/pkg/pricing"
	"github.com/dmitrymomot/bundlekit/pkg/redis"
	"github.com/dmitrymomot/bundlekit/pkg/revshare"
)

type appConfig struct {
	Environment     string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr        string `env:"HTTP_ADDR" envDefault:":8080"`
	MongoDatabase   string `env:"MONGODB_DATABASE" envDefault:"bundlekit"`
	CatalogSeedPath string `env:"CATALOG_SEED_PATH"`
}

func main() {
	ctx := context.Background()

	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(logger.WithEnvironment(appCfg.Environment, "bundlekit"))
	logger.SetAsDefault(log)

	if err := run(ctx, appCfg, log); err != nil {
		log.ErrorContext(ctx, "fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, appCfg appConfig, log *slog.Logger) error {
	var mongoCfg mongo.Config
	config.MustLoad(&mongoCfg)
	db, err := mongo.NewWithDatabase(ctx, mongoCfg, appCfg.MongoDatabase)
	if err != nil {
		return err
	}
	defer db.Client().Disconnect(ctx) //nolint:errcheck

	var redisCfg redis.Config
	config.MustLoad(&redisCfg)
	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

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

	historyLog := history.NewLogger(history.NewPGStore(pool), history.WithDefaultActor("system"))

	catalogSvc := catalog.NewService(catalog.NewMongoStore(db),
		catalog.WithHistory(historyLog),
		catalog.WithLogger(log),
	)
	if appCfg.CatalogSeedPath != "" {
		if err := catalog.Seed(ctx, catalogSvc, catalog.NewYAMLSource(appCfg.CatalogSeedPath)); err != nil {
			return err
		}
	}

	calculator := pricing.NewCalculator(catalogSvc)

	var impactCfg impact.Config
	config.MustLoad(&impactCfg)
	subStore := ledger.NewMongoSubscriptionStore(db)
	usageStore := ledger.NewRedisUsageStore(redisClient)
	impactSvc := impact.NewService(impactCfg, catalogSvc, subStore, usageStore, impact.NewMongoStore(db),
		impact.WithHistory(historyLog),
		impact.WithLogger(log),
	)
	catalogSvc.SetAnalysisVerifier(impactSvc)

	ledgerSvc := ledger.NewService(catalogSvc, calculator, subStore, usageStore,
		ledger.WithGrandfathers(impactSvc),
		ledger.WithHistory(historyLog),
		ledger.WithLogger(log),
	)

	revenueStore := revshare.NewMongoStore(db)
	revenueSvc := revshare.NewService(revenueStore,
		revshare.WithHistory(historyLog),
		revshare.WithLogger(log),
	)

	var paddleCfg revshare.PaddleConfig
	config.MustLoad(&paddleCfg)
	invoicer, err := revshare.NewPaddleInvoicer(paddleCfg)
	if err != nil {
		return err
	}
	dispatcher := revshare.NewDispatcher(revenueStore, invoicer,
		revshare.WithDispatcherLogger(log),
	)
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}
	defer dispatcher.Stop()

	api := httpapi.NewServer(catalogSvc, calculator, ledgerSvc, impactSvc, revenueSvc, history.NewPGStore(pool))

	mux := http.NewServeMux()
	mux.Handle("/", api.Router())
	mux.Handle("/health", httpserver.HealthCheckHandler(ctx, log,
		mongo.Healthcheck(db.Client()),
		redis.Healthcheck(redisClient),
		pg.Healthcheck(pool),
	))

	srv := httpserver.New(
		httpserver.WithAddr(appCfg.HTTPAddr),
		httpserver.WithLogger(log),
	)
	return srv.Run(ctx, mux)
}
