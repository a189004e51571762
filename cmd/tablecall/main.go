package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"

	tcconfig "github.com/tablecall/tablecall/config"
	"github.com/tablecall/tablecall/internal/api"
	callhandler "github.com/tablecall/tablecall/internal/call/handler"
	"github.com/tablecall/tablecall/internal/connectutil"
	"github.com/tablecall/tablecall/internal/telemetry"
	"github.com/tablecall/tablecall/pkg/callapi"
	"github.com/tablecall/tablecall/pkg/catalog"
	"github.com/tablecall/tablecall/pkg/dialog"
	"github.com/tablecall/tablecall/pkg/events"
	"github.com/tablecall/tablecall/pkg/notify"
	notifyapi "github.com/tablecall/tablecall/pkg/notify/api"
	"github.com/tablecall/tablecall/pkg/remote"
	"github.com/tablecall/tablecall/pkg/store"
	"github.com/tablecall/tablecall/pkg/urlvalidation"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[tcconfig.ServiceConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("tablecall"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithDatastore(),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	authenticator := srv.SecurityManager().GetAuthenticator(ctx)

	pub := events.NewPublisher(srv.QueueManager(), "tablecall", eventRef)
	dbPool := srv.DatastoreManager().GetPool(ctx, "__default__pool_name__")

	// --- Persistence and catalog ---
	repo := store.NewRepository(dbPool)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("migrating store: %v", err)
	}
	if cfg.SeedPath != "" {
		seed, err := catalog.LoadSeed(cfg.SeedPath)
		if err != nil {
			log.Fatalf("loading seed: %v", err)
		}
		if seeded, err := store.SeedIfEmpty(ctx, repo, seed); err != nil {
			log.Fatalf("seeding catalog: %v", err)
		} else if seeded {
			slog.InfoContext(ctx, "catalog seeded", slog.String("path", cfg.SeedPath))
		}
	}

	menu := catalog.New(nil)
	faqs := catalog.NewFAQIndex(nil)
	catalogSync := store.NewCatalogSync(repo, menu, faqs)
	if err := catalogSync.Refresh(ctx); err != nil {
		log.Fatalf("loading catalog: %v", err)
	}

	recorder := store.NewRecorder(repo, pub, store.RecorderConfig{
		PhoneRegion:  cfg.PhoneRegion,
		MaxPartySize: cfg.MaxPartySize,
	})

	// --- Dialogue ---
	script, err := dialog.NewScript(nil)
	if err != nil {
		log.Fatalf("building script: %v", err)
	}
	if cfg.ScriptPath != "" {
		loader := dialog.NewScriptLoader(cfg.ScriptPath, script)
		if err := loader.Load(); err != nil {
			log.Printf("warning: loading script: %v", err)
		}
		go func() {
			if err := loader.WatchAndReload(ctx.Done()); err != nil {
				slog.ErrorContext(ctx, "script watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("loading time zone: %v", err)
	}

	observer, err := telemetry.NewObserver()
	if err != nil {
		log.Fatalf("creating telemetry: %v", err)
	}

	var validateOpts []urlvalidation.Option
	if cfg.AllowPrivateHooks {
		validateOpts = append(validateOpts, urlvalidation.AllowPrivateIPs())
	}

	var gateway dialog.Gateway = recorder
	if cfg.GatewayURL != "" {
		gateway = remote.NewGateway(remote.Config{
			BaseURL: cfg.GatewayURL,
			Token:   cfg.GatewayToken,
			Timeout: time.Duration(cfg.GatewayTimeoutSec) * time.Second,
		}, validateOpts...)
		slog.InfoContext(ctx, "submitting records to remote node", slog.String("url", cfg.GatewayURL))
	}

	dispatcher := dialog.NewDispatcher(menu, faqs, gateway,
		dialog.WithScript(script),
		dialog.WithDateResolver(dialog.NewNaturalDates(loc)),
		dialog.WithMaxAttempts(cfg.MaxAttempts),
		dialog.WithMaxPartySize(cfg.MaxPartySize),
		dialog.WithPublisher(pub),
		dialog.WithObserver(observer),
	)

	callHdlr := callhandler.NewCallHandler(dispatcher, recorder, pub, pool, callhandler.Config{
		IdleTimeout: cfg.IdleTimeout(),
		SessionTTL:  cfg.SessionTTL(),
		PhoneRegion: cfg.PhoneRegion,
	})

	// --- Staff notifications ---
	notifyRepo := notify.NewRepository(dbPool)
	if err := notifyRepo.Migrate(ctx); err != nil {
		log.Fatalf("migrating notify: %v", err)
	}
	staffSubscriber := &notify.Subscriber{
		Repo:      notifyRepo,
		Static:    cfg.StaticEndpoints(),
		Deliverer: notify.NewDeliverer(notifyRepo, cfg.DelivererConfig(), validateOpts...),
		Pool:      pool,
	}

	// --- HTTP Mux: RPC, admin REST and tool-call webhooks on one server ---
	mux := http.NewServeMux()

	path, h := callapi.NewCallServiceHandler(callHdlr, connectutil.DefaultOptions()...)
	mux.Handle(path, connectutil.RequireAuth(h, authenticator))

	restHdlr := api.NewHandler(repo, catalogSync, recorder,
		api.WithHealthCheck(repo.Ping),
		api.WithToolSecret(cfg.ToolSecret),
	)
	restHdlr.RegisterPublicRoutes(mux)

	adminMux := http.NewServeMux()
	restHdlr.RegisterRoutes(adminMux)
	notifyapi.NewHandler(notifyRepo, pub, validateOpts...).RegisterRoutes(adminMux)
	mux.Handle("/api/", connectutil.RequireAuth(adminMux, authenticator))

	callHdlr.StartReaper(ctx)

	srv.Init(ctx,
		frame.WithRegisterSubscriber(eventRef+".staff", eventURL, staffSubscriber),
		frame.WithHTTPHandler(connectutil.H2CHandler(mux)),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
