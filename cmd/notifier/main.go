package main

import (
	"context"
	"log"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"

	tcconfig "github.com/tablecall/tablecall/config"
	"github.com/tablecall/tablecall/internal/connectutil"
	"github.com/tablecall/tablecall/pkg/events"
	"github.com/tablecall/tablecall/pkg/notify"
	notifyapi "github.com/tablecall/tablecall/pkg/notify/api"
	"github.com/tablecall/tablecall/pkg/urlvalidation"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[tcconfig.NotifierConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("tablecall-notifier"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithDatastore(),
		frame.WithRegisterPublisher(eventRef, eventURL),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	authenticator := srv.SecurityManager().GetAuthenticator(ctx)

	pub := events.NewPublisher(srv.QueueManager(), "notifier", eventRef)

	var validateOpts []urlvalidation.Option
	if cfg.AllowPrivateHooks {
		validateOpts = append(validateOpts, urlvalidation.AllowPrivateIPs())
	}

	repo := notify.NewRepository(srv.DatastoreManager().GetPool(ctx, "__default__pool_name__"))
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("migrating notify: %v", err)
	}
	subscriber := &notify.Subscriber{
		Repo:      repo,
		Static:    cfg.StaticEndpoints(),
		Deliverer: notify.NewDeliverer(repo, cfg.DelivererConfig(), validateOpts...),
		Pool:      pool,
	}

	restMux := http.NewServeMux()
	notifyapi.NewHandler(repo, pub, validateOpts...).RegisterRoutes(restMux)

	mux := http.NewServeMux()
	mux.Handle("/api/", connectutil.RequireAuth(restMux, authenticator))

	srv.Init(ctx,
		frame.WithRegisterSubscriber(eventRef+".staff", eventURL, subscriber),
		frame.WithHTTPHandler(connectutil.H2CHandler(mux)),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
