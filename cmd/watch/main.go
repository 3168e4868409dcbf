// Command watch follows live record lists and detail views from the
// terminal, printing one JSON line per view.
//
//	watch list --kind itineraries --token $ACCESS_TOKEN
//	watch list --kind appointments --field patientId --value p1
//	watch doc --kind prescriptions --id 42   # SIGHUP refetches
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/carecoord/carecoord/internal/config"
	"github.com/carecoord/carecoord/internal/database"
	"github.com/carecoord/carecoord/internal/identity"
	"github.com/carecoord/carecoord/internal/store"
	"github.com/carecoord/carecoord/internal/tokens"
	"github.com/carecoord/carecoord/pkg/logger"
)

func main() {
	logger.SetOutput(os.Stderr)
	logger.Init(os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a, cleanup, err := setup(ctx)
	if err != nil {
		stop()
		logger.Fatalf("watch: %v", err)
	}
	err = newRootCmd(a).ExecuteContext(ctx)
	cleanup()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func setup(ctx context.Context) (*app, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	a := &app{
		session:     identity.NewSession(),
		verifier:    tokens.NewVerifier(cfg.JWT.Secret),
		loadTimeout: cfg.Subscriptions.LoadTimeout,
	}
	if cfg.MongoDB.URI == "" {
		a.store = store.NewMemoryStore()
		return a, func() {}, nil
	}
	client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 3)
	if err != nil {
		return nil, nil, err
	}
	a.store = store.NewMongoStore(client.Database(cfg.MongoDB.Database))
	return a, func() { _ = client.Disconnect(context.Background()) }, nil
}
