package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/ViniZap4/ytnotes-server/auth"
	"github.com/ViniZap4/ytnotes-server/coordinator"
	"github.com/ViniZap4/ytnotes-server/events"
	httpapi "github.com/ViniZap4/ytnotes-server/http"
	"github.com/ViniZap4/ytnotes-server/notes"
	"github.com/ViniZap4/ytnotes-server/peer"
	"github.com/ViniZap4/ytnotes-server/popup"
	"github.com/ViniZap4/ytnotes-server/store"
	"github.com/ViniZap4/ytnotes-server/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(cc *commandContext) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notes server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != "" {
				cc.cfg.App.Port = port
			}
			return runServe(cmd.Context(), cc)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (default YTNOTES_PORT or 8080)")
	return cmd
}

func runServe(ctx context.Context, cc *commandContext) error {
	cfg, log := cc.cfg, cc.log

	bucket, err := store.Open(ctx, cc.storeOptions())
	if err != nil {
		return err
	}
	defer bucket.Close()
	if fb, ok := bucket.(*store.FileBucket); ok {
		log.Info().Str("file", fb.Path()).Msg("using file store")
	}

	hub := ws.NewHub(log)
	publishers := events.Fanout{hub}
	if cfg.Sync.NatsURL != "" {
		natsPub, err := events.NewNATSPublisher(cfg.Sync.NatsURL, cfg.Sync.NatsSubject)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, events stay local")
		} else {
			defer natsPub.Close()
			publishers = append(publishers, natsPub)
		}
	}

	svc := notes.NewService(bucket,
		notes.WithPublisher(publishers),
		notes.WithLogger(log),
		notes.WithServerID(cfg.Sync.ServerID),
		notes.WithMaxRetries(cfg.Store.MaxRetries),
	)
	if _, err := svc.Initialize(ctx); err != nil {
		return err
	}

	password, err := auth.NewPassword(cfg.Auth.Password)
	if err != nil {
		return err
	}
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	bridge := ws.NewBridge(cfg.App.BridgeTimeout, log)
	peers := peer.NewPeerManager(cfg.Sync.Peers, hub, svc, cfg.Sync.ServerID, log,
		peer.WithToken(cfg.Sync.PeerToken),
	)
	coord := coordinator.New(svc, bridge,
		coordinator.WithIssuer(issuer),
		coordinator.WithSyncer(peers),
		coordinator.WithLogger(log),
	)
	bridge.SetHandler(coord)
	peers.Start(ctx)

	server := httpapi.NewServer(httpapi.Deps{
		Service:     svc,
		Coordinator: coord,
		Sessions:    popup.NewSessions(svc, bridge, bridge, cfg.App.SessionTTL),
		Hub:         hub,
		Bridge:      bridge,
		Password:    password,
		Issuer:      issuer,
		Log:         log,
		CorsOrigins: cfg.App.CorsAllowedOrigins,
	})

	log.Info().
		Str("server_id", cfg.Sync.ServerID).
		Str("store", cfg.Store.Driver).
		Int("peers", len(cfg.Sync.Peers)).
		Msg("ytnotes server configured")

	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen(":" + cfg.App.Port) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	peers.Wait()
	log.Info().Msg("server stopped")
	return nil
}
