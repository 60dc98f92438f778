package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/client"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	mobyengine "github.com/thediveo/whalewatcher/engineclient/moby"
	"github.com/thediveo/whalewatcher/watcher"

	"github.com/footron/controller/internal/api"
	"github.com/footron/controller/internal/config"
	"github.com/footron/controller/internal/controller"
	"github.com/footron/controller/internal/environment"
	"github.com/footron/controller/internal/messaging"
	"github.com/footron/controller/internal/placard"
	"github.com/footron/controller/internal/portmanager"
	"github.com/footron/controller/internal/windowmanager"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Controller, operator API and messaging router",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadControllerConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// serve boots every long-running piece of the display control plane in one
// process: the Controller, its background loops, the operator HTTP API and
// the messaging WebSocket router (mirrors cmd/helix/serve.go's single
// `serve` function wiring server + controller + background workers
// together before calling ListenAndServe).
func serve(ctx context.Context, cfg config.ControllerConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dockerCli, watch := dialDocker(cfg)
	if watch != nil {
		go func() {
			if err := watch.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("serve: docker watcher stopped")
			}
		}()
	}

	ports := portmanager.New(0, 0)
	factory := environment.NewFactory(dockerCli, watch, ports, cfg, cfg.KioskBinary)

	var placardClient *placard.Client
	if !cfg.DisablePlacard {
		placardClient = placard.New(cfg.PlacardSocketPath)
	}
	var wmClient *windowmanager.Client
	if !cfg.DisableWM {
		wmClient = windowmanager.New(cfg.WMAddr)
	}

	// A typed *DockerRogueCleaner(nil) passed as the cleaner interface
	// would make the Controller's nil check false and panic the rogue
	// sweep on a nil receiver, so build the Controller with a literal
	// nil argument when docker is unavailable instead.
	var ctrl *controller.Controller
	if dockerCli != nil {
		ctrl = controller.New(cfg, factory, placardClient, wmClient, controller.NewDockerRogueCleaner(dockerCli), nil, nil)
	} else {
		ctrl = controller.New(cfg, factory, placardClient, wmClient, nil, nil, nil)
	}

	if err := ctrl.ReloadFromFS(ctx); err != nil {
		log.Warn().Err(err).Msg("serve: initial catalog load failed, starting with an empty catalog")
	}

	registry := messaging.NewRegistry()
	router := messaging.NewRouter(registry, ctrl)

	root := mux.NewRouter()
	router.RegisterRoutes(root)

	// api.AccessLog wraps http.ResponseWriter in a statusRecorder that
	// doesn't implement http.Hijacker, which gorilla/websocket's Upgrade
	// requires; mounting it only on this subrouter keeps /messaging/*
	// upgrades working.
	apiHandler := api.New(ctrl, placardClient)
	apiRouter := root.NewRoute().Subrouter()
	apiRouter.Use(api.AccessLog)
	apiHandler.RegisterRoutes(apiRouter)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctrl.RunBackgroundLoops(ctx, nil)
	go router.Run(ctx)
	go func() {
		if err := ctrl.WatchFilesystem(ctx, 2*time.Second); err != nil {
			log.Warn().Err(err).Msg("serve: filesystem watch stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("serve: listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	ctrl.Shutdown()
	return nil
}

// dialDocker dials the Docker daemon and layers a whalewatcher watcher on
// top of the same client, so the Factory's docker-kind environments and the
// crash-detecting watcher share one connection (watcher/moby.New builds its
// own client internally; this mirrors its wiring while reusing cfg.DockerHost
// for both). A nil client/watcher pair is tolerated: docker-kind experiences
// then report unavailable rather than the whole process refusing to start.
func dialDocker(cfg config.ControllerConfig) (*client.Client, watcher.Watcher) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		log.Warn().Err(err).Msg("serve: docker client unavailable, docker-kind experiences will report unavailable")
		return nil, nil
	}
	w := watcher.New(mobyengine.NewMobyWatcher(cli), backoff.NewExponentialBackOff())
	return cli, w
}
