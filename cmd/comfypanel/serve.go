package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/richinsley/comfypanel/client"
	"github.com/richinsley/comfypanel/generation"
	"github.com/richinsley/comfypanel/history"
	"github.com/richinsley/comfypanel/logger"
	"github.com/richinsley/comfypanel/panel"
	"github.com/richinsley/comfypanel/settings"
	"github.com/richinsley/comfypanel/store"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// serve runs the panel API until ctx is cancelled. Generations still running at
// shutdown are cancelled and waited for. The remembered backend url wins over the
// configured one unless forceBackend is set.
func serve(ctx context.Context, config *settings.Config, forceBackend bool, session *client.Session, submitter *generation.Submitter, recent *history.History, db *store.Store) error {
	log := logger.Service("server")

	g, gctx := errgroup.WithContext(ctx)

	prober := client.NewProber(session, config.Backend.ProbeInterval, logger.Service("prober"))
	p, err := panel.New(gctx, panel.Options{
		Session:           session,
		Prober:            prober,
		Submitter:         submitter,
		History:           recent,
		Preferences:       db,
		DefaultBackendURL: config.Backend.Url,
		Logger:            logger.Service("panel"),
	})
	if err != nil {
		return err
	}
	if forceBackend {
		if err := p.SetBackendURL(config.Backend.Url); err != nil {
			return err
		}
	}
	if err := prober.Start(gctx); err != nil {
		return err
	}
	defer prober.Stop()

	srv := &http.Server{
		Addr: config.Server.Listen,
		Handler: panel.NewRouter(p, panel.RouterConfig{
			AllowOrigins: config.Server.AllowOrigins,
			Logger:       logger.Service("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("Panel API listening", "addr", config.Server.Listen, "backend", session.Endpoint())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	p.Wait()
	return err
}
