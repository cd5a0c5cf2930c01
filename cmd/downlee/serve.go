package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/downlee/downlee/internal/api"
	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/chat"
	"github.com/downlee/downlee/internal/domain"
	"github.com/downlee/downlee/internal/extractor"
	"github.com/downlee/downlee/internal/infra/config"
	"github.com/downlee/downlee/internal/infra/logger"
	"github.com/downlee/downlee/internal/store"
	"github.com/downlee/downlee/internal/urldl"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}

	st, err := store.Open(cfg.Store.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("store error: %w", err)
	}
	defer st.Close()

	if err := st.SeedDefaultUser(); err != nil {
		return fmt.Errorf("user seed error: %w", err)
	}

	a := app.NewContext(cfg, log, st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ex := extractor.New(cfg.Extractor.Binary, cfg.Extractor.CookiesFile, log)
	urlIntake := urldl.NewIntake(a, ex, ctx)

	// Startup reconciliation: rows left downloading by a previous run have no
	// worker anymore and would otherwise look active forever.
	reconcileStale(a)

	chatIntake := chat.NewIntake(a, chat.Dial)
	go func() {
		if err := chatIntake.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("chat intake exited: %v", err)
		}
	}()

	e := echo.New()
	api.RegisterRoutes(e, a, urlIntake)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
	}

	go func() {
		log.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	// Cancel workers first so their terminal records land before the store
	// closes. NotifyContext already cancelled ctx, which every worker shares.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown: %v", err)
	}

	waitForWorkers(a, 8*time.Second)
	return nil
}

func reconcileStale(a *app.Context) {
	jobs, _, _, err := a.Store.ListJobs(store.ListQuery{Filter: "active", Limit: 1000})
	if err != nil {
		a.Logger.Warn("stale reconciliation failed: %v", err)
		return
	}
	for _, j := range jobs {
		if j.Status != domain.StatusDownloading || a.Registry.Contains(j.ExternalID) {
			continue
		}
		stopped := domain.StatusStopped
		speed := 0.0
		if err := a.Store.UpdateJobByExternalID(j.ExternalID, domain.JobPatch{Status: &stopped, Speed: &speed}); err != nil {
			a.Logger.Warn("stale job %s not reconciled: %v", j.ExternalID, err)
			continue
		}
		a.Logger.Info("marked stale job %s as stopped", j.ExternalID)
	}
}

func waitForWorkers(a *app.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for a.Registry.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if n := a.Registry.Len(); n > 0 {
		a.Logger.Warn("%d workers still active at exit", n)
	}
}
