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

	"golang.org/x/sync/errgroup"

	"github.com/epalmerini/burrow/internal/admin"
	"github.com/epalmerini/burrow/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := admin.NewServer(a.engine, a.dialer, a.registry)
	api.Authorize = admin.BearerTokenAuthorizer(a.cfg.Token)
	api.Logger = a.logger
	if a.store != nil {
		api.Audit = a.store
		api.AuditLimit = a.cfg.AuditLimit
	}

	servers := []*http.Server{{
		Addr:              a.cfg.Listen,
		Handler:           admin.WithAccessLog(a.logger.With("component", "admin"), a.adminMux(api)),
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if a.cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(a.gatherer))
		servers = append(servers, &http.Server{
			Addr:              a.cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			a.logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// adminMux mounts the API, a health check and, without a separate metrics
// listener, the Prometheus endpoint.
func (a *app) adminMux(api *admin.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(api.Prefix+"/", api)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if a.cfg.MetricsListen == "" {
		mux.Handle("/metrics", metrics.Handler(a.gatherer))
	}
	return mux
}
