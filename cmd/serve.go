package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hogarfamiliar/catastro-cli/internal/api"
	"github.com/hogarfamiliar/catastro-cli/internal/metrics"
	"github.com/hogarfamiliar/catastro-cli/internal/monitoring"
)

var (
	servePort          int
	serveCheckInterval time.Duration
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve lookups over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := *cfg
		if servePort != 0 {
			c.Server.Port = servePort
		}
		if err := c.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.NewWithRegistry(reg)

		env, err := initLookup(ctx, &c, m)
		if err != nil {
			return err
		}
		defer env.Close()

		g, gctx := errgroup.WithContext(ctx)

		opts := api.Options{
			CORSOrigins: c.Server.CORSOrigins,
			Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			// Retries on both endpoints plus enrichment must fit.
			Timeout: 3 * c.HTTP.Timeout() * time.Duration(c.HTTP.MaxRetries+1),
		}
		if env.Store != nil {
			checker := monitoring.NewChecker(env.Store, m, serveCheckInterval)
			opts.Health = checker.Healthy
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.Server.Port),
			Handler:           api.NewRouter(env.Service, opts),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			zap.L().Info("starting server",
				zap.Int("port", c.Server.Port),
				zap.Bool("cache", env.Cache.Enabled()),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().DurationVar(&serveCheckInterval, "check-interval", time.Minute, "cache backend health check interval")
	rootCmd.AddCommand(serveCmd)
}
