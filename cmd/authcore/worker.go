package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ofn-labs/authcore/dispatch"
	promexport "github.com/ofn-labs/authcore/metrics/export/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type workerConfig struct {
	printTokens bool
	maxRetries  uint64
}

// NewWorkerCmd creates the worker subcommand.
func NewWorkerCmd() *cobra.Command {
	wc := &workerConfig{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued confirmation and reset instructions",
		Long: `Drain the delivery queue with one worker per shard. Jobs for the same
account are delivered in the order they were queued. Without a mail
transport, deliveries are written to the log; --print-tokens also writes
each token to stdout for local development.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runWorker(cmd.Context(), a, wc, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&wc.printTokens, "print-tokens", false, "write tokens to stdout (development only)")
	cmd.Flags().Uint64Var(&wc.maxRetries, "max-retries", dispatch.DefaultRetryPolicy().MaxRetries, "delivery retries before a job is dead-lettered")

	return cmd
}

func runWorker(ctx context.Context, a *app, wc *workerConfig, out io.Writer) error {
	var deliverer dispatch.Deliverer = dispatch.NewLogDeliverer(a.logger)
	if wc.printTokens {
		deliverer = tokenPrinter(out, deliverer)
	}
	policy := dispatch.DefaultRetryPolicy()
	policy.MaxRetries = wc.maxRetries

	pool := dispatch.NewPool(a.queue, dispatch.NewRetryingDeliverer(deliverer, policy, a.logger), a.logger)

	var srv *http.Server
	if a.cfg.Metrics.Addr != "" {
		listener, err := net.Listen("tcp", a.cfg.Metrics.Addr)
		if err != nil {
			return oops.Code("METRICS_LISTEN_FAILED").With("addr", a.cfg.Metrics.Addr).Wrap(err)
		}
		exporter := promexport.NewExporter(a.engine, promexport.WithQueueDepth(a.queue))
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		a.logger.Info("metrics server started", zap.String("addr", listener.Addr().String()))
	}

	pool.Start(ctx)
	<-ctx.Done()
	pool.Stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return oops.Code("METRICS_SHUTDOWN_FAILED").Wrap(err)
		}
	}
	return nil
}

// tokenPrinter writes one line per delivered job. Shard workers share out.
func tokenPrinter(out io.Writer, next dispatch.Deliverer) dispatch.Deliverer {
	var mu sync.Mutex
	return dispatch.DelivererFunc(func(ctx context.Context, job dispatch.Job) error {
		if err := next.Deliver(ctx, job); err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintf(out, "%s %s %s\n", job.Kind, job.Email, job.Token)
		return err
	})
}
