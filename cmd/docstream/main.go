package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	logrusr "github.com/bombsimon/logrusr/v3"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amrandil/docstream/analysis"
	"github.com/amrandil/docstream/api"
	"github.com/amrandil/docstream/config"
	"github.com/amrandil/docstream/tracing"
)

var (
	configFile     string
	listenAddr     string
	logLevel       int
	enableJaeger   bool
	jaegerEndpoint string
)

func main() {
	if err := RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docstream",
		Short: "Streaming document fraud-analysis service",
	}
	rootCmd.PersistentFlags().IntVar(&logLevel, "verbose", 0, "level for logging output")

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(WatchCmd())
	return rootCmd
}

// newLogger builds the service logger the same way across subcommands.
func newLogger() logr.Logger {
	logrusLog := logrus.New()
	logrusLog.SetOutput(os.Stdout)
	logrusLog.SetFormatter(&logrus.TextFormatter{})
	// Adding 5 here to move logs to info level
	// setting verbose 1 -> V(2) logs show up
	logrusLog.SetLevel(logrus.Level(logLevel + 5))
	return logrusr.New(logrusLog)
}

func ServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming analysis HTTP server",
		RunE: func(c *cobra.Command, args []string) error {
			log := newLogger()

			cfg, err := config.Load(configFile)
			if err != nil {
				log.Error(err, "unable to load configuration")
				return err
			}
			if c.Flags().Changed("addr") {
				cfg.Addr = listenAddr
			}
			if c.Flags().Changed("enable-jaeger") {
				cfg.Jaeger.Enabled = enableJaeger
			}
			if c.Flags().Changed("jaeger-endpoint") {
				cfg.Jaeger.Endpoint = jaegerEndpoint
			}

			tp, err := tracing.InitTracerProvider(log, tracing.Options{
				EnableJaeger:   cfg.Jaeger.Enabled,
				JaegerEndpoint: cfg.Jaeger.Endpoint,
			})
			if err != nil {
				log.Error(err, "unable to initialize tracing")
				return err
			}
			defer tracing.Shutdown(context.Background(), log, tp)

			runnerOpts := []analysis.RunnerOption{analysis.WithLogger(log)}
			if cfg.ContinueOnFileError {
				runnerOpts = append(runnerOpts, analysis.WithContinueOnFileError())
			}
			runner := analysis.NewRunner(runnerOpts...)

			srv := &http.Server{
				Addr:    cfg.Addr,
				Handler: api.New(cfg, runner, log),
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("listening", "addr", cfg.Addr)
				if err := srv.ListenAndServe(); err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if err := g.Wait(); err != nil {
				log.Error(err, "server exited with error")
				return err
			}
			return nil
		},
	}

	serveCmd.Flags().StringVar(&configFile, "config", "", "path to the server config file")
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8080", "listen address for the HTTP API")
	serveCmd.Flags().BoolVar(&enableJaeger, "enable-jaeger", false, "enable tracer exports to jaeger endpoint")
	serveCmd.Flags().StringVar(&jaegerEndpoint, "jaeger-endpoint", "http://localhost:14268/api/traces", "jaeger endpoint to collect tracing data")
	return serveCmd
}
