package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	weave "github.com/glimte/weave-go"
	"github.com/glimte/weave-go/health"
	"github.com/glimte/weave-go/internal/demo"
	"github.com/glimte/weave-go/transports/rabbitmq"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type serveOptions struct {
	addr    string
	rules   string
	amqpURL string
	verbose bool
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "weave-demo",
		Short:        "Demo HTTP service with woven advice",
		Version:      version,
		SilenceUsage: true,
	}

	opts := serveOptions{}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo API",
		Long: `Serve GET /hi?name=, GET /ping, GET /users/:id, GET /metrics and GET /health.
Advice comes from the embedded rule file unless --rules names another one.
With --amqp-url every completed invocation is published as an audit event.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}

	serveCmd.Flags().StringVarP(&opts.addr, "addr", "a", ":8080", "Listen address")
	serveCmd.Flags().StringVarP(&opts.rules, "rules", "r", "", "YAML rule file, defaults to the embedded rules")
	serveCmd.Flags().StringVar(&opts.amqpURL, "amqp-url", os.Getenv("WEAVE_AMQP_URL"), "RabbitMQ URL for audit events")
	serveCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	return rootCmd
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func newWeaver(opts serveOptions, logger *slog.Logger) (*weave.Weaver, error) {
	w := weave.New(weave.WithLogger(logger))

	if opts.rules == "" {
		if err := demo.Configure(w); err != nil {
			return nil, fmt.Errorf("failed to load embedded rules: %w", err)
		}
		return w, nil
	}

	f, err := os.Open(opts.rules)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules: %w", err)
	}
	defer f.Close()

	if err := w.LoadRules(f); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", opts.rules, err)
	}
	return w, nil
}

// newHealthRegistry checks the rule count, the goroutine count and every
// circuit breaker the rules built
func newHealthRegistry(w *weave.Weaver) *health.Registry {
	checks := health.NewRegistry()
	checks.SetMetadata("version", version)
	checks.Register(health.NewRulesChecker(w.Registry()))
	checks.Register(health.NewRuntimeChecker(500, 1000))
	for _, breaker := range w.Catalog().Breakers() {
		checks.Register(health.NewBreakerChecker(breaker))
	}
	return checks
}

func serve(ctx context.Context, opts serveOptions) error {
	logger := newLogger(opts.verbose)

	w, err := newWeaver(opts, logger)
	if err != nil {
		return err
	}

	checks := newHealthRegistry(w)

	if opts.amqpURL != "" {
		ch, err := rabbitmq.Dial(opts.amqpURL, rabbitmq.DefaultExchange)
		if err != nil {
			return err
		}
		defer ch.Close()

		audit := rabbitmq.NewAuditAdvice(ch, rabbitmq.WithAppID("weave-demo"), rabbitmq.WithLogger(logger))
		if err := w.Intercept("audit", "execution(* demo..*(..))", audit); err != nil {
			return fmt.Errorf("failed to register audit advice: %w", err)
		}
		checks.Register(health.NewAMQPChecker(health.FromAMQPConnection(ch.Connection()), rabbitmq.DefaultExchange))
		logger.Info("audit events enabled", "url", rabbitmq.SanitizeURL(opts.amqpURL), "exchange", rabbitmq.DefaultExchange)
	}

	users := demo.NewMemoryUserService(map[string]string{"1": "John", "2": "Jane"})
	app := demo.NewApp(w, demo.NewUserServiceWoven(users, w), logger)
	app.MountHealth(checks, 5*time.Second)

	server := &http.Server{
		Addr:              opts.addr,
		Handler:           app,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", opts.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
