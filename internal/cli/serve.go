package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	mware "github.com/meanishn/platform/internal/middleware"
	"github.com/meanishn/platform/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, the expiry sweeper and the notification processor",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-addr", ":8080", "HTTP API listen address")
	serveCmd.Flags().String("ops-addr", ":9090", "metrics and health listen address")
	serveCmd.Flags().String("kafka-brokers", "", "comma-separated Kafka broker addresses; empty disables the event stream")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().Bool("no-sweeper", false, "do not run the expiry sweeper in this process")

	bindFlag("http_addr", serveCmd.Flags(), "http-addr")
	bindFlag("ops_addr", serveCmd.Flags(), "ops-addr")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if cfg.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := buildApp(initCtx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer a.close(logger)

	telemetry.StartOpsServer(ctx, cfg.OpsAddr, a.ready, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(mware.RequestLogger(logger.Named("http")))
	e.Use(echomw.BodyLimit("1M"))
	a.handler.Register(e, []byte(cfg.JWTSecret), a.hub.RequestWS(a.store))

	noSweeper, _ := cmd.Flags().GetBool("no-sweeper")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutCtx)
	})
	if !noSweeper {
		g.Go(func() error { return a.sweeper.Run(gctx) })
	}
	if a.processor != nil {
		if err := a.processor.Start(); err != nil {
			return fmt.Errorf("notification processor: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			a.processor.Shutdown()
			return nil
		})
	}

	err = g.Wait()
	logger.Info("stopped")
	return err
}
