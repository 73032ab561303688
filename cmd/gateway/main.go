package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/gateway"
	"github.com/irensaltali/serverlessapigateway/internal/logging"
	"github.com/irensaltali/serverlessapigateway/internal/metrics"
	"github.com/irensaltali/serverlessapigateway/internal/proxy"
	"github.com/irensaltali/serverlessapigateway/internal/proxy/auth0"
	"github.com/irensaltali/serverlessapigateway/internal/proxy/supabase"
	"github.com/irensaltali/serverlessapigateway/internal/tracing"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	listen := flag.String("listen", gateway.DefaultServerConfig.Listen, "Gateway listen address")
	admin := flag.String("admin", gateway.DefaultServerConfig.Admin, "Admin listen address (empty disables)")
	configPath := flag.String("config", "api-config.json", "Path to the API configuration file (empty disables)")
	redisAddr := flag.String("redis-addr", "", "Redis address holding the API configuration")
	redisKey := flag.String("redis-key", config.DefaultRedisKey, "Redis key of the API configuration")
	watch := flag.Bool("watch", false, "Reload the configuration file when it changes")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFile := flag.String("log-file", "", "Write logs to a rotated file instead of stderr")
	tracingEndpoint := flag.String("tracing-endpoint", "", "OTLP/gRPC collector address (empty disables tracing)")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Serverless API Gateway %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	logger, err := logging.NewWithOptions(logging.Options{Level: *logLevel, File: *logFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	loader, err := config.NewLoader()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create configuration loader: %v\n", err)
		os.Exit(1)
	}

	sources := config.ChainSource{config.NewEnvSource(loader)}
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer client.Close()
		sources = append(sources, config.NewRedisSource(client, loader, *redisKey))
	}

	var watcher *config.Watcher
	if *configPath != "" {
		if *watch {
			watcher, err = config.NewWatcher(loader, *configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
				os.Exit(1)
			}
			watcher.OnChange(func(cfg *config.APIConfig) {
				logging.Info("API configuration reloaded", zap.Int("routes", len(cfg.Paths)))
			})
			if err := watcher.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to watch configuration: %v\n", err)
				os.Exit(1)
			}
			sources = append(sources, watcher)
		} else {
			sources = append(sources, config.NewFileSource(loader, *configPath))
		}
	}

	if *validateOnly {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cfg, err := sources.Load(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration is valid (%d routes)\n", len(cfg.Paths))
		os.Exit(0)
	}

	transport, err := proxy.NewTransport(proxy.DefaultTransportConfig)
	if err != nil {
		logging.Error("Failed to create transport", zap.Error(err))
		os.Exit(1)
	}
	client := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	collector := metrics.NewCollector()
	gw, err := gateway.New(gateway.Options{
		Source:          sources,
		Transport:       transport,
		Metrics:         collector,
		Auth0Options:    []auth0.Option{auth0.WithHTTPClient(client)},
		SupabaseOptions: []supabase.Option{supabase.WithHTTPClient(client)},
	})
	if err != nil {
		logging.Error("Failed to create gateway", zap.Error(err))
		os.Exit(1)
	}

	ctx := context.Background()
	tracer, err := tracing.New(ctx, tracing.Config{
		Endpoint: *tracingEndpoint,
		Insecure: true,
	})
	if err != nil {
		logging.Error("Failed to initialize tracing", zap.Error(err))
		os.Exit(1)
	}

	logging.Info("Starting Serverless API Gateway",
		zap.String("version", version),
		zap.String("listen", *listen),
		zap.String("admin", *admin),
		zap.String("config", *configPath),
		zap.Bool("watch", *watch),
		zap.Bool("redis", *redisAddr != ""),
		zap.Bool("tracing", tracer.IsEnabled()),
	)

	serverCfg := gateway.DefaultServerConfig
	serverCfg.Listen = *listen
	serverCfg.Admin = *admin

	opts := []gateway.ServerOption{
		gateway.WithMetrics(collector),
		gateway.WithTracer(tracer),
	}
	if watcher != nil {
		opts = append(opts, gateway.WithWatcher(watcher))
	}

	if err := gateway.NewServer(gw, serverCfg, opts...).Run(ctx); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}
