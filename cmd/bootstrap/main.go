// Command bootstrap is the custom runtime entry point. It loads the handler
// script, then fetches invocations from the runtime API and runs each one in
// a fresh JavaScript sandbox until it is told to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cryguy/lambdajs/internal/config"
	"github.com/cryguy/lambdajs/internal/lambda"
	"github.com/cryguy/lambdajs/internal/logging"
	"github.com/cryguy/lambdajs/internal/sandbox"
	"github.com/cryguy/lambdajs/internal/tasks"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	handler := fs.String("handler", "", "handler as <file>.<function> (overrides _HANDLER)")
	api := fs.String("api", "", "runtime API address (overrides AWS_LAMBDA_RUNTIME_API)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return lambda.NewConfigurationError("loading configuration", err)
	}
	if *handler != "" {
		cfg.Handler = *handler
	}
	if *api != "" {
		cfg.RuntimeAPI = *api
	}
	if err := cfg.Validate(); err != nil {
		return lambda.NewConfigurationError("invalid configuration", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	logger, err := logging.New(logCfg)
	if err != nil {
		return lambda.NewConfigurationError("creating logger", err)
	}
	defer func() { _ = logger.Sync() }()

	client, err := lambda.NewClient(cfg.RuntimeAPI, lambda.WithAPIVersion(cfg.APIVersion))
	if err != nil {
		return err
	}

	sb, err := initSandbox(ctx, cfg, logger)
	if err != nil {
		logger.Error("initialization failed", zap.Error(err))
		if rerr := client.ReportInitError(ctx, err); rerr != nil {
			logger.Warn("reporting init error", zap.Error(rerr))
		}
		return err
	}

	logger.Info("runtime started",
		zap.String("api", client.Base()),
		zap.String("handler", cfg.Handler),
		zap.String("engine", sb.Engine()))

	rt := lambda.NewRuntime[any, any](client, sb,
		lambda.WithLogger(logger),
		lambda.WithTraceEnv(cfg.ExportTraceID))
	if err := rt.Run(ctx); err != nil {
		var protoErr *lambda.ProtocolError
		if errors.As(err, &protoErr) {
			logger.Error("runtime API failure", zap.String("op", protoErr.Op), zap.Error(protoErr.Err))
		} else {
			logger.Error("runtime stopped", zap.Error(err))
		}
		return err
	}
	logger.Info("runtime stopped")
	return nil
}

// initSandbox loads the handler script and validates it in a throwaway
// session. Every failure is a ConfigurationError.
func initSandbox(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sandbox.Sandbox, error) {
	path, err := cfg.ScriptPath()
	if err != nil {
		return nil, lambda.NewConfigurationError("locating handler script", err)
	}
	script, err := sandbox.LoadScript(path)
	if err != nil {
		return nil, lambda.NewConfigurationError("loading handler script", err)
	}

	sb, err := sandbox.New(cfg.Sandbox.Engine, script, cfg.EntryPoint(),
		sandbox.WithLogger(logger),
		sandbox.WithMemoryLimit(cfg.Sandbox.MemoryLimitMB),
		sandbox.WithTimeout(cfg.Sandbox.Timeout),
		sandbox.WithFetch(tasks.FetchConfig{
			Enabled:          cfg.Fetch.Enabled,
			Timeout:          cfg.Fetch.Timeout,
			MaxResponseBytes: cfg.Fetch.MaxResponseBytes,
		}),
	)
	if err != nil {
		return nil, err
	}
	if err := sb.Validate(ctx); err != nil {
		return nil, err
	}
	return sb, nil
}
