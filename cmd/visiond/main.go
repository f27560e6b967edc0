package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/azaj01/openedai-vision/internal/config"
	"github.com/azaj01/openedai-vision/internal/dispatch"
	"github.com/azaj01/openedai-vision/internal/httpapi"
	"github.com/azaj01/openedai-vision/internal/registry"
	"github.com/azaj01/openedai-vision/internal/vision"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	configPath   string
	modelConfig  string
	addr         string
	defaultModel string
	logLevel     string
	logFormat    string
}

func buildRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "visiond",
		Short:         "OpenAI-compatible vision-language inference daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Service config file (yaml/json/toml)")
	pf.StringVar(&f.modelConfig, "models", "", "Model table file (yaml/json/toml)")
	pf.StringVar(&f.addr, "addr", "", "HTTP listen address (default :5006)")
	pf.StringVar(&f.defaultModel, "default-model", "", "Model used when a request omits the model field")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&f.logFormat, "log-format", "", "Log format: json|console")

	root.AddCommand(buildServeCmd(&f), buildModelsCmd(&f))
	return root
}

// loadConfig merges the config file with flag overrides and defaults.
func loadConfig(f *flags) (config.Config, error) {
	var cfg config.Config
	if f.configPath != "" {
		var err error
		cfg, err = config.Load(f.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	if f.modelConfig != "" {
		cfg.ModelConfig = f.modelConfig
	}
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if f.defaultModel != "" {
		cfg.DefaultModel = f.defaultModel
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.LogFormat = f.logFormat
	}
	if cfg.Addr == "" {
		cfg.Addr = ":5006"
	}
	if cfg.ModelConfig == "" {
		cfg.ModelConfig = "models.yaml"
	}
	return cfg, nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.LogFormat == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func buildServeCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			reg, err := registry.Load(cfg.ModelConfig)
			if err != nil {
				return fmt.Errorf("load model table: %w", err)
			}
			log.Info().Int("models", reg.Len()).Str("path", cfg.ModelConfig).Msg("model table loaded")

			d := dispatch.New(dispatch.Config{
				Registry:      reg,
				DefaultModel:  cfg.DefaultModel,
				MaxQueueDepth: cfg.MaxQueueDepth,
				MaxWait:       time.Duration(cfg.MaxWaitSeconds) * time.Second,
				DrainTimeout:  time.Duration(cfg.DrainSeconds) * time.Second,
				GenTimeout:    time.Duration(cfg.GenTimeoutSecs) * time.Second,
				Vision: vision.Options{
					FetchTimeout:  time.Duration(cfg.FetchTimeoutSecs) * time.Second,
					MaxImageBytes: cfg.MaxImageBytes,
					MaxImages:     cfg.MaxImages,
				},
				Logger: log.With().Str("component", "dispatch").Logger(),
			})
			defer d.Close()

			httpapi.SetLogger(log.With().Str("component", "http").Logger())
			httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
			httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins, cfg.CORSAllowedMethods, cfg.CORSAllowedHeaders)

			baseCtx, stopBase := context.WithCancel(context.Background())
			defer stopBase()
			httpapi.SetBaseContext(baseCtx)

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(d),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Msg("visiond listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			}

			// Cancel in-flight generations, then let the server drain.
			stopBase()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("graceful shutdown")
			}
			return nil
		},
	}
}

func buildModelsCmd(f *flags) *cobra.Command {
	models := &cobra.Command{
		Use:   "models",
		Short: "Inspect the model table",
	}
	models.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the model table and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg.ModelConfig)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d model(s) ok\n", cfg.ModelConfig, reg.Len())
			return nil
		},
	})
	models.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg.ModelConfig)
			if err != nil {
				return err
			}
			for _, e := range reg.Entries() {
				target := e.Endpoint
				if target == "" {
					target = e.Checkpoint
				}
				fmt.Printf("%-24s %-10s %s\n", e.Name, e.Backend, target)
			}
			return nil
		},
	})
	return models
}
