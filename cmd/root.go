package cmd

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fieldassist/internal/config"
	"fieldassist/internal/credentials"
	"fieldassist/internal/logging"
	"fieldassist/internal/metrics"
	"fieldassist/internal/provider/factory"
	"fieldassist/internal/router"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "fieldassist",
		Short: "AI provider router for the field sales assistant",
		Long: `fieldassist routes text generation requests to a local Ollama instance or
one of several hosted providers, falling back automatically when a provider fails.

Providers, in preference order:
  ollama     local, no API key (probed on development hosts only)
  groq       GROQ_API_KEY
  together   TOGETHER_API_KEY
  gemini     GEMINI_API_KEY
  openai     OPENAI_API_KEY`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to YAML configuration file (defaults apply when omitted)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(flags),
		newGenerateCmd(flags),
		newProvidersCmd(flags),
	)
	return root
}

func loadConfig(flags *rootFlags) (config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, nil
}

// stack is the wired routing stack shared by all subcommands.
type stack struct {
	router  *router.Router
	metrics *metrics.Metrics
	logger  *zap.Logger
	closers []io.Closer
}

func (r *stack) Close() error {
	var errs error
	for _, c := range r.closers {
		errs = errors.CombineErrors(errs, c.Close())
	}
	_ = r.logger.Sync()
	return errs
}

// bootstrap builds logger, credentials, metrics, adapters, prober and router.
// watch enables credential file reloads and is only useful for long-lived
// processes.
func bootstrap(cfg config.Config, watch bool) (*stack, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	rt := &stack{logger: logger, metrics: metrics.New()}

	creds := credentials.Chain{credentials.Env{}}
	if cfg.Credentials.EnvFile != "" {
		file, err := credentials.OpenFile(cfg.Credentials.EnvFile, watch && cfg.Credentials.Watch, logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, file)
		creds = append(creds, file)
	}

	adapters, err := factory.BuildAdapters(cfg, creds)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	prober := factory.NewProber(cfg, logger, rt.metrics)
	selector := router.NewSelector(prober, creds, cfg)

	rt.router, err = router.New(adapters, selector, logger, rt.metrics)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}
