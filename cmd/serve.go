package cmd

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"fieldassist/internal/server"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server exposing /v1/generate, an OpenAI-compatible
/v1/chat/completions endpoint, provider discovery and prometheus metrics.

Examples:
  fieldassist serve --config config.yaml
  fieldassist serve --config config.yaml --port 9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				if port <= 0 || port > 65535 {
					return errors.Newf("port override %d must be a valid TCP port", port)
				}
				cfg.Server.Port = port
			}

			rt, err := bootstrap(cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv, err := server.New(cfg, rt.router, rt.logger, rt.metrics)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server port from configuration")
	return cmd
}
