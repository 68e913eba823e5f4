package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fieldassist/internal/logging"
	"fieldassist/internal/models"
	"fieldassist/internal/provider"
)

type generateFlags struct {
	provider    string
	system      string
	temperature float64
	maxTokens   int
}

func newGenerateCmd(root *rootFlags) *cobra.Command {
	flags := &generateFlags{}

	cmd := &cobra.Command{
		Use:   "generate [flags] <prompt...>",
		Short: "Generate a single reply and print it",
		Long: `Send one prompt through the router and print the reply. The provider that
answered is reported on stderr.

Examples:
  fieldassist generate "Write a follow-up text for a hail damage lead"
  fieldassist generate --provider gemini --system "Be concise" "Summarise this inspection"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			var opts models.Options
			if flags.provider != "" {
				id, err := provider.ParseID(flags.provider)
				if err != nil {
					return err
				}
				opts.Provider = id
			}
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = &flags.temperature
			}
			if cmd.Flags().Changed("max-tokens") {
				opts.MaxTokens = &flags.maxTokens
			}

			var messages []models.Message
			if strings.TrimSpace(flags.system) != "" {
				messages = append(messages, models.Message{Role: models.RoleSystem, Content: flags.system})
			}
			messages = append(messages, models.Message{Role: models.RoleUser, Content: strings.Join(args, " ")})

			rt, err := bootstrap(cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := logging.WithRequestID(cmd.Context(), uuid.NewString())
			res, err := rt.router.Generate(ctx, messages, opts)
			if err != nil {
				rt.logger.Error("generate failed", zap.Error(err))
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), res.Content)
			fmt.Fprintf(cmd.ErrOrStderr(), "provider=%s model=%s\n", res.Provider, res.Model)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.provider, "provider", "", "try this provider first (ollama, groq, together, gemini, openai)")
	cmd.Flags().StringVar(&flags.system, "system", "", "system instruction sent before the prompt")
	cmd.Flags().Float64Var(&flags.temperature, "temperature", models.DefaultTemperature, "sampling temperature")
	cmd.Flags().IntVar(&flags.maxTokens, "max-tokens", models.DefaultMaxTokens, "maximum tokens to generate")
	return cmd
}
