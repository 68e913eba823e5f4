package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fieldassist/internal/models"
	"fieldassist/internal/provider"
)

func newProvidersCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List known providers and which are usable right now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			rt, err := bootstrap(cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			available := rt.router.AvailableProviders(cmd.Context())
			usable := make(map[models.ProviderID]bool, len(available))
			ids := make([]string, 0, len(available))
			for _, id := range available {
				usable[id] = true
				ids = append(ids, string(id))
			}

			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "available: none")
			} else {
				fmt.Fprintf(out, "available: %s\n", strings.Join(ids, ", "))
			}
			fmt.Fprintln(out)

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDEFAULT MODEL\tKEY\tUSABLE")
			for _, id := range provider.PreferenceOrder() {
				info, err := rt.router.ProviderInfo(id)
				if err != nil {
					return err
				}
				key := "-"
				if info.RequiresKey {
					key = cfg.Provider(id).APIKeyEnv
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", info.ID, info.DisplayName, info.DefaultModel, key, usable[id])
			}
			return tw.Flush()
		},
	}
}
