package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/galpt/go-cfer/internal/config"
	"github.com/galpt/go-cfer/internal/routes"
)

type runner interface {
	Import(ctx context.Context, cfg *config.Config) (routes.Summary, error)
	Delete(ctx context.Context, cfg *config.Config) (routes.Summary, error)
}

// newRootCmd wires flags on top of the env-derived cfg. build is called once
// the command line has been parsed and validated.
func newRootCmd(cfg *config.Config, build func(*config.Config) runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "go-cfer",
		Short:         "Sync Cloudflare Email Routing rules with SimpleLogin or Bitwarden aliases",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&cfg.ZoneID, "zone-identifier", "z", cfg.ZoneID, "Cloudflare zone ID (env CLOUDFLARE_ZONE_ID)")
	pf.StringVarP(&cfg.APIToken, "cf-api-key", "k", cfg.APIToken, "Cloudflare API token (env CLOUDFLARE_API_TOKEN)")
	pf.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Print what would change without sending changes to Cloudflare")
	pf.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")

	cmd.AddCommand(newImportCmd(cfg, build), newDeleteCmd(cfg, build))
	return cmd
}

func newImportCmd(cfg *config.Config, build func(*config.Config) runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create forwarding rules for every alias in an export",
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&cfg.ExportPath, "export-path", "e", "", "Path to the export file")
	pf.StringVarP(&cfg.Domain, "domain", "d", "", "Domain the aliases live on")
	pf.StringVarP(&cfg.DestinationAddress, "destination-address", "a", "", "Address every alias forwards to")

	run := func(cmd *cobra.Command, source config.ExportSource) error {
		cfg.Source = source
		if err := cfg.ValidateImport(); err != nil {
			return err
		}
		_, err := build(cfg).Import(cmd.Context(), cfg)
		return err
	}

	sl := &cobra.Command{
		Use:     "simple-login",
		Aliases: []string{"sl"},
		Short:   "Import a SimpleLogin CSV export",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, config.SourceSimpleLogin)
		},
	}

	var format string
	bw := &cobra.Command{
		Use:     "bitwarden",
		Aliases: []string{"bw"},
		Short:   "Import a Bitwarden export",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := config.ParseExportFormat(format)
			if err != nil {
				return err
			}
			cfg.Format = f
			return run(cmd, config.SourceBitwarden)
		},
	}
	bw.Flags().StringVarP(&format, "format", "f", string(config.FormatCSV), "Format of the export file (csv|json)")

	cmd.AddCommand(sl, bw)
	return cmd
}

func newDeleteCmd(cfg *config.Config, build func(*config.Config) runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [route-id...]",
		Short: "Delete routing rules by ID, or all of them except the catch-all",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				cfg.RouteIDs = args
			}
			if err := cfg.ValidateDelete(); err != nil {
				return err
			}
			_, err := build(cfg).Delete(cmd.Context(), cfg)
			return err
		},
	}
	cmd.Flags().BoolVarP(&cfg.DeleteAll, "delete-all", "A", false, "Delete every rule except the catch-all")
	return cmd
}
