package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"granix/internal/config"
	"granix/internal/logging"
)

type app struct {
	cfgFile string
	cfg     config.Config
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{log: zap.NewNop()}
	root := &cobra.Command{
		Use:           "granixctl",
		Short:         "Operator tools for the granix delivery pipeline",
		Long:          `Parse manifests and invoices, geocode addresses and optimize stop lists offline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			if a.log, err = logging.New(cfg.Log.Level, "console"); err != nil {
				return err
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default $GRANIX_CONFIG)")
	root.AddCommand(
		a.parseManifestCmd(),
		a.parseInvoiceCmd(),
		a.geocodeCmd(),
		a.optimizeCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
