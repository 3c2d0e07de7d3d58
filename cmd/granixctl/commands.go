package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"granix/internal/geocode"
	"granix/internal/invoice"
	"granix/internal/manifest"
	"granix/internal/model"
	"granix/internal/routing"
)

func (a *app) parseManifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-manifest FILE",
		Short: "Parse recognized manifest text into stops and totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), manifest.NewParser(a.log).Parse(string(text)))
		},
	}
}

func (a *app) parseInvoiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-invoice FILE",
		Short: "Parse recognized invoice text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p := invoice.Parse(string(text))
			out := map[string]any{"invoice": p}
			if p.TotalAmount != nil {
				out["total_formatted"] = invoice.FormatAmount(*p.TotalAmount)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) resolver() *geocode.Resolver {
	g := a.cfg.Geocoder
	backend := geocode.NewNominatim(geocode.NominatimConfig{
		BaseURL:           g.URL,
		UserAgent:         g.UserAgent,
		RequestsPerSecond: g.RequestsPerSecond,
		Timeout:           g.Timeout,
	})
	return geocode.NewResolver(backend, geocode.ResolverConfig{
		City:            g.City,
		CountryCodes:    g.CountryCodes,
		ViewBox:         geocode.ViewBox(g.ViewBox),
		FallbackAddress: g.FallbackAddress,
	}, a.log)
}

func (a *app) geocodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "geocode ADDRESS...",
		Short: "Resolve an address the way the pipeline does",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.resolver()
			addr := strings.Join(args, " ")
			pt, err := r.Resolve(cmd.Context(), addr)
			if err != nil {
				return err
			}
			if pt == nil {
				return fmt.Errorf("%q: no match", addr)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"address": addr, "query": r.Query(addr), "lat": pt.Lat, "lon": pt.Lon})
		},
	}
}

func (a *app) optimizeCmd() *cobra.Command {
	var (
		depotLat, depotLon float64
		budget             time.Duration
	)
	cmd := &cobra.Command{
		Use:   "optimize FILE",
		Short: "Order a JSON array of stops from the depot",
		Long: `Reads a JSON array of stops (delivery_address, coordinates) and prints the
visiting order. Without --depot-lat/--depot-lon the configured depot address
is geocoded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var stops []model.Stop
			if err := json.Unmarshal(raw, &stops); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if budget <= 0 {
				budget = a.cfg.Routing.TimeBudget
			}
			depotSet := cmd.Flags().Changed("depot-lat") || cmd.Flags().Changed("depot-lon")
			if depotSet && !(cmd.Flags().Changed("depot-lat") && cmd.Flags().Changed("depot-lon")) {
				return errors.New("--depot-lat and --depot-lon go together")
			}
			var geo routing.Locator
			if !depotSet {
				geo = a.resolver()
			}
			opt := routing.NewOptimizer(geo, routing.Config{
				DepotAddress:  a.cfg.Routing.DepotAddress,
				TimeBudget:    budget,
				MaxIterations: a.cfg.Routing.MaxIterations,
			}, a.log)

			var res model.RouteResult
			if depotSet {
				res = opt.OptimizeFrom(cmd.Context(), model.GeoPoint{Lat: depotLat, Lon: depotLon}, stops)
			} else if res, err = opt.Optimize(cmd.Context(), stops, ""); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Float64Var(&depotLat, "depot-lat", 0, "depot latitude")
	cmd.Flags().Float64Var(&depotLon, "depot-lon", 0, "depot longitude")
	cmd.Flags().DurationVar(&budget, "budget", 0, "solver time budget (default from config)")
	return cmd
}
