// Package pipeline runs the manifest and invoice flows end to end.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"granix/internal/customer"
	"granix/internal/events"
	"granix/internal/manifest"
	"granix/internal/metrics"
	"granix/internal/model"
	"granix/internal/routing"
	"granix/internal/streetroute"
)

const DefaultWorkers = 4

type CustomerResolver interface {
	ResolveOrCreate(ctx context.Context, address string, f customer.Fields, src customer.Source) (model.Customer, error)
}

type RouteOptimizer interface {
	Optimize(ctx context.Context, stops []model.Stop, depotAddress string) (model.RouteResult, error)
}

type LoadingBuilder interface {
	Build(ctx context.Context, route []model.Stop) ([]model.LoadingEntry, error)
}

type ManifestStore interface {
	CreateStops(ctx context.Context, stops []model.Stop) ([]model.Stop, error)
	SaveDailyRoute(ctx context.Context, date string, r model.DailyRoute) (model.DailyRoute, error)
}

type ManifestDeps struct {
	Parser       *manifest.Parser
	Customers    CustomerResolver
	Store        ManifestStore
	Optimizer    RouteOptimizer
	Loading      LoadingBuilder
	Streets      streetroute.Resolver // optional
	Broker       events.Broker        // optional
	Log          *zap.Logger
	Workers      int
	DepotAddress string // empty uses the optimizer default
}

type ManifestService struct {
	d   ManifestDeps
	now func() time.Time
}

func NewManifestService(d ManifestDeps) *ManifestService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Parser == nil {
		d.Parser = manifest.NewParser(d.Log)
	}
	if d.Broker == nil {
		d.Broker = events.Nop{}
	}
	if d.Workers <= 0 {
		d.Workers = DefaultWorkers
	}
	return &ManifestService{d: d, now: time.Now}
}

type ManifestResult struct {
	ManifestID    string               `json:"manifest_id"`
	RouteDate     string               `json:"route_date"`
	TotalInvoices int                  `json:"total_invoices"`
	TotalRemitos  int                  `json:"total_remitos"`
	TotalPackages int                  `json:"total_packages"`
	Stops         []model.Stop         `json:"stops"`
	Route         model.RouteResult    `json:"route"`
	RouteError    string               `json:"route_error,omitempty"`
	Loading       []model.LoadingEntry `json:"loading_list"`
	Polyline      []model.GeoPoint     `json:"polyline"`
}

// Process parses text, persists one stop per item line and plans the
// route for the stops that could be geocoded. Parsing never fails; errors
// come from persistence or cancellation.
func (s *ManifestService) Process(ctx context.Context, text string) (ManifestResult, error) {
	log := s.d.Log
	parsed := s.d.Parser.Parse(text)
	res := ManifestResult{
		ManifestID:    uuid.NewString(),
		RouteDate:     s.now().Format("2006-01-02"),
		TotalInvoices: parsed.TotalInvoices,
		TotalRemitos:  parsed.TotalRemitos,
		TotalPackages: parsed.TotalPackages,
		Stops:         []model.Stop{},
		Route:         model.RouteResult{Stops: []model.Stop{}, Status: model.RouteInsufficientStops},
		Loading:       []model.LoadingEntry{},
		Polyline:      []model.GeoPoint{},
	}
	if len(parsed.Entries) == 0 {
		log.Info("manifest has no item lines", zap.Int("chars", len(text)))
		return res, nil
	}

	stops := make([]model.Stop, len(parsed.Entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.d.Workers)
	for i, e := range parsed.Entries {
		g.Go(func() error {
			st, err := s.buildStop(gctx, res.ManifestID, e)
			if err != nil {
				return err
			}
			stops[i] = st
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	persisted, err := s.d.Store.CreateStops(ctx, stops)
	if err != nil {
		return res, fmt.Errorf("persist stops: %w", err)
	}
	res.Stops = persisted

	pending := make([]model.Stop, 0, len(persisted))
	for _, st := range persisted {
		metrics.ManifestStops.WithLabelValues(string(st.Status)).Inc()
		if st.Status == model.StatusReviewRequired {
			s.d.Broker.Publish(events.TopicDeliveries, events.Event{Type: events.TypeStopReviewRequired, Data: map[string]any{
				"stop_id":     st.ID,
				"manifest_id": st.ManifestID,
				"address":     st.DeliveryAddress,
				"entity":      st.CommercialEntity,
			}})
			continue
		}
		pending = append(pending, st)
	}

	route, err := s.d.Optimizer.Optimize(ctx, pending, s.d.DepotAddress)
	switch {
	case errors.Is(err, routing.ErrDepotUnresolved):
		log.Error("route skipped", zap.String("manifest_id", res.ManifestID), zap.Error(err))
		res.RouteError = err.Error()
		res.Route = model.RouteResult{Stops: []model.Stop{}, Status: model.RouteSkipped, Unrouted: pending}
		s.publishProcessed(res)
		return res, nil
	case err != nil:
		return res, fmt.Errorf("optimize route: %w", err)
	}
	res.Route = route

	if res.Loading, err = s.d.Loading.Build(ctx, route.Stops); err != nil {
		return res, err
	}
	if s.d.Streets != nil {
		pts := make([]model.GeoPoint, 0, len(route.Stops))
		for _, st := range route.Stops {
			pts = append(pts, *st.Coordinates)
		}
		res.Polyline = s.d.Streets.Route(ctx, pts)
	}

	if len(route.Stops) > 0 {
		s.saveDailyRoute(ctx, res)
	}
	s.publishProcessed(res)
	log.Info("manifest processed",
		zap.String("manifest_id", res.ManifestID),
		zap.Int("stops", len(res.Stops)),
		zap.Int("routed", len(route.Stops)),
		zap.String("route_status", string(route.Status)),
		zap.Int("distance_m", route.DistanceM))
	return res, nil
}

// buildStop resolves the customer for one entry. Geocoding misses and
// outages leave the stop without coordinates; store failures are returned.
func (s *ManifestService) buildStop(ctx context.Context, manifestID string, e manifest.Entry) (model.Stop, error) {
	st := model.Stop{
		ManifestID:           manifestID,
		Type:                 e.Type,
		SourceDocumentNumber: e.DocumentNumber,
		CommercialEntity:     e.CommercialEntity,
		DeliveryAddress:      e.DeliveryAddress,
		PackageCount:         e.PackageCount,
		DeliveryInstructions: e.DeliveryInstructions,
	}
	if e.HasAddress() {
		c, err := s.d.Customers.ResolveOrCreate(ctx, e.DeliveryAddress, customer.Fields{
			CommercialName:       e.CommercialEntity,
			DeliveryInstructions: e.DeliveryInstructions,
		}, customer.SourceManifest)
		switch {
		case errors.Is(err, customer.ErrNoAddress):
			s.d.Log.Warn("customer resolution skipped", zap.String("address", e.DeliveryAddress))
		case err != nil:
			return model.Stop{}, fmt.Errorf("resolve customer for %s: %w", e.DocumentNumber, err)
		default:
			st.CustomerID = c.ID
			st.Coordinates = c.Coordinates
		}
	}
	st.Status = model.StatusFor(st.Coordinates)
	return st, nil
}

func (s *ManifestService) saveDailyRoute(ctx context.Context, res ManifestResult) {
	ids := make([]string, len(res.Route.Stops))
	for i, st := range res.Route.Stops {
		ids[i] = st.ID
	}
	_, err := s.d.Store.SaveDailyRoute(ctx, res.RouteDate, model.DailyRoute{
		Date:         res.RouteDate,
		ManifestID:   res.ManifestID,
		OptimizedIDs: ids,
		Loading:      res.Loading,
		Polyline:     res.Polyline,
		Summary: map[string]int{
			"total_invoices": res.TotalInvoices,
			"total_remitos":  res.TotalRemitos,
			"total_packages": res.TotalPackages,
			"distance_m":     res.Route.DistanceM,
		},
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		s.d.Log.Error("save daily route", zap.String("date", res.RouteDate), zap.Error(err))
	}
}

func (s *ManifestService) publishProcessed(res ManifestResult) {
	s.d.Broker.Publish(events.TopicManifests, events.Event{Type: events.TypeManifestProcessed, Data: map[string]any{
		"manifest_id":  res.ManifestID,
		"stops":        len(res.Stops),
		"routed":       len(res.Route.Stops),
		"route_status": string(res.Route.Status),
		"route_date":   res.RouteDate,
	}})
}
