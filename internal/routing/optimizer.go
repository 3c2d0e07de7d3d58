// Package routing orders geocoded stops into a depot-rooted tour.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"granix/internal/metrics"
	"granix/internal/model"
	"granix/internal/opt"
)

const DefaultDepotAddress = "Mendoza 8895, Rosario, Santa Fe, Argentina"

// ErrDepotUnresolved means the depot address could not be geocoded; no
// route is produced rather than guessing a start point.
var ErrDepotUnresolved = errors.New("routing: depot address could not be geocoded")

type Locator interface {
	Resolve(ctx context.Context, address string) (*model.GeoPoint, error)
}

// StrictLocator is implemented by locators that can skip their fallback
// address. The depot is always resolved strictly when possible.
type StrictLocator interface {
	ResolveStrict(ctx context.Context, address string) (*model.GeoPoint, error)
}

type Config struct {
	DepotAddress  string
	TimeBudget    time.Duration
	MaxIterations int
	MaxStall      int
}

type Optimizer struct {
	geo Locator
	cfg Config
	log *zap.Logger
}

func NewOptimizer(geo Locator, cfg Config, log *zap.Logger) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DepotAddress == "" {
		cfg.DepotAddress = DefaultDepotAddress
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = opt.DefaultTimeBudget
	}
	return &Optimizer{geo: geo, cfg: cfg, log: log}
}

// Optimize geocodes depotAddress (the configured depot when empty) and
// orders the routable stops. Stops without coordinates come back in
// Unrouted. Fewer than two routable stops skip the solver and keep the
// input order.
func (o *Optimizer) Optimize(ctx context.Context, stops []model.Stop, depotAddress string) (model.RouteResult, error) {
	routable, unrouted := split(stops)
	if len(routable) < 2 {
		return model.RouteResult{Stops: routable, Status: model.RouteInsufficientStops, Unrouted: unrouted}, nil
	}
	if depotAddress == "" {
		depotAddress = o.cfg.DepotAddress
	}
	resolve := o.geo.Resolve
	if strict, ok := o.geo.(StrictLocator); ok {
		resolve = strict.ResolveStrict
	}
	depot, err := resolve(ctx, depotAddress)
	if err != nil {
		return model.RouteResult{}, fmt.Errorf("%w: %v", ErrDepotUnresolved, err)
	}
	if depot == nil {
		return model.RouteResult{}, ErrDepotUnresolved
	}
	res := o.OptimizeFrom(ctx, *depot, routable)
	res.Unrouted = unrouted
	return res, nil
}

// OptimizeFrom runs the solver with a known depot location.
func (o *Optimizer) OptimizeFrom(ctx context.Context, depot model.GeoPoint, stops []model.Stop) model.RouteResult {
	routable, unrouted := split(stops)
	if len(routable) < 2 {
		return model.RouteResult{Stops: routable, Status: model.RouteInsufficientStops, Unrouted: unrouted}
	}
	points := make([]model.GeoPoint, 0, len(routable)+1)
	points = append(points, depot)
	for _, s := range routable {
		points = append(points, *s.Coordinates)
	}
	matrix := BuildMatrix(points)
	sol, m := opt.Solve(ctx, opt.Problem{
		Matrix:        matrix,
		TimeBudget:    o.cfg.TimeBudget,
		MaxIterations: o.cfg.MaxIterations,
		MaxStall:      o.cfg.MaxStall,
	})
	metrics.SolverDuration.Observe(m.Elapsed.Seconds())
	metrics.SolverIterations.Observe(float64(m.Iterations))
	o.log.Info("route optimized",
		zap.Int("stops", len(routable)),
		zap.Int("iterations", m.Iterations),
		zap.Int("improvements", m.Improvements),
		zap.Int("initial_m", m.InitialCost),
		zap.Int("best_m", m.BestCost),
		zap.Duration("elapsed", m.Elapsed),
		zap.String("stop_reason", m.StopReason))

	ordered := make([]model.Stop, 0, len(routable))
	for _, node := range sol.Order() {
		ordered = append(ordered, routable[node-1])
	}
	return model.RouteResult{Stops: ordered, Status: model.RouteOptimized, DistanceM: sol.Cost, Unrouted: unrouted}
}

func split(stops []model.Stop) (routable, unrouted []model.Stop) {
	routable = []model.Stop{}
	for _, s := range stops {
		if s.Coordinates == nil || s.Status == model.StatusReviewRequired {
			unrouted = append(unrouted, s)
			continue
		}
		routable = append(routable, s)
	}
	return routable, unrouted
}

// BuildMatrix returns integer haversine meters between every pair.
func BuildMatrix(points []model.GeoPoint) [][]int {
	m := make([][]int, len(points))
	for i, a := range points {
		m[i] = make([]int, len(points))
		for j, b := range points {
			if i != j {
				m[i][j] = int(opt.HaversineMeters(a.Lat, a.Lon, b.Lat, b.Lon))
			}
		}
	}
	return m
}

// TourLength is the closed-tour length in meters from depot through stops
// in the given order and back.
func TourLength(depot model.GeoPoint, stops []model.Stop) int {
	points := []model.GeoPoint{depot}
	for _, s := range stops {
		if s.Coordinates != nil {
			points = append(points, *s.Coordinates)
		}
	}
	tour := make([]int, 0, len(points)+1)
	for i := range points {
		tour = append(tour, i)
	}
	return opt.TourCost(BuildMatrix(points), append(tour, 0))
}
