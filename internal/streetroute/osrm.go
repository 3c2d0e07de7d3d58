// Package streetroute fetches a drivable path through ordered stops for
// map display. Every failure degrades to an empty path.
package streetroute

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	polyline "github.com/twpayne/go-polyline"
	"go.uber.org/zap"

	"granix/internal/model"
)

const DefaultOSRMURL = "http://router.project-osrm.org"

type Resolver interface {
	Route(ctx context.Context, points []model.GeoPoint) []model.GeoPoint
}

type OSRMConfig struct {
	BaseURL    string
	Profile    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OSRM calls the /route/v1 service and decodes the encoded polyline.
type OSRM struct {
	base    string
	profile string
	timeout time.Duration
	client  *http.Client
	log     *zap.Logger
}

func NewOSRM(cfg OSRMConfig, log *zap.Logger) *OSRM {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOSRMURL
	}
	if cfg.Profile == "" {
		cfg.Profile = "driving"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OSRM{base: strings.TrimRight(cfg.BaseURL, "/"), profile: cfg.Profile, timeout: cfg.Timeout, client: cfg.HTTPClient, log: log}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Geometry string  `json:"geometry"`
		Distance float64 `json:"distance"`
	} `json:"routes"`
}

// Route returns an empty, non-nil slice for fewer than two points and on
// any transport or service error.
func (o *OSRM) Route(ctx context.Context, points []model.GeoPoint) []model.GeoPoint {
	empty := []model.GeoPoint{}
	if len(points) < 2 {
		return empty
	}
	path, err := o.route(ctx, points)
	if err != nil {
		o.log.Warn("street route unavailable", zap.Int("points", len(points)), zap.Error(err))
		return empty
	}
	return path
}

func (o *OSRM) route(ctx context.Context, points []model.GeoPoint) ([]model.GeoPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	coords := make([]string, len(points))
	for i, p := range points {
		coords[i] = strconv.FormatFloat(p.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lat, 'f', 6, 64)
	}
	url := fmt.Sprintf("%s/route/v1/%s/%s?overview=full&geometries=polyline", o.base, o.profile, strings.Join(coords, ";"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm: status %d", resp.StatusCode)
	}
	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("osrm: decode: %w", err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return nil, fmt.Errorf("osrm: code %q: %s", body.Code, body.Message)
	}
	decoded, _, err := polyline.DecodeCoords([]byte(body.Routes[0].Geometry))
	if err != nil {
		return nil, fmt.Errorf("osrm: polyline: %w", err)
	}
	out := make([]model.GeoPoint, 0, len(decoded))
	for _, c := range decoded {
		out = append(out, model.GeoPoint{Lat: c[0], Lon: c[1]})
	}
	return out, nil
}
