package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"granix/internal/model"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

type NominatimConfig struct {
	BaseURL   string
	UserAgent string
	// RequestsPerSecond throttles outgoing lookups; the public instance
	// allows one per second.
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Nominatim queries an OpenStreetMap Nominatim /search endpoint.
type Nominatim struct {
	base      string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	limiter   *rate.Limiter
}

func NewNominatim(cfg NominatimConfig) *Nominatim {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultNominatimURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "granix-backend/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Nominatim{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		client:    cfg.HTTPClient,
		limiter:   lim,
	}
}

type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (n *Nominatim) Geocode(ctx context.Context, query string, opts Options) (*model.GeoPoint, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("nominatim: rate wait: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	if opts.CountryCodes != "" {
		q.Set("countrycodes", opts.CountryCodes)
	}
	if opts.ViewBox != nil {
		v := opts.ViewBox
		// Nominatim expects lon/lat pairs: x1,y1,x2,y2.
		q.Set("viewbox", fmt.Sprintf("%g,%g,%g,%g", v.West, v.North, v.East, v.South))
		if opts.Bounded {
			q.Set("bounded", "1")
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.base+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("nominatim: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("nominatim: decode: %w", err)
	}
	if len(places) == 0 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim: lat %q: %w", places[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim: lon %q: %w", places[0].Lon, err)
	}
	return &model.GeoPoint{Lat: lat, Lon: lon}, nil
}
